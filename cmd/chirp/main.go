// Command chirp is the terminal client: send a message, listen for
// messages, or hold a line-oriented chat over the local broadcast
// medium. No accounts, no servers, no pairing.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blechirp/chirp-node/pkg/crypto"
	"github.com/blechirp/chirp-node/pkg/mesh"
	"github.com/blechirp/chirp-node/pkg/protocol"
	"github.com/blechirp/chirp-node/pkg/transport"
)

const (
	defaultListen = "0.0.0.0:9470"
	defaultBcast  = "255.255.255.255:9470"
)

// nodeFlags are shared by every subcommand.
type nodeFlags struct {
	room       *string
	topic      *int
	passphrase *string
	ttl        *int
	rate       *float64
	listen     *string
	bcast      *string
	relay      *bool
}

func addNodeFlags(fs *flag.FlagSet) *nodeFlags {
	return &nodeFlags{
		room:       fs.String("room", "", "Room name (hashed to a topic; overrides -topic)"),
		topic:      fs.Int("topic", int(protocol.DefaultTopic), "Topic byte (0-255)"),
		passphrase: fs.String("passphrase", "", "Room passphrase (empty sends plaintext)"),
		ttl:        fs.Int("ttl", 3, "Relay hop budget for outbound messages"),
		rate:       fs.Float64("rate", 2.0, "Transmissions per second"),
		listen:     fs.String("listen", defaultListen, "UDP listen address"),
		bcast:      fs.String("bcast", defaultBcast, "UDP broadcast address"),
		relay:      fs.Bool("relay", true, "Relay messages for others"),
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "tx":
		runTx(os.Args[2:])
	case "rx":
		runRx(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: chirp <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  tx    Send one message and exit")
	fmt.Fprintln(os.Stderr, "  rx    Print received messages until interrupted")
	fmt.Fprintln(os.Stderr, "  chat  Interactive chat: stdin lines out, messages in")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'chirp <command> -h' for command flags.")
}

// buildConfig turns parsed flags into an engine config. The returned
// topic is also used for the receive filter.
func buildConfig(nf *nodeFlags) mesh.Config {
	if *nf.topic < 0 || *nf.topic > 255 {
		log.Fatalf("Error: -topic must be 0-255, got %d", *nf.topic)
	}
	if *nf.ttl < 0 || *nf.ttl > 255 {
		log.Fatalf("Error: -ttl must be 0-255, got %d", *nf.ttl)
	}

	cfg := mesh.DefaultConfig()
	cfg.Topic = uint8(*nf.topic)
	if *nf.room != "" {
		cfg.Topic = protocol.TopicFromRoom(*nf.room)
	}
	topic := cfg.Topic
	cfg.TopicFilter = &topic
	cfg.TTL = uint8(*nf.ttl)
	cfg.Rate = *nf.rate
	cfg.Relay = *nf.relay

	if *nf.passphrase != "" {
		key := crypto.DeriveKey(*nf.passphrase)
		cfg.Key = &key
	}

	return cfg
}

// startNode opens the UDP transport and starts an engine over it.
// The caller must call the returned stop function.
func startNode(cfg mesh.Config, nf *nodeFlags) (*mesh.Engine, func()) {
	udp, err := transport.NewUDP(*nf.listen, *nf.bcast)
	if err != nil {
		log.Fatalf("Failed to open UDP transport: %v", err)
	}
	cfg.Transport = udp

	engine := mesh.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	stop := func() {
		cancel()
		engine.Stop()
		if err := udp.Close(); err != nil {
			log.Printf("Error closing transport: %v", err)
		}
	}
	return engine, stop
}

func runTx(args []string) {
	fs := flag.NewFlagSet("chirp tx", flag.ExitOnError)
	nf := addNodeFlags(fs)
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		log.Fatal("Error: nothing to send (usage: chirp tx [flags] <message>)")
	}

	cfg := buildConfig(nf)
	engine, stop := startNode(cfg, nf)
	defer stop()

	if err := engine.Send(context.Background(), text); err != nil {
		log.Fatalf("Send failed: %v", err)
	}

	log.Printf("✓ Sent %d bytes on topic %d", len(text), cfg.Topic)
}

func runRx(args []string) {
	fs := flag.NewFlagSet("chirp rx", flag.ExitOnError)
	nf := addNodeFlags(fs)
	fs.Parse(args)

	cfg := buildConfig(nf)
	cfg.OnMessage = func(topic uint8, msgID protocol.MsgID, text string) {
		fmt.Printf("[topic %d] #%s: %s\n", topic, msgID, text)
	}

	_, stop := startNode(cfg, nf)
	defer stop()

	log.Printf("✓ Listening on topic %d (%s)", cfg.Topic, *nf.listen)
	if cfg.Key != nil {
		log.Println("✓ Sealed mode: only matching passphrases are readable")
	}

	waitForSignal()
	log.Println("Shutting down...")
}

func runChat(args []string) {
	fs := flag.NewFlagSet("chirp chat", flag.ExitOnError)
	nf := addNodeFlags(fs)
	fs.Parse(args)

	cfg := buildConfig(nf)
	cfg.OnMessage = func(topic uint8, msgID protocol.MsgID, text string) {
		fmt.Printf("[topic %d] #%s: %s\n", topic, msgID, text)
	}

	engine, stop := startNode(cfg, nf)
	defer stop()

	log.Printf("✓ Chatting on topic %d. Type a line to send, Ctrl+D to quit.", cfg.Topic)

	// Sends happen on the main goroutine so a Ctrl+D exit never races
	// an in-flight Send.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				log.Println("Goodbye! 👋")
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := engine.Send(context.Background(), line); err != nil {
				log.Printf("Send failed: %v", err)
			}
		case <-sigCh:
			fmt.Println()
			log.Println("Goodbye! 👋")
			return
		}
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()
}
