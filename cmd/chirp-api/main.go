// Package main provides the long-running chirp node: UDP radio
// transport, optional internet bridge, relay engine, message history
// and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/blechirp/chirp-node/pkg/api"
	"github.com/blechirp/chirp-node/pkg/crypto"
	"github.com/blechirp/chirp-node/pkg/mesh"
	"github.com/blechirp/chirp-node/pkg/protocol"
	"github.com/blechirp/chirp-node/pkg/storage"
	"github.com/blechirp/chirp-node/pkg/transport"
)

func main() {
	// Parse command line flags
	listen := flag.String("listen", "0.0.0.0:9470", "UDP listen address")
	bcast := flag.String("bcast", "255.255.255.255:9470", "UDP broadcast address")
	apiPort := flag.Int("api-port", 8080, "HTTP API port")
	room := flag.String("room", "", "Room name (hashed to a topic; overrides -topic)")
	topic := flag.Int("topic", int(protocol.DefaultTopic), "Topic byte (0-255)")
	passphrase := flag.String("passphrase", "", "Room passphrase (empty sends plaintext)")
	ttl := flag.Int("ttl", 3, "Relay hop budget for outbound messages")
	rate := flag.Float64("rate", 2.0, "Transmissions per second")
	dataDir := flag.String("data", "./chirp-data", "Data directory for message history")
	retention := flag.Duration("retention", 7*24*time.Hour, "How long history rows are kept")
	bridgeListen := flag.String("bridge-listen", "", "Bridge listen multiaddr (empty disables the bridge)")
	bridgePeer := flag.String("bridge-peer", "", "Comma-separated bridge peer multiaddrs")
	enableDHT := flag.Bool("dht", false, "Join the DHT for bridge peer discovery")
	bootstrap := flag.String("bootstrap", "", "Comma-separated DHT bootstrap multiaddrs")

	flag.Parse()

	fmt.Println("🐦 Chirp Node")
	fmt.Println("=============")
	fmt.Println()

	if *topic < 0 || *topic > 255 {
		log.Fatalf("Error: -topic must be 0-255, got %d", *topic)
	}
	if *ttl < 0 || *ttl > 255 {
		log.Fatalf("Error: -ttl must be 0-255, got %d", *ttl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the UDP radio transport
	fmt.Printf("📡 Opening UDP transport on %s (broadcast %s)...\n", *listen, *bcast)
	udp, err := transport.NewUDP(*listen, *bcast)
	if err != nil {
		log.Fatalf("Failed to open UDP transport: %v", err)
	}

	tr := transport.Transport(udp)

	// Optional internet bridge between radio islands
	var bridge *transport.Bridge
	if *bridgeListen != "" || *bridgePeer != "" {
		bridgeCfg := transport.BridgeConfig{
			Peers:          splitList(*bridgePeer),
			EnableDHT:      *enableDHT,
			BootstrapPeers: splitList(*bootstrap),
		}
		if *bridgeListen != "" {
			bridgeCfg.ListenAddrs = []string{*bridgeListen}
		}

		fmt.Println("🌉 Starting island bridge...")
		bridge, err = transport.NewBridge(ctx, bridgeCfg)
		if err != nil {
			log.Fatalf("Failed to start bridge: %v", err)
		}
		for _, addr := range bridge.Addrs() {
			fmt.Printf("   %s\n", addr)
		}

		tr = transport.NewMulti(udp, bridge)
	}

	// Open message history
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	dbPath := filepath.Join(*dataDir, "history.db")
	history, err := storage.NewHistory(dbPath, *retention)
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}
	fmt.Printf("📬 Message history at %s (retention: %s)\n", dbPath, *retention)

	// Configure the relay engine
	cfg := mesh.DefaultConfig()
	cfg.Topic = uint8(*topic)
	if *room != "" {
		cfg.Topic = protocol.TopicFromRoom(*room)
	}
	cfg.TTL = uint8(*ttl)
	cfg.Rate = *rate
	cfg.Transport = tr
	cfg.OnMessage = func(topic uint8, msgID protocol.MsgID, text string) {
		log.Printf("[topic %d] #%s: %s", topic, msgID, text)
		if err := history.Record(topic, msgID, text); err != nil {
			log.Printf("Failed to record message: %v", err)
		}
	}

	if *passphrase != "" {
		key := crypto.DeriveKey(*passphrase)
		cfg.Key = &key
		fmt.Println("🔒 Sealed mode: payloads are encrypted")
	}

	engine := mesh.New(cfg)
	engine.Start(ctx)
	fmt.Printf("✓ Relay engine running on topic %d (ttl %d, %.1f tx/s)\n", cfg.Topic, cfg.TTL, cfg.Rate)

	// Start the HTTP API
	apiCfg := api.DefaultConfig()
	apiCfg.Port = *apiPort
	apiCfg.Topic = cfg.Topic
	server := api.NewServer(engine, history, apiCfg)

	go func() {
		if err := server.Start(ctx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("✅ Node is ready!")
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  POST http://localhost:%d/api/v1/messages\n", *apiPort)
	fmt.Printf("  GET  http://localhost:%d/api/v1/messages\n", *apiPort)
	fmt.Printf("  GET  http://localhost:%d/api/v1/status\n", *apiPort)
	fmt.Println()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n🛑 Shutting down...")

	cancel()
	engine.Stop()
	if err := tr.Close(); err != nil {
		log.Printf("Error closing transport: %v", err)
	}
	if err := history.Close(); err != nil {
		log.Printf("Error closing history: %v", err)
	}

	stats := engine.Stats()
	log.Printf("Session: %d delivered, %d relayed, %d received", stats.Delivered, stats.Relayed, stats.FramesReceived)
	fmt.Println("👋 Goodbye!")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
