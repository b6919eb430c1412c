// Package mesh implements the chirp relay engine: duplicate
// suppression, chunk reassembly, TTL-bounded flood relay and the
// token-bucket transmission scheduler.
//
// One engine owns all mutable relay state for a session. The receive
// path (transport observation -> decode -> dedup -> reassemble ->
// relay enqueue) never blocks on radio I/O or on outbound capacity;
// relay transmissions are queued and paced independently.
package mesh

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/blechirp/chirp-node/pkg/crypto"
	"github.com/blechirp/chirp-node/pkg/protocol"
	"github.com/blechirp/chirp-node/pkg/transport"
)

// Config holds engine configuration
type Config struct {
	// Topic for outbound messages
	Topic uint8

	// TopicFilter restricts reception to one topic; nil receives all
	TopicFilter *uint8

	// TTL is the hop budget stamped on outbound messages
	TTL uint8

	// Key enables sealed payloads; nil runs the session in plaintext.
	// The mode is fixed for the engine's lifetime.
	Key *crypto.Key

	// Relay re-broadcasts fresh frames; disabling it still receives
	Relay bool

	// Rate is the token refill rate in transmissions per second
	Rate float64

	// Burst caps the bucket; zero means max(Rate, 1)
	Burst float64

	// RelayQueueSize bounds queued-but-unsent relay frames
	RelayQueueSize int

	// RelayBackoffMin/Max bound the random delay before re-advertising
	// a relayed frame, desynchronising neighbouring relays
	RelayBackoffMin time.Duration
	RelayBackoffMax time.Duration

	// ReassemblyTimeout evicts partial messages with no new chunks
	ReassemblyTimeout time.Duration

	// MaxPartialMessages caps concurrently open message identities
	MaxPartialMessages int

	// SeenCapacity bounds the duplicate-suppression set
	SeenCapacity int

	// Clock is injected for deterministic tests; nil uses wall time
	// (monotonic, via time.Time's monotonic reading)
	Clock clock.Clock

	// Transport carries frames on and off the air
	Transport transport.Transport

	// OnMessage receives every completed, decrypted message
	OnMessage func(topic uint8, msgID protocol.MsgID, text string)
}

// DefaultConfig returns the defaults used by the CLI and API node.
func DefaultConfig() Config {
	return Config{
		Topic:              protocol.DefaultTopic,
		TTL:                3,
		Relay:              true,
		Rate:               2.0,
		RelayQueueSize:     64,
		RelayBackoffMin:    100 * time.Millisecond,
		RelayBackoffMax:    500 * time.Millisecond,
		ReassemblyTimeout:  30 * time.Second,
		MaxPartialMessages: 256,
		SeenCapacity:       2048,
	}
}

// Stats is a snapshot of the engine's counters.
type Stats struct {
	FramesReceived uint64 // valid frames decoded off the air
	FramesIgnored  uint64 // not ours, malformed, or filtered topic
	AuthFailures   uint64 // sealed chunks that failed to open
	Delivered      uint64 // complete messages handed to the consumer
	Relayed        uint64 // frames re-advertised
	RelayDropped   uint64 // relay copies dropped by queue or bucket
	Expired        uint64 // partial messages evicted by inactivity
}

// Engine owns the seen-set, the reassembly table and the token bucket
// for one running session.
type Engine struct {
	cfg    Config
	clk    clock.Clock
	seen   *seenSet
	reasm  *reassembler
	bucket *TokenBucket

	relayq chan *protocol.Frame

	mu    sync.Mutex
	stats Stats

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an engine from cfg, filling zero values from
// DefaultConfig. The transport is required; a nil one panics here
// rather than in a background loop later.
func New(cfg Config) *Engine {
	if cfg.Transport == nil {
		panic("mesh: Config.Transport is required")
	}

	def := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.RelayQueueSize <= 0 {
		cfg.RelayQueueSize = def.RelayQueueSize
	}
	if cfg.ReassemblyTimeout <= 0 {
		cfg.ReassemblyTimeout = def.ReassemblyTimeout
	}
	if cfg.MaxPartialMessages <= 0 {
		cfg.MaxPartialMessages = def.MaxPartialMessages
	}
	if cfg.SeenCapacity <= 0 {
		cfg.SeenCapacity = def.SeenCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Engine{
		cfg:    cfg,
		clk:    cfg.Clock,
		seen:   newSeenSet(cfg.SeenCapacity, cfg.Clock),
		reasm:  newReassembler(cfg.MaxPartialMessages, cfg.ReassemblyTimeout, cfg.Clock),
		bucket: NewTokenBucket(cfg.Rate, cfg.Burst, cfg.Clock),
		relayq: make(chan *protocol.Frame, cfg.RelayQueueSize),
	}
}

// Start launches the receive, relay and sweep loops. They run until
// Stop or ctx cancellation; queued-but-unsent relay frames are dropped
// on shutdown.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(3)
	go e.receiveLoop(ctx)
	go e.relayLoop(ctx)
	go e.sweepLoop(ctx)
}

// Stop shuts the engine down and waits for its loops to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
	})
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Send chunks, seals, encodes and advertises one outbound message.
// It fails fast with protocol.ErrMessageTooLarge before anything is
// transmitted; transport errors propagate to the caller, identifying
// the failed chunk. The token bucket paces each chunk.
func (e *Engine) Send(ctx context.Context, text string) error {
	tr := e.cfg.Transport

	chunks, err := protocol.Split([]byte(text), protocol.MaxChunkPayload(e.cfg.Key != nil))
	if err != nil {
		return err
	}

	msgID, err := protocol.GenerateMsgID()
	if err != nil {
		return fmt.Errorf("generate msg_id: %w", err)
	}

	// Our own frames must never be relayed back by us if the
	// transport echoes them.
	e.seen.record(identity{topic: e.cfg.Topic, msgID: msgID}, e.cfg.TTL)

	tot := uint8(len(chunks))
	for i, chunk := range chunks {
		if err := e.bucket.Acquire(ctx); err != nil {
			return err
		}

		payload := chunk
		if e.cfg.Key != nil {
			payload, err = crypto.Seal(*e.cfg.Key, msgID, uint8(i), chunk)
			if err != nil {
				return fmt.Errorf("seal chunk %d/%d: %w", i+1, tot, err)
			}
		}

		f := &protocol.Frame{
			Topic:   e.cfg.Topic,
			TTL:     e.cfg.TTL,
			MsgID:   msgID,
			Seq:     uint8(i),
			Tot:     tot,
			Payload: payload,
		}
		if err := tr.Advertise(ctx, f.Encode()); err != nil {
			return fmt.Errorf("advertise chunk %d/%d: %w", i+1, tot, err)
		}
	}

	return nil
}

// HandleAdvertisement processes one observed advertisement. It is the
// whole receive path and never blocks: frames that are not ours are
// dropped silently, and a relay copy that finds the queue full is
// dropped rather than awaited. Safe for concurrent use.
func (e *Engine) HandleAdvertisement(raw []byte) {
	f, err := protocol.Decode(raw)
	if err != nil {
		e.count(func(s *Stats) { s.FramesIgnored++ })
		return
	}

	if e.cfg.TopicFilter != nil && f.Topic != *e.cfg.TopicFilter {
		e.count(func(s *Stats) { s.FramesIgnored++ })
		return
	}

	e.count(func(s *Stats) { s.FramesReceived++ })

	id := identity{topic: f.Topic, msgID: f.MsgID}

	// Relay decision first: it depends only on the sealed frame, so a
	// node without the passphrase still extends range.
	if e.seen.observe(id, f.TTL) && e.cfg.Relay && f.TTL > 0 {
		e.enqueueRelay(f)
	}

	// A node in range of both the originator and a relay hears every
	// chunk set at least twice. Once the message has been delivered,
	// late copies must not re-open a reassembly entry and deliver it
	// again.
	if e.seen.isDelivered(id) {
		return
	}

	payload := f.Payload
	if e.cfg.Key != nil {
		payload, err = crypto.Open(*e.cfg.Key, f.MsgID, f.Seq, f.Payload)
		if err != nil {
			// Indistinguishable from noise or a foreign room; the
			// chunk is discarded, the rest of the message unaffected.
			e.count(func(s *Stats) { s.AuthFailures++ })
			return
		}
	}

	msg, err := e.reasm.add(id, f.Seq, f.Tot, payload)
	if err != nil {
		e.count(func(s *Stats) { s.FramesIgnored++ })
		return
	}
	if msg == nil {
		return
	}

	e.seen.markDelivered(id)
	e.count(func(s *Stats) { s.Delivered++ })
	if e.cfg.OnMessage != nil {
		e.cfg.OnMessage(f.Topic, f.MsgID, string(msg))
	}
}

// enqueueRelay queues a TTL-decremented copy for the relay loop.
// Drop-newest under overload: a full queue rejects the incoming copy
// so the receive path never waits.
func (e *Engine) enqueueRelay(f *protocol.Frame) {
	cp := *f
	cp.TTL--

	select {
	case e.relayq <- &cp:
	default:
		e.count(func(s *Stats) { s.RelayDropped++ })
	}
}

func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()

	obs := e.cfg.Transport.Observations()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-obs:
			if !ok {
				return
			}
			e.HandleAdvertisement(raw)
		}
	}
}

// relayLoop paces queued relay frames: a short random backoff first so
// overlapping relays desynchronise, then a non-blocking token check.
// No token means the copy is dropped; another relay will carry it.
func (e *Engine) relayLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-e.relayq:
			if d := e.relayBackoff(); d > 0 {
				t := e.clk.Timer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}

			if !e.bucket.TryAcquire() {
				e.count(func(s *Stats) { s.RelayDropped++ })
				continue
			}

			if err := e.cfg.Transport.Advertise(ctx, f.Encode()); err != nil {
				// Relay failures never reach the receive path.
				log.Printf("relay advertise failed: %v", err)
				e.count(func(s *Stats) { s.RelayDropped++ })
				continue
			}
			e.count(func(s *Stats) { s.Relayed++ })
		}
	}
}

// sweepLoop periodically expires partial messages.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	tick := e.clk.Ticker(e.cfg.ReassemblyTimeout / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := e.reasm.sweep(); n > 0 {
				e.count(func(s *Stats) { s.Expired += uint64(n) })
			}
		}
	}
}

func (e *Engine) relayBackoff() time.Duration {
	min, max := e.cfg.RelayBackoffMin, e.cfg.RelayBackoffMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func (e *Engine) count(f func(*Stats)) {
	e.mu.Lock()
	f(&e.stats)
	e.mu.Unlock()
}
