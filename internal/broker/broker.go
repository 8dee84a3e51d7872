// Package broker runs the publish/subscribe relay: UDP publishers in, framed TCP subscribers out.
//
// A single loop goroutine owns the session registry, the connection table and every socket
// write. Blocking sources (control input, the UDP socket, the TCP listener and one frame reader
// per subscriber) run in their own goroutines and post events to the loop, which processes each
// wake in a fixed order: control, UDP, new connections, subscriber frames.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rs/zerolog"
)

var (
	// ErrNotRunning is returned when the loop is not serving requests
	ErrNotRunning = errors.New("broker is not running")
	// ErrAlreadyStarted is returned when Start or Run is called twice
	ErrAlreadyStarted = errors.New("broker already started")
	// ErrClosed is returned when starting a closed broker
	ErrClosed = errors.New("broker is closed")
)

// peer is one accepted subscriber connection.
type peer struct {
	conn   *net.TCPConn
	remote string
}

// Option customizes a Broker.
type Option func(*Broker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// Broker is the relay. Create it with New, bind with Start, serve with Run.
type Broker struct {
	mu     sync.Mutex
	config *Config
	logger zerolog.Logger

	listener *net.TCPListener
	udp      *net.UDPConn

	// Owned by the loop goroutine.
	registry *session.Registry
	conns    *connset.Set[*peer]
	stats    Stats

	control   chan string
	datagrams chan datagramEvent
	accepts   chan *net.TCPConn
	frames    chan frameEvent
	snapshots chan snapshotRequest
	fatal     chan error

	stop     chan struct{}
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
	ready    chan struct{}
	readers  sync.WaitGroup

	started   bool
	running   atomic.Bool
	closed    bool
	startedAt time.Time
}

// New creates a broker with the given configuration. It does not open any socket.
func New(config *Config, opts ...Option) (*Broker, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Broker{
		config:    &cfg,
		logger:    zerolog.Nop(),
		registry:  session.NewRegistry(cfg.MaxIdentityLen, cfg.MaxTopicLen),
		conns:     connset.New[*peer](),
		control:   make(chan string),
		datagrams: make(chan datagramEvent),
		accepts:   make(chan *net.TCPConn),
		frames:    make(chan frameEvent),
		snapshots: make(chan snapshotRequest),
		fatal:     make(chan error, 2),
		stop:      make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start binds the UDP socket and the TCP listener. Failures here are fatal for the process.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.listener != nil {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	addr := b.config.Address()

	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("bind UDP %s: %w", addr, err)
	}
	ln, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		pc.Close()
		return fmt.Errorf("listen TCP %s: %w", addr, err)
	}

	b.udp = pc.(*net.UDPConn)
	b.listener = ln.(*net.TCPListener)
	b.logger.Info().
		Str("tcp", b.listener.Addr().String()).
		Str("udp", b.udp.LocalAddr().String()).
		Msg("broker listening")
	return nil
}

// Addr returns the TCP listen address, or nil before Start.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// UDPAddr returns the bound UDP address, or nil before Start.
func (b *Broker) UDPAddr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.udp == nil {
		return nil
	}
	return b.udp.LocalAddr()
}

// Ready is closed once Run has started its loop.
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

// Running reports whether the loop is serving.
func (b *Broker) Running() bool {
	return b.running.Load()
}

// Run serves until the shutdown token is read from control, ctx is cancelled, Close is called,
// or a socket the broker cannot live without fails. control may be nil. Only the last case
// returns an error.
func (b *Broker) Run(ctx context.Context, control io.Reader) error {
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrClosed
	case b.listener == nil:
		b.mu.Unlock()
		return ErrNotRunning
	case b.started:
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.startedAt = time.Now()
	b.mu.Unlock()

	if control != nil {
		go b.readControl(control)
	}
	b.readers.Add(2)
	go b.readDatagrams()
	go b.acceptConns()

	b.running.Store(true)
	close(b.ready)
	b.logger.Info().Msg("broker running")

	err := b.loop(ctx)

	b.running.Store(false)
	b.teardown()
	close(b.done)
	return err
}

// Close stops a running loop and releases every socket. It is safe to call more than once.
func (b *Broker) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if started {
		<-b.done
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.closeSockets()
	return nil
}

// teardown runs on the loop goroutine after the loop exits.
func (b *Broker) teardown() {
	close(b.quit)

	b.mu.Lock()
	b.closeSockets()
	b.mu.Unlock()

	b.conns.Each(func(h connset.Handle, p *peer) {
		p.conn.Close()
		b.conns.Remove(h)
	})
	b.registry.Close()

	// Readers exit once their sockets are closed; the control reader may be parked on a
	// terminal read and is not waited for.
	b.readers.Wait()
	b.logger.Info().Msg("broker stopped")
}

func (b *Broker) closeSockets() {
	if b.listener != nil {
		b.listener.Close()
	}
	if b.udp != nil {
		b.udp.Close()
	}
}

// Snapshot returns a consistent copy of sessions and counters, taken on the loop goroutine.
func (b *Broker) Snapshot(ctx context.Context) (*Snapshot, error) {
	if !b.Running() {
		return nil, ErrNotRunning
	}
	req := snapshotRequest{reply: make(chan *Snapshot, 1)}
	select {
	case b.snapshots <- req:
	case <-b.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-b.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func addrString(a netip.AddrPort) string {
	return fmt.Sprintf("%s:%d", a.Addr().Unmap(), a.Port())
}
