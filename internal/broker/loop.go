package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/pkg/wire"
)

type datagramEvent struct {
	data []byte
	from netip.AddrPort
}

// frameEvent carries one frame read from a subscriber, or the error that ended its stream.
type frameEvent struct {
	conn  connset.Handle
	frame wire.Frame
	err   error
}

type snapshotRequest struct {
	reply chan *Snapshot
}

// wake is everything gathered for one pass of the loop.
type wake struct {
	stop      bool
	fatal     error
	control   *string
	datagram  *datagramEvent
	accept    *net.TCPConn
	frames    []frameEvent
	snapshots []snapshotRequest
}

func (b *Broker) loop(ctx context.Context) error {
	for {
		w := b.wait(ctx)
		if w.fatal != nil {
			b.logger.Error().Err(w.fatal).Msg("fatal socket error")
			return w.fatal
		}
		if w.stop {
			return nil
		}
		if b.process(w) {
			return nil
		}
	}
}

// wait blocks until at least one source is ready, then collects what else is already pending:
// at most one control line, one datagram and one new connection, and up to one frame per live
// subscriber.
func (b *Broker) wait(ctx context.Context) wake {
	var w wake
	select {
	case <-ctx.Done():
		w.stop = true
		return w
	case <-b.stop:
		w.stop = true
		return w
	case err := <-b.fatal:
		w.fatal = err
		return w
	case line := <-b.control:
		w.control = &line
	case d := <-b.datagrams:
		w.datagram = &d
	case c := <-b.accepts:
		w.accept = c
	case f := <-b.frames:
		w.frames = append(w.frames, f)
	case r := <-b.snapshots:
		w.snapshots = append(w.snapshots, r)
	}

	if w.control == nil {
		select {
		case line := <-b.control:
			w.control = &line
		default:
		}
	}
	if w.datagram == nil {
		select {
		case d := <-b.datagrams:
			w.datagram = &d
		default:
		}
	}
	if w.accept == nil {
		select {
		case c := <-b.accepts:
			w.accept = c
		default:
		}
	}
drain:
	for len(w.frames) < b.conns.Len() {
		select {
		case f := <-b.frames:
			w.frames = append(w.frames, f)
		default:
			break drain
		}
	}
	if len(w.snapshots) == 0 {
		select {
		case r := <-b.snapshots:
			w.snapshots = append(w.snapshots, r)
		default:
		}
	}
	return w
}

// process handles one wake and reports whether the shutdown token was read.
func (b *Broker) process(w wake) bool {
	if w.control != nil {
		if *w.control == b.config.ShutdownToken {
			b.logger.Info().Msg("shutdown requested")
			return true
		}
		b.logger.Warn().Str("input", *w.control).
			Msgf("only %q is supported", b.config.ShutdownToken)
	}
	if w.datagram != nil {
		b.handleDatagram(*w.datagram)
	}
	if w.accept != nil {
		b.handleAccept(w.accept)
	}
	for _, f := range w.frames {
		b.handleFrame(f)
	}
	for _, r := range w.snapshots {
		r.reply <- b.snapshot()
	}
	return false
}

func (b *Broker) readControl(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		select {
		case b.control <- line:
		case <-b.quit:
			return
		}
	}
	if err := sc.Err(); err != nil {
		b.logger.Warn().Err(err).Msg("control input failed")
		return
	}
	b.logger.Debug().Msg("control input closed")
}

func (b *Broker) readDatagrams() {
	defer b.readers.Done()

	buf := make([]byte, b.config.MaxDatagramSize)
	for {
		n, from, err := b.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.raise(fmt.Errorf("read UDP: %w", err))
			return
		}
		d := datagramEvent{data: append([]byte(nil), buf[:n]...), from: from}
		select {
		case b.datagrams <- d:
		case <-b.quit:
			return
		}
	}
}

func (b *Broker) acceptConns() {
	defer b.readers.Done()

	for {
		c, err := b.listener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.raise(fmt.Errorf("accept: %w", err))
			return
		}
		select {
		case b.accepts <- c:
		case <-b.quit:
			c.Close()
			return
		}
	}
}

// readFrames feeds one subscriber's frames to the loop until its stream ends.
func (b *Broker) readFrames(h connset.Handle, c net.Conn) {
	defer b.readers.Done()

	for {
		f, err := wire.ReadFrame(c)
		select {
		case b.frames <- frameEvent{conn: h, frame: f, err: err}:
		case <-b.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Broker) raise(err error) {
	select {
	case b.fatal <- err:
	default:
	}
}
