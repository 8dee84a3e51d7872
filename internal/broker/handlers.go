package broker

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rmacdonaldsmith/topicrelay/pkg/datagram"
	"github.com/rmacdonaldsmith/topicrelay/pkg/wire"
)

func (b *Broker) handleDatagram(d datagramEvent) {
	b.stats.DatagramsReceived++

	name, text, err := datagram.Render(d.data, d.from)
	if err != nil {
		b.stats.DatagramsDropped++
		b.logger.Warn().Err(err).
			Str("from", addrString(d.from)).
			Str("topic", name).
			Msg("dropping datagram")
		return
	}
	b.publish(name, text)
}

func (b *Broker) handleAccept(c *net.TCPConn) {
	if err := c.SetNoDelay(true); err != nil {
		b.logger.Warn().Err(err).Msg("disable Nagle")
	}
	p := &peer{conn: c, remote: c.RemoteAddr().String()}
	h := b.conns.Add(p)
	b.stats.ConnectionsAccepted++

	b.readers.Add(1)
	go b.readFrames(h, c)
	b.logger.Debug().Str("conn", h.String()).Str("remote", p.remote).Msg("connection accepted")
}

func (b *Broker) handleFrame(ev frameEvent) {
	p, ok := b.conns.Get(ev.conn)
	if !ok {
		// removed earlier in this pass
		return
	}
	if ev.err != nil {
		b.drop(ev.conn, ev.err)
		return
	}

	payload := cstring(ev.frame.Payload)
	sess, admitted := b.registry.LookupByConn(ev.conn)

	switch ev.frame.Command {
	case wire.ConnectReq:
		if admitted {
			b.logger.Warn().Str("identity", sess.Identity()).Msg("repeated connect request ignored")
			return
		}
		b.admit(ev.conn, p, payload)

	case wire.SubscribeReq, wire.UnsubscribeReq:
		if !admitted {
			b.logger.Warn().Str("conn", ev.conn.String()).Str("remote", p.remote).
				Stringer("command", ev.frame.Command).
				Msg("request before connect, closing")
			b.drop(ev.conn, nil)
			return
		}
		b.subscription(ev.conn, p, sess, ev.frame.Command, payload)

	default:
		b.logger.Warn().Str("conn", ev.conn.String()).
			Stringer("command", ev.frame.Command).
			Msg("unexpected command ignored")
	}
}

// admit answers a CONNECT_REQ. Denied and invalid connections are closed after the reply.
func (b *Broker) admit(h connset.Handle, p *peer, identity string) {
	req := session.Request{Identity: identity, Conn: h, Remote: p.remote}
	d, err := b.registry.Admit(req, func(d session.Decision) error {
		cmd := wire.ConnectDenied
		if d.Admitted() {
			cmd = wire.ConnectAccepted
		}
		return b.send(p, cmd, nil)
	})
	if err != nil {
		b.drop(h, err)
		return
	}

	log := b.logger.With().Str("identity", identity).Str("remote", p.remote).Logger()
	switch d {
	case session.Accepted:
		b.stats.AdmissionsAccepted++
		log.Info().Msgf("New client %s connected from %s.", identity, p.remote)
	case session.Resumed:
		b.stats.AdmissionsResumed++
		log.Info().Msgf("New client %s connected from %s.", identity, p.remote)
	case session.Denied:
		b.stats.AdmissionsDenied++
		log.Info().Msgf("Client %s already connected.", identity)
		b.release(h)
	case session.Invalid:
		b.stats.AdmissionsDenied++
		log.Warn().Int("limit", b.config.MaxIdentityLen).Msg("invalid identity")
		b.release(h)
	}
}

func (b *Broker) subscription(h connset.Handle, p *peer, s *session.Session, cmd wire.Command, raw string) {
	var err error
	reply := wire.SubscribeSucc
	if cmd == wire.SubscribeReq {
		if err = b.registry.Subscribe(h, raw); err != nil {
			reply = wire.SubscribeFail
		} else {
			b.stats.Subscribes++
		}
	} else {
		reply = wire.UnsubscribeSucc
		if err = b.registry.Unsubscribe(h, raw); err != nil {
			reply = wire.UnsubscribeFail
		} else {
			b.stats.Unsubscribes++
		}
	}

	b.logger.Debug().Err(err).
		Str("identity", s.Identity()).
		Str("topic", raw).
		Stringer("reply", reply).
		Msg("subscription request")

	if err := b.send(p, reply, nil); err != nil {
		b.drop(h, err)
	}
}

// drop ends a subscriber connection after a read or write failure. The session, if any, stays
// in the registry with its subscriptions.
func (b *Broker) drop(h connset.Handle, cause error) {
	if s, ok := b.registry.Disconnect(h); ok {
		log := b.logger.Info()
		if cause != nil && !errors.Is(cause, wire.ErrClosed) {
			log = b.logger.Warn().Err(cause)
		}
		log.Str("identity", s.Identity()).Msgf("Client %s disconnected.", s.Identity())
	} else if cause != nil && !errors.Is(cause, wire.ErrClosed) {
		b.logger.Warn().Err(cause).Str("conn", h.String()).Msg("connection failed")
	}
	b.release(h)
}

// release closes h and frees its slot without touching the registry.
func (b *Broker) release(h connset.Handle) {
	p, ok := b.conns.Remove(h)
	if !ok {
		return
	}
	if err := p.conn.Close(); err != nil {
		b.logger.Debug().Err(err).Str("conn", h.String()).Msg("close")
	}
}

func (b *Broker) send(p *peer, cmd wire.Command, payload []byte) error {
	buf, err := wire.Encode(cmd, payload)
	if err != nil {
		return err
	}
	return b.write(p, buf)
}

func (b *Broker) write(p *peer, buf []byte) error {
	if b.config.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout)); err != nil {
			return err
		}
	}
	return wire.WriteFull(p.conn, buf)
}

// cstring drops a trailing NUL terminator, which older clients append to identities and topics.
func cstring(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
