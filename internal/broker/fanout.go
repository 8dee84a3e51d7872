package broker

import (
	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rmacdonaldsmith/topicrelay/pkg/topic"
	"github.com/rmacdonaldsmith/topicrelay/pkg/wire"
)

// publish delivers one rendered message to every live session with a matching subscription.
// Each session receives it at most once. Connections whose write fails are dropped after the
// pass so the registry is not modified while it is being ranged over.
func (b *Broker) publish(name, text string) {
	b.stats.MessagesPublished++

	frame, err := wire.Encode(wire.MsgFromUDP, []byte(text))
	if err != nil {
		b.stats.DatagramsDropped++
		b.logger.Warn().Err(err).Str("topic", name).Msg("message too large to relay")
		return
	}
	tokens := topic.Tokenize(name)

	var failed []failure
	b.registry.Range(func(s *session.Session) bool {
		h, live := s.Conn()
		if !live || !s.Matches(name, tokens) {
			return true
		}
		p, ok := b.conns.Get(h)
		if !ok {
			return true
		}
		if err := b.write(p, frame); err != nil {
			b.stats.DeliveryFailures++
			failed = append(failed, failure{conn: h, err: err})
			return true
		}
		b.stats.Deliveries++
		return true
	})

	for _, f := range failed {
		b.drop(f.conn, f.err)
	}
}

type failure struct {
	conn connset.Handle
	err  error
}
