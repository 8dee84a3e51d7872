package broker

import (
	"net"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rmacdonaldsmith/topicrelay/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fanoutFixture drives publish directly on the test goroutine, standing in for the loop.
type fanoutFixture struct {
	t  *testing.T
	b  *Broker
	ln *net.TCPListener
}

func newFanoutFixture(t *testing.T) *fanoutFixture {
	t.Helper()
	b, err := New(NewConfig(0).WithHost("127.0.0.1").WithWriteTimeout(ioTimeout))
	require.NoError(t, err)

	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return &fanoutFixture{t: t, b: b, ln: ln}
}

// attach admits identity on a fresh connection and returns the broker-side handle and
// connection together with the client end.
func (f *fanoutFixture) attach(identity string) (connset.Handle, *net.TCPConn, net.Conn, session.Decision) {
	f.t.Helper()
	client, err := net.DialTCP("tcp4", nil, f.ln.Addr().(*net.TCPAddr))
	require.NoError(f.t, err)
	f.t.Cleanup(func() { client.Close() })
	server, err := f.ln.AcceptTCP()
	require.NoError(f.t, err)
	f.t.Cleanup(func() { server.Close() })

	p := &peer{conn: server, remote: client.LocalAddr().String()}
	h := f.b.conns.Add(p)
	d, err := f.b.registry.Admit(session.Request{Identity: identity, Conn: h, Remote: p.remote}, nil)
	require.NoError(f.t, err)
	return h, server, client, d
}

func readMessage(t *testing.T, c net.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(ioTimeout)))
	fr, err := wire.ReadFrame(c)
	require.NoError(t, err)
	require.Equal(t, wire.MsgFromUDP, fr.Command)
	return string(fr.Payload)
}

func TestPublish_FailedWriteDoesNotStopFanout(t *testing.T) {
	f := newFanoutFixture(t)

	var clients []net.Conn
	var servers []*net.TCPConn
	for _, id := range []string{"A", "B", "C"} {
		h, server, client, d := f.attach(id)
		require.Equal(t, session.Accepted, d)
		require.NoError(t, f.b.registry.Subscribe(h, "t/+"))
		clients = append(clients, client)
		servers = append(servers, server)
	}

	// Writes to B now fail while A and C stay healthy.
	require.NoError(t, servers[1].Close())

	f.b.publish("t/1", "one")
	f.b.publish("t/2", "two")

	for _, i := range []int{0, 2} {
		assert.Equal(t, "one", readMessage(t, clients[i]))
		assert.Equal(t, "two", readMessage(t, clients[i]))
	}

	assert.EqualValues(t, 2, f.b.stats.MessagesPublished)
	assert.EqualValues(t, 4, f.b.stats.Deliveries)
	assert.EqualValues(t, 1, f.b.stats.DeliveryFailures)
	assert.Equal(t, 2, f.b.conns.Len())

	s, ok := f.b.registry.Lookup("B")
	require.True(t, ok)
	_, live := s.Conn()
	assert.False(t, live)

	// B comes back and picks up where it left off.
	_, _, client, d := f.attach("B")
	assert.Equal(t, session.Resumed, d)

	f.b.publish("t/3", "three")
	assert.Equal(t, "three", readMessage(t, clients[0]))
	assert.Equal(t, "three", readMessage(t, client))
	assert.Equal(t, "three", readMessage(t, clients[2]))
	assert.EqualValues(t, 7, f.b.stats.Deliveries)
}

func TestPublish_SkipsOfflineSessions(t *testing.T) {
	f := newFanoutFixture(t)

	h, _, _, _ := f.attach("A")
	require.NoError(t, f.b.registry.Subscribe(h, "*"))
	f.b.drop(h, nil)

	f.b.publish("x", "lost")
	assert.EqualValues(t, 1, f.b.stats.MessagesPublished)
	assert.Zero(t, f.b.stats.Deliveries)
	assert.Zero(t, f.b.stats.DeliveryFailures)
}
