package adminrpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/broker"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeSource struct {
	snap *broker.Snapshot
	err  error
}

func (f *fakeSource) Snapshot(context.Context) (*broker.Snapshot, error) {
	return f.snap, f.err
}

func startServer(t *testing.T, src Source) (*Server, *grpc.ClientConn) {
	t.Helper()

	s, err := NewServer(src, &Config{ListenAddress: "bufnet"}, zerolog.Nop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewServer_Invalid(t *testing.T) {
	_, err := NewServer(nil, &Config{ListenAddress: "x"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(&fakeSource{}, &Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealth_FollowsServingState(t *testing.T) {
	s, conn := startServer(t, &fakeSource{})
	hc := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hc.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	s.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))

	s.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))
}

func TestGetSnapshot(t *testing.T) {
	snap := &broker.Snapshot{
		Sessions: []session.Info{
			{Identity: "A", Live: true, Subscriptions: []string{"x/+"}},
		},
		Stats:        broker.Stats{Deliveries: 4},
		Connections:  1,
		LiveSessions: 1,
	}
	_, conn := startServer(t, &fakeSource{snap: snap})

	out, err := NewClient(conn).GetSnapshot(callCtx(t))
	require.NoError(t, err)

	m := out.AsMap()
	assert.Equal(t, float64(1), m["connections"])
	assert.Equal(t, float64(4), m["stats"].(map[string]interface{})["deliveries"])

	sessions := m["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, "A", first["identity"])
	assert.Equal(t, []interface{}{"x/+"}, first["subscriptions"])
}

func TestGetSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"not running", broker.ErrNotRunning, codes.Unavailable},
		{"timeout", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conn := startServer(t, &fakeSource{err: tt.err})
			_, err := NewClient(conn).GetSnapshot(callCtx(t))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGetSnapshot_RunningBroker(t *testing.T) {
	b, err := broker.New(broker.NewConfig(0).WithHost("127.0.0.1"))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	go b.Run(context.Background(), nil)
	<-b.Ready()

	s, conn := startServer(t, b)
	s.SetServing(true)

	out, err := NewClient(conn).GetSnapshot(callCtx(t))
	require.NoError(t, err)
	assert.Equal(t, float64(0), out.AsMap()["liveSessions"])

	require.NoError(t, b.Close())
	s.SetServing(false)
	_, err = NewClient(conn).GetSnapshot(callCtx(t))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
