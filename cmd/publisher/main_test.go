package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/pkg/datagram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishCommand(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--count", "2", "--interval", "1ms", pc.LocalAddr().String(), "a/b", "float", "-3.25"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Sent 2 datagram(s)")

	buf := make([]byte, datagram.MaxSize)
	for i := 0; i < 2; i++ {
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, from, err := pc.ReadFrom(buf)
		require.NoError(t, err)

		m, err := datagram.Decode(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, "a/b", m.Topic)
		assert.Equal(t, datagram.Float, m.Type)
		assert.Equal(t, "-3.25", m.Value)
		assert.NotNil(t, from)
	}
}

func TestPublishCommand_NegativeInt(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{pc.LocalAddr().String(), "a", "INT", "-7"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	buf := make([]byte, datagram.MaxSize)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	m, err := datagram.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "-7", m.Value)
}

func TestPublishCommand_BadValue(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"127.0.0.1:1", "a", "INT", "nope"})
	assert.Error(t, cmd.Execute())

	cmd = newRootCommand()
	cmd.SetArgs([]string{"127.0.0.1:1", "a", "BLOB", "x"})
	assert.ErrorIs(t, cmd.Execute(), datagram.ErrUnsupportedType)
}
