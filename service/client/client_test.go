package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titus12/ma-service-go/actor"
)

type fakeSocket struct {
	mu   sync.Mutex
	sent map[int][][]byte
}

func (f *fakeSocket) Send(id int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], data)
	return nil
}

func (f *fakeSocket) Close(id int) error {
	return nil
}

func (f *fakeSocket) packets(id int) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[id]...)
}

func TestFrame(t *testing.T) {
	buf, err := Frame([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 5, 'h', 'e', 'l', 'l', 'o'}, buf)

	buf, err = Frame(make([]byte, PacketLimit))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff}, buf[:2])

	_, err = Frame(make([]byte, PacketLimit+1))
	assert.Equal(t, ErrPacketTooLarge, errors.Cause(err))
}

func TestClientWritesFramedPackets(t *testing.T) {
	sock := &fakeSocket{sent: make(map[int][][]byte)}
	sys, err := actor.NewSystem(actor.Config{Thread: 2}, actor.WithSocket(sock))
	require.NoError(t, err)

	agent, err := sys.Launch("client", "7")
	require.NoError(t, err)
	require.NoError(t, sys.Start())

	_, err = sys.Send(0, agent.Handle(), actor.PTypeClient, 0, []byte("hello"))
	require.NoError(t, err)
	// 超长的包被丢弃，不影响后续
	_, err = sys.Send(0, agent.Handle(), actor.PTypeClient, 0, make([]byte, PacketLimit+1))
	require.NoError(t, err)
	_, err = sys.Send(0, agent.Handle(), actor.PTypeClient, 0, []byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sock.packets(7)) == 2
	}, time.Second, 5*time.Millisecond)
	pkts := sock.packets(7)
	assert.Equal(t, []byte{0, 5, 'h', 'e', 'l', 'l', 'o'}, pkts[0])
	assert.Equal(t, []byte{0, 1, 'x'}, pkts[1])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))
}

func TestClientRejectsBadParam(t *testing.T) {
	sys, err := actor.NewSystem(actor.Config{Thread: 1})
	require.NoError(t, err)
	_, err = sys.Launch("client", "abc")
	assert.Error(t, err)
	assert.Equal(t, 0, sys.Total())
}
