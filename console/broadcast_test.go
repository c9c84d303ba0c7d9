package console

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector drains one end of a pipe so the broadcast writer never blocks.
type collector struct {
	mu  sync.Mutex
	buf []byte
}

func (c *collector) run(conn net.Conn) {
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, buf[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

func attachCollector(b *Broadcast) *collector {
	server, client := net.Pipe()
	b.Add(server)
	c := &collector{}
	go c.run(client)
	return c
}

func TestPublishFanOut(t *testing.T) {
	b := NewBroadcast()
	defer b.CloseAll()

	first := attachCollector(b)
	second := attachCollector(b)
	require.Equal(t, 2, b.Len())

	b.Publish([]byte("boot: "))
	b.Publish([]byte("ok"))

	require.Eventually(t, func() bool {
		return first.String() == "boot: ok" && second.String() == "boot: ok"
	}, time.Second, 10*time.Millisecond)
}

func TestPublishReusedBufferIsSafe(t *testing.T) {
	b := NewBroadcast()
	defer b.CloseAll()

	c := attachCollector(b)

	buf := []byte("aaa")
	b.Publish(buf)
	copy(buf, "zzz") // the pump reuses its buffer right after publishing
	b.Publish(buf)

	require.Eventually(t, func() bool {
		return c.String() == "aaazzz"
	}, time.Second, 10*time.Millisecond)
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcast()
	defer b.CloseAll()

	// stuck client: nobody ever reads its end of the pipe
	server, stuck := net.Pipe()
	defer stuck.Close()
	b.Add(server)

	fast := attachCollector(b)

	total := clientQueueSize * 2
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			b.Publish([]byte("x"))
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stuck client")
	}

	// the healthy client got every chunk
	require.Eventually(t, func() bool {
		return len(fast.String()) == total
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveDisconnectsOnlyThatClient(t *testing.T) {
	b := NewBroadcast()
	defer b.CloseAll()

	server, client := net.Pipe()
	b.Add(server)
	kept := attachCollector(b)

	b.Remove(server)
	assert.Equal(t, 1, b.Len())

	// the removed client's connection is closed
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	b.Publish([]byte("still here"))
	require.Eventually(t, func() bool {
		return kept.String() == "still here"
	}, time.Second, 10*time.Millisecond)
}

func TestCloseAll(t *testing.T) {
	b := NewBroadcast()

	attachCollector(b)
	attachCollector(b)
	require.Equal(t, 2, b.Len())

	b.CloseAll()
	assert.Equal(t, 0, b.Len())

	// publishing into an empty set is a no-op
	b.Publish([]byte("nobody home"))
}
