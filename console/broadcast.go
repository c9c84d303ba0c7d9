package console

import (
	"net"
	"sync"
)

// clientQueueSize bounds how far a console client may fall behind before it
// starts missing chunks.
const clientQueueSize = 64

type client struct {
	conn net.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Broadcast is the live set of attached console clients for one VM. Each
// client gets its own writer goroutine and bounded queue so a slow or stuck
// client can never stall the pump or its peers.
type Broadcast struct {
	mu      sync.Mutex
	clients map[net.Conn]*client
}

func NewBroadcast() *Broadcast {
	return &Broadcast{clients: make(map[net.Conn]*client)}
}

// Add registers a connection and starts draining its queue.
func (b *Broadcast) Add(conn net.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[conn] = c
	b.mu.Unlock()

	go b.writer(c)
}

func (b *Broadcast) writer(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if _, err := c.conn.Write(data); err != nil {
				b.Remove(c.conn)
				return
			}
		}
	}
}

// Remove detaches one client. Removal never affects delivery to the others.
func (b *Broadcast) Remove(conn net.Conn) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	delete(b.clients, conn)
	b.mu.Unlock()

	if ok {
		c.close()
	}
}

// Publish queues data for every attached client, in the order published.
// Delivery is best-effort per client: a full queue drops that client's copy
// of the chunk instead of blocking.
func (b *Broadcast) Publish(data []byte) {
	// the pump reuses its read buffer, so clients share one stable copy
	chunk := make([]byte, len(data))
	copy(chunk, data)

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- chunk:
		case <-c.done:
		default:
			zlog.Sugar().Debugf("console client lagging, dropped %d bytes", len(chunk))
		}
	}
}

// Len reports the number of attached clients.
func (b *Broadcast) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// CloseAll disconnects every client.
func (b *Broadcast) CloseAll() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[net.Conn]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
