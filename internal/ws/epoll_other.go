//go:build !linux

package ws

import (
	"net"
	"sync"
	"time"
)

// pollInterval is how often the fallback re-offers each connection.
const pollInterval = 50 * time.Millisecond

// Epoll is a polling fallback for platforms without epoll. Each connection
// is re-offered to Wait every pollInterval; the server's per-connection
// processing flag drops offers while a read is already in progress.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts offering conn to Wait.
func (e *Epoll) Add(conn net.Conn) error {
	stop := make(chan struct{})
	e.mu.Lock()
	e.conns[conn] = stop
	e.mu.Unlock()

	go e.offer(conn, stop)
	return nil
}

func (e *Epoll) offer(conn net.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case e.readyCh <- conn:
		case <-stop:
			return
		case <-e.done:
			return
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-e.done:
			return
		}
	}
}

// Remove stops offering conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	if stop, ok := e.conns[conn]; ok {
		close(stop)
		delete(e.conns, conn)
	}
	e.mu.Unlock()
	return nil
}

// Wait returns the connections offered since the last call, blocking for at
// least one.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops all offers.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

// socketFD is unused by the fallback.
func socketFD(conn net.Conn) int {
	return -1
}
