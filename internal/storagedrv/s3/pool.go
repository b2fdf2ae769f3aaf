package s3

import (
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ConnectionPool hands out *s3.Client instances from a bounded channel,
// creating new ones on demand up to maxSize; a Get that waits 5 seconds
// without a client coming back builds one more outside that count.
type ConnectionPool struct {
	mu          sync.Mutex
	connections chan *s3.Client
	factory     func() (*s3.Client, error)
	maxSize     int
	currentSize int
	closed      bool
}

// NewConnectionPool creates a pool that keeps up to maxSize clients, built
// by factory on demand.
func NewConnectionPool(maxSize int, factory func() (*s3.Client, error)) (*ConnectionPool, error) {
	if maxSize <= 0 {
		maxSize = 8
	}
	if factory == nil {
		return nil, fmt.Errorf("s3: connection factory cannot be nil")
	}
	return &ConnectionPool{
		connections: make(chan *s3.Client, maxSize),
		factory:     factory,
		maxSize:     maxSize,
	}, nil
}

// Get retrieves a client from the pool, creating one if none is idle and
// the pool has headroom, or otherwise waiting up to 5 seconds for one to be
// returned before building an extra client.
func (p *ConnectionPool) Get() (*s3.Client, error) {
	select {
	case conn := <-p.connections:
		return conn, nil
	default:
	}

	p.mu.Lock()
	if p.currentSize < p.maxSize && !p.closed {
		p.currentSize++
		p.mu.Unlock()
		return p.factory()
	}
	p.mu.Unlock()

	select {
	case conn := <-p.connections:
		return conn, nil
	case <-time.After(5 * time.Second):
		return p.factory()
	}
}

// Put returns conn to the pool, discarding it if the pool is full or
// closed.
func (p *ConnectionPool) Put(conn *s3.Client) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.connections <- conn:
	default:
		p.mu.Lock()
		p.currentSize--
		p.mu.Unlock()
	}
}

// Close marks the pool closed; outstanding clients are simply dropped, as
// the AWS SDK client has no explicit close.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.connections)
	return nil
}
