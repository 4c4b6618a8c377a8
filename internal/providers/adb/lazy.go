package adb

import (
	"context"
	"sync"
)

// Lazy dials the adb server on first use and retries the dial on every call
// until it succeeds, so it can sit behind a readiness poll.
type Lazy struct {
	host string
	port string
	dial func(host, port string) (*Provider, error)

	mu       sync.Mutex
	provider *Provider
}

func NewLazy(host, port string) *Lazy {
	return &Lazy{host: host, port: port, dial: NewWithServer}
}

func (l *Lazy) ListDevices(ctx context.Context) ([]string, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.ListDevices(ctx)
}

func (l *Lazy) get() (*Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider != nil {
		return l.provider, nil
	}
	p, err := l.dial(l.host, l.port)
	if err != nil {
		return nil, err
	}
	l.provider = p
	return p, nil
}
