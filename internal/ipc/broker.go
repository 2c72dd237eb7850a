package ipc

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// TCPBroker accepts loopback-TCP client connections and hands each one
// off to a handler as a *TCPChannel. The accept-loop/WaitGroup/closeCh/
// sync.Once shutdown shape is grounded on internal/listener.TCPListener.
type TCPBroker struct {
	address  string
	listener net.Listener
	logger   *zap.Logger

	connWg    sync.WaitGroup
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewTCPBroker binds address (use "127.0.0.1:0" to pick an ephemeral
// loopback port).
func NewTCPBroker(address string, logger *zap.Logger) (*TCPBroker, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPBroker{
		address:  address,
		listener: ln,
		logger:   logger,
		closeCh:  make(chan struct{}),
	}, nil
}

// Addr returns the bound address, useful when address was ":0".
func (b *TCPBroker) Addr() string {
	return b.listener.Addr().String()
}

// Serve accepts connections until Stop is called, invoking handle once
// per connection in its own goroutine. Serve blocks until the listener
// is closed.
func (b *TCPBroker) Serve(handle func(*TCPChannel)) {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.closeCh:
				return
			default:
				b.logger.Warn("ipc: accept error", zap.Error(err))
				continue
			}
		}

		b.connWg.Add(1)
		go func() {
			defer b.connWg.Done()
			ch := newTCPChannel(conn)
			defer ch.Close()
			handle(ch)
		}()
	}
}

// Stop closes the listener and waits for in-flight handlers to return.
func (b *TCPBroker) Stop() {
	b.closeOnce.Do(func() {
		close(b.closeCh)
		b.listener.Close()
	})
	b.connWg.Wait()
}
