package rpc

import (
	"context"
	"io"
	"net"
	"sync"
)

// streamRole tags a connection's purpose immediately after dialing, so a
// surrogate server can demultiplex the blocking RPC stream from the
// one-way notification push stream without needing two listen addresses.
type streamRole byte

const (
	roleRPC    streamRole = 1
	roleNotify streamRole = 2
)

// Client is a net.Conn-backed Surrogate, grounded on the teacher's
// pkg/client/client.go: one mutex-serialized connection for blocking
// request/reply RPCs, following the same connect-lazily /
// write-length-prefix-then-block-on-read shape as docdb's Client.Read, plus
// a second connection dedicated to the surrogate's pushed
// BatchUpdatesNotification stream.
type Client struct {
	address string

	mu      sync.Mutex
	rpcConn net.Conn

	notifyMu   sync.Mutex
	notifyConn net.Conn

	handlersMu sync.RWMutex
	handlers   map[int]func(BatchUpdatesNotification)
	nextHandle int

	stopNotify chan struct{}
	notifyDone chan struct{}
}

// Dial connects to a surrogate at address. The RPC connection is
// established lazily on first call, matching the teacher client's
// connect-on-demand behavior.
func Dial(address string) *Client {
	return &Client{
		address:  address,
		handlers: make(map[int]func(BatchUpdatesNotification)),
	}
}

func (c *Client) connectRPC() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcConn != nil {
		return nil
	}
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte{byte(roleRPC)}); err != nil {
		conn.Close()
		return err
	}
	c.rpcConn = conn
	return nil
}

func (c *Client) call(msgType byte, req interface{}, replyType byte, reply interface{}) error {
	if err := c.connectRPC(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteMessage(c.rpcConn, msgType, req); err != nil {
		c.rpcConn.Close()
		c.rpcConn = nil
		return err
	}

	gotType, body, err := ReadMessage(c.rpcConn)
	if err != nil {
		c.rpcConn.Close()
		c.rpcConn = nil
		return err
	}
	if gotType != replyType {
		return ErrInvalidFrame
	}
	return DecodeInto(body, reply)
}

func (c *Client) LatestKnownClock(ctx context.Context, req LatestKnownClockRequest) (LatestKnownClockReply, error) {
	var reply LatestKnownClockReply
	err := c.call(MsgLatestKnownClockRequest, req, MsgLatestKnownClockReply, &reply)
	return reply, err
}

func (c *Client) BatchFetchObjectVersion(ctx context.Context, req BatchFetchObjectVersionRequest) (BatchFetchObjectVersionReply, error) {
	var reply BatchFetchObjectVersionReply
	err := c.call(MsgBatchFetchObjectVersionReq, req, MsgBatchFetchObjectVersionReply, &reply)
	return reply, err
}

func (c *Client) BatchCommitUpdates(ctx context.Context, req BatchCommitUpdatesRequest) (BatchCommitUpdatesReply, error) {
	var reply BatchCommitUpdatesReply
	err := c.call(MsgBatchCommitUpdatesRequest, req, MsgBatchCommitUpdatesReply, &reply)
	return reply, err
}

// Subscribe registers handler for pushed notifications, lazily opening the
// notification stream on first subscriber.
func (c *Client) Subscribe(handler func(BatchUpdatesNotification)) func() {
	c.handlersMu.Lock()
	handle := c.nextHandle
	c.nextHandle++
	c.handlers[handle] = handler
	first := len(c.handlers) == 1
	c.handlersMu.Unlock()

	if first {
		c.startNotifyLoop()
	}

	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, handle)
		c.handlersMu.Unlock()
	}
}

func (c *Client) startNotifyLoop() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.notifyConn != nil {
		return
	}
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return
	}
	if _, err := conn.Write([]byte{byte(roleNotify)}); err != nil {
		conn.Close()
		return
	}
	c.notifyConn = conn
	c.stopNotify = make(chan struct{})
	c.notifyDone = make(chan struct{})

	go func() {
		defer close(c.notifyDone)
		for {
			msgType, body, err := ReadMessage(conn)
			if err != nil {
				return
			}
			if msgType != MsgBatchUpdatesNotification {
				continue
			}
			var notif BatchUpdatesNotification
			if DecodeInto(body, &notif) != nil {
				continue
			}
			c.handlersMu.RLock()
			for _, h := range c.handlers {
				h(notif)
			}
			c.handlersMu.RUnlock()
		}
	}()
}

// Close shuts down both connections.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.rpcConn != nil {
		c.rpcConn.Close()
		c.rpcConn = nil
	}
	c.mu.Unlock()

	c.notifyMu.Lock()
	if c.notifyConn != nil {
		c.notifyConn.Close()
		c.notifyConn = nil
	}
	c.notifyMu.Unlock()

	return nil
}

var (
	_ io.Closer = (*Client)(nil)
	_ Surrogate = (*Client)(nil)
)
