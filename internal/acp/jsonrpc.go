// Package acp speaks the Agent Client Protocol: line-delimited JSON-RPC 2.0
// over a pair of streams, usually an agent subprocess's stdin and stdout.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrClosed is returned for calls on a connection whose reader has ended.
var ErrClosed = errors.New("acp connection closed")

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NotificationHandler receives notifications from the peer. It runs on the
// read loop, so notifications are delivered one at a time in arrival order.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers requests initiated by the peer. Returning an
// *RPCError sends that error; any other error becomes an internal error.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Options configures a Conn.
type Options struct {
	OnNotification NotificationHandler
	OnRequest      RequestHandler
	Logger         *slog.Logger
}

// Conn is a bidirectional JSON-RPC connection. Call is safe for concurrent
// use; responses are matched to callers by id regardless of arrival order.
type Conn struct {
	w   io.Writer
	wmu sync.Mutex

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[string]chan *message
	closed  bool
	err     error

	onNotify  NotificationHandler
	onRequest RequestHandler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConn starts reading from r in a background goroutine and writes
// outgoing messages to w.
func NewConn(r io.Reader, w io.Writer, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		w:         w,
		pending:   make(map[string]chan *message),
		onNotify:  opts.OnNotification,
		onRequest: opts.OnRequest,
		logger:    logger.With("component", "acp"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Call sends a request and decodes the response result into result, which
// may be nil.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan *message, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErrLocked()
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(json.RawMessage(id), method, params); err != nil {
		c.forget(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return c.Err()
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// Notify sends a notification, which has no response.
func (c *Conn) Notify(method string, params any) error {
	return c.send(nil, method, params)
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return c.closeErrLocked()
}

func (c *Conn) closeErrLocked() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) send(id json.RawMessage, method string, params any) error {
	msg := message{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		msg.Params = data
	}
	return c.write(&msg)
}

func (c *Conn) write(msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		c.dispatch(&msg, line)
	}
	c.shutdown(scanner.Err())
}

func (c *Conn) dispatch(msg *message, raw []byte) {
	switch {
	case msg.Method != "" && len(msg.ID) > 0:
		c.handleRequest(msg)
	case msg.Method != "":
		if c.onNotify != nil {
			c.onNotify(msg.Method, msg.Params)
		}
	case len(msg.ID) > 0:
		id := normalizeID(msg.ID)
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "id", id)
			return
		}
		ch <- msg
	default:
		c.logger.Warn("dropping message without method or id", "raw", string(raw))
	}
}

func (c *Conn) handleRequest(msg *message) {
	reply := &message{JSONRPC: "2.0", ID: msg.ID}
	if c.onRequest == nil {
		reply.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	} else {
		result, err := c.onRequest(c.ctx, msg.Method, msg.Params)
		if err != nil {
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				reply.Error = rpcErr
			} else {
				reply.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			}
		} else {
			data, err := json.Marshal(result)
			if err != nil {
				reply.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			} else {
				reply.Result = data
			}
		}
	}
	if err := c.write(reply); err != nil {
		c.logger.Warn("reply to agent request", "method", msg.Method, "error", err)
	}
}

func (c *Conn) shutdown(err error) {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}

// normalizeID maps 7 and "7" to the same key so peers that echo ids as
// strings still match.
func normalizeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
