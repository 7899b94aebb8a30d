package wsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"flowarena/internal/store"
	"flowarena/internal/telemetry"
)

// DefaultTxRetries bounds optimistic transaction attempts.
const DefaultTxRetries = 25

type ClientConfig struct {
	Logger    telemetry.Logger
	TxRetries int
	Dialer    *websocket.Dialer
}

// Client is a store.Store backed by a remote Server. Transactions run
// optimistically: read, apply the function locally, compare-and-swap, retry.
type Client struct {
	ws        *websocket.Conn
	logger    telemetry.Logger
	txRetries int

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan frame
	subs    map[uint64]func(store.Snapshot)
	closed  bool

	deliveries chan delivery
	done       chan struct{}
	closeOnce  sync.Once
}

type delivery struct {
	id   uint64
	snap store.Snapshot
}

var _ store.Store = (*Client)(nil)

// Dial connects to a room store server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, cfg ClientConfig) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsstore: dial %s: %w", url, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	retries := cfg.TxRetries
	if retries <= 0 {
		retries = DefaultTxRetries
	}
	c := &Client{
		ws:         conn,
		logger:     logger,
		txRetries:  retries,
		pending:    make(map[uint64]chan frame),
		subs:       make(map[uint64]func(store.Snapshot)),
		deliveries: make(chan delivery, outboundBuffer),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	go c.deliverLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := decodeFrame(payload)
		if err != nil {
			c.logger.Printf("wsstore: discarding malformed frame: %v", err)
			continue
		}
		switch f.Op {
		case opSnap:
			select {
			case c.deliveries <- delivery{id: f.ID, snap: f.snapshot()}:
			case <-c.done:
				return
			}
		case opReply:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

// deliverLoop runs subscription callbacks off the read loop so callbacks may
// issue further requests.
func (c *Client) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case d := <-c.deliveries:
			c.mu.Lock()
			fn := c.subs[d.id]
			c.mu.Unlock()
			if fn != nil {
				fn(d.snap)
			}
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[uint64]chan frame)
		c.subs = make(map[uint64]func(store.Snapshot))
		c.mu.Unlock()
		close(c.done)
		for _, ch := range pending {
			close(ch)
		}
		_ = c.ws.Close()
	})
}

func (c *Client) roundTrip(ctx context.Context, req frame) (frame, error) {
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, store.ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return frame{}, store.ErrClosed
		}
		if reply.Err != "" {
			return reply, errors.New("wsstore: " + reply.Err)
		}
		return reply, nil
	}
}

func (c *Client) writeFrame(f frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.shutdown()
		return fmt.Errorf("wsstore: write: %w", err)
	}
	return nil
}

func (c *Client) Write(ctx context.Context, path store.Path, value any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	data, err := store.Encode(value)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, frame{Op: opWrite, ID: c.nextID.Add(1), Path: path.String(), Value: data})
	return err
}

func (c *Client) Update(ctx context.Context, path store.Path, fields map[string]any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	data, err := store.Encode(fields)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, frame{Op: opUpdate, ID: c.nextID.Add(1), Path: path.String(), Value: data})
	return err
}

func (c *Client) Transact(ctx context.Context, path store.Path, fn store.TxFunc) (store.TxResult, error) {
	if err := path.Validate(); err != nil {
		return store.TxResult{}, err
	}
	snap, err := c.ReadOnce(ctx, path, store.Query{})
	if err != nil {
		return store.TxResult{}, err
	}
	current := snap.Value
	if !snap.Exists {
		current = nil
	}
	for attempt := 0; attempt < c.txRetries; attempt++ {
		next, commit := fn(current)
		if !commit {
			return store.TxResult{Value: current}, nil
		}
		reply, err := c.roundTrip(ctx, frame{
			Op:       opCAS,
			ID:       c.nextID.Add(1),
			Path:     path.String(),
			Exists:   len(current) > 0,
			Expected: current,
			Value:    next,
		})
		if err != nil {
			return store.TxResult{}, err
		}
		if reply.OK {
			return store.TxResult{Committed: true, Value: reply.Value}, nil
		}
		current = nil
		if reply.Exists {
			current = json.RawMessage(reply.Value)
		}
	}
	return store.TxResult{Value: current}, fmt.Errorf("%w: %s after %d attempts", store.ErrTxConflict, path, c.txRetries)
}

func (c *Client) Subscribe(path store.Path, q store.Query, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.subs[id] = fn
	c.mu.Unlock()

	_, err := c.roundTrip(context.Background(), frame{Op: opSub, ID: id, Path: path.String(), OrderBy: q.OrderBy, Limit: q.LimitToLast})
	if err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if _, err := c.roundTrip(ctx, frame{Op: opUnsub, ID: id}); err != nil && !errors.Is(err, store.ErrClosed) {
				c.logger.Printf("wsstore: unsubscribe %s: %v", path, err)
			}
		})
	}, nil
}

func (c *Client) ReadOnce(ctx context.Context, path store.Path, q store.Query) (store.Snapshot, error) {
	if err := path.Validate(); err != nil {
		return store.Snapshot{}, err
	}
	reply, err := c.roundTrip(ctx, frame{Op: opGet, ID: c.nextID.Add(1), Path: path.String(), OrderBy: q.OrderBy, Limit: q.LimitToLast})
	if err != nil {
		return store.Snapshot{}, err
	}
	return reply.snapshot(), nil
}

func (c *Client) Delete(ctx context.Context, path store.Path) error {
	return c.Write(ctx, path, nil)
}

func (c *Client) Push(ctx context.Context, path store.Path, value any) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}
	data, err := store.Encode(value)
	if err != nil {
		return "", err
	}
	reply, err := c.roundTrip(ctx, frame{Op: opPush, ID: c.nextID.Add(1), Path: path.String(), Value: data})
	if err != nil {
		return "", err
	}
	return reply.Key, nil
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}
