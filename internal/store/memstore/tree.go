// Package memstore implements the room store in process. A Tree holds the
// shared data; each client talks to it through its own Conn.
package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"flowarena/internal/store"
)

// Tree is the shared hierarchical value. Values are kept in their decoded JSON
// form (map[string]any, float64, string, bool).
type Tree struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[uint64]*subscription
	nextID atomic.Uint64
}

type subscription struct {
	id    uint64
	owner *Conn
	path  store.Path
	query store.Query
	fn    func(store.Snapshot)
}

type delivery struct {
	fn       func(store.Snapshot)
	snapshot store.Snapshot
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		root: make(map[string]any),
		subs: make(map[uint64]*subscription),
	}
}

// Connect opens a new client connection to the tree.
func (t *Tree) Connect() *Conn {
	return &Conn{tree: t, subs: make(map[uint64]struct{})}
}

func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := store.Encode(value)
	if err != nil {
		return nil, err
	}
	return decodeRaw(data)
}

func decodeRaw(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("memstore: decode value: %w", err)
	}
	return out, nil
}

func encodeValue(value any) json.RawMessage {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}

func (t *Tree) get(path store.Path) (any, bool) {
	var node any = t.root
	for _, segment := range path.Segments() {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return node, node != nil
}

// set writes value at path, creating parents. A nil value deletes and prunes
// parents left empty.
func (t *Tree) set(path store.Path, value any) {
	segments := path.Segments()
	if value == nil {
		t.remove(t.root, segments)
		return
	}
	node := t.root
	for _, segment := range segments[:len(segments)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[segment] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = value
}

func (t *Tree) remove(node map[string]any, segments []string) bool {
	if len(segments) == 1 {
		delete(node, segments[0])
		return len(node) == 0
	}
	child, ok := node[segments[0]].(map[string]any)
	if !ok {
		return false
	}
	if t.remove(child, segments[1:]) {
		delete(node, segments[0])
	}
	return len(node) == 0
}

// snapshot builds the windowed view of path. Callers hold t.mu.
func (t *Tree) snapshot(path store.Path, q store.Query) store.Snapshot {
	value, ok := t.get(path)
	snap := store.Snapshot{Path: path, Exists: ok}
	if !ok {
		return snap
	}
	m, isMap := value.(map[string]any)
	if !isMap {
		snap.Value = encodeValue(value)
		return snap
	}
	keys := orderedKeys(m, q.OrderBy)
	if q.LimitToLast > 0 && len(keys) > q.LimitToLast {
		keys = keys[len(keys)-q.LimitToLast:]
	}
	windowed := make(map[string]any, len(keys))
	snap.Children = make([]store.Child, 0, len(keys))
	for _, key := range keys {
		windowed[key] = m[key]
		snap.Children = append(snap.Children, store.Child{Key: key, Value: encodeValue(m[key])})
	}
	snap.Value = encodeValue(windowed)
	return snap
}

func orderedKeys(m map[string]any, orderBy string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	if orderBy == "" {
		sort.Strings(keys)
		return keys
	}
	sort.Slice(keys, func(i, j int) bool {
		a := childField(m[keys[i]], orderBy)
		b := childField(m[keys[j]], orderBy)
		if c := compareValues(a, b); c != 0 {
			return c < 0
		}
		return keys[i] < keys[j]
	})
	return keys
}

func childField(value any, field string) any {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return m[field]
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// compareValues orders null < false < true < numbers < strings < objects.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

// mutate applies fn under the lock and then delivers snapshots to every
// subscription related to the touched paths.
func (t *Tree) mutate(touched []store.Path, fn func()) {
	t.mu.Lock()
	fn()
	deliveries := t.collect(touched)
	t.mu.Unlock()
	for _, d := range deliveries {
		d.fn(d.snapshot)
	}
}

func (t *Tree) collect(touched []store.Path) []delivery {
	if len(t.subs) == 0 || len(touched) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []delivery
	for _, id := range ids {
		sub := t.subs[id]
		for _, path := range touched {
			if store.Related(sub.path, path) {
				out = append(out, delivery{fn: sub.fn, snapshot: t.snapshot(sub.path, sub.query)})
				break
			}
		}
	}
	return out
}

// CompareAndSwap replaces the value at path with next when the current value
// equals expected (nil meaning absent). It returns the value left at path.
func (t *Tree) CompareAndSwap(path store.Path, expected, next json.RawMessage) (bool, json.RawMessage, error) {
	if err := path.Validate(); err != nil {
		return false, nil, err
	}
	wantValue, err := decodeRaw(expected)
	if err != nil {
		return false, nil, err
	}
	nextValue, err := decodeRaw(next)
	if err != nil {
		return false, nil, err
	}
	var (
		swapped bool
		current json.RawMessage
	)
	t.mutate([]store.Path{path}, func() {
		value, _ := t.get(path)
		current = encodeValue(value)
		if !bytes.Equal(current, encodeValue(wantValue)) {
			return
		}
		t.set(path, nextValue)
		swapped = true
		current = encodeValue(nextValue)
	})
	return swapped, current, nil
}

// Read returns the windowed snapshot at path.
func (t *Tree) Read(path store.Path, q store.Query) store.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(path, q)
}

// Write replaces the value at path.
func (t *Tree) Write(path store.Path, value any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	t.mutate([]store.Path{path}, func() { t.set(path, normalized) })
	return nil
}

// Update replaces several children of path at once.
func (t *Tree) Update(path store.Path, fields map[string]any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	normalized := make(map[string]any, len(fields))
	touched := make([]store.Path, 0, len(fields))
	for key, value := range fields {
		child := path.Child(key)
		if err := child.Validate(); err != nil {
			return err
		}
		v, err := normalize(value)
		if err != nil {
			return err
		}
		normalized[key] = v
		touched = append(touched, child)
	}
	t.mutate(touched, func() {
		for key, value := range normalized {
			t.set(path.Child(key), value)
		}
	})
	return nil
}

// Transact runs fn atomically against the value at path.
func (t *Tree) Transact(path store.Path, fn store.TxFunc) (store.TxResult, error) {
	if err := path.Validate(); err != nil {
		return store.TxResult{}, err
	}
	var (
		result  store.TxResult
		callErr error
	)
	t.mutate([]store.Path{path}, func() {
		value, _ := t.get(path)
		current := encodeValue(value)
		next, commit := fn(current)
		if !commit {
			result = store.TxResult{Value: current}
			return
		}
		nextValue, err := decodeRaw(next)
		if err != nil {
			callErr = err
			result = store.TxResult{Value: current}
			return
		}
		t.set(path, nextValue)
		result = store.TxResult{Committed: true, Value: encodeValue(nextValue)}
	})
	return result, callErr
}

// Push stores value under a time-ordered generated key.
func (t *Tree) Push(path store.Path, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("memstore: generate key: %w", err)
	}
	key := id.String()
	if err := t.Write(path.Child(key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (t *Tree) subscribe(owner *Conn, path store.Path, q store.Query, fn func(store.Snapshot)) (uint64, error) {
	if err := path.Validate(); err != nil {
		return 0, err
	}
	id := t.nextID.Add(1)
	t.mu.Lock()
	t.subs[id] = &subscription{id: id, owner: owner, path: path, query: q, fn: fn}
	initial := t.snapshot(path, q)
	t.mu.Unlock()
	fn(initial)
	return id, nil
}

func (t *Tree) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

// SubscriberCount reports live subscriptions across all connections.
func (t *Tree) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Conn is one client's scoped connection. Closing it cancels only its own
// subscriptions.
type Conn struct {
	tree   *Tree
	mu     sync.Mutex
	subs   map[uint64]struct{}
	closed bool
}

var _ store.Store = (*Conn)(nil)

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Write(ctx context.Context, path store.Path, value any) error {
	if c.isClosed() {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.tree.Write(path, value)
}

func (c *Conn) Update(ctx context.Context, path store.Path, fields map[string]any) error {
	if c.isClosed() {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.tree.Update(path, fields)
}

func (c *Conn) Transact(ctx context.Context, path store.Path, fn store.TxFunc) (store.TxResult, error) {
	if c.isClosed() {
		return store.TxResult{}, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return store.TxResult{}, err
	}
	return c.tree.Transact(path, fn)
}

func (c *Conn) Subscribe(path store.Path, q store.Query, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	if c.isClosed() {
		return nil, store.ErrClosed
	}
	id, err := c.tree.subscribe(c, path, q, fn)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.subs[id] = struct{}{}
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.tree.unsubscribe(id)
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}, nil
}

func (c *Conn) ReadOnce(ctx context.Context, path store.Path, q store.Query) (store.Snapshot, error) {
	if c.isClosed() {
		return store.Snapshot{}, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	if err := path.Validate(); err != nil {
		return store.Snapshot{}, err
	}
	return c.tree.Read(path, q), nil
}

func (c *Conn) Delete(ctx context.Context, path store.Path) error {
	return c.Write(ctx, path, nil)
}

func (c *Conn) Push(ctx context.Context, path store.Path, value any) (string, error) {
	if c.isClosed() {
		return "", store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.tree.Push(path, value)
}

// Close cancels the connection's subscriptions. Later calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.subs = make(map[uint64]struct{})
	c.mu.Unlock()
	for _, id := range ids {
		c.tree.unsubscribe(id)
	}
	return nil
}
