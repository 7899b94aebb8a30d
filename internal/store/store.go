// Package store defines the contract between the simulation engine and the
// shared room store: a hierarchical JSON tree with unconditional writes,
// single-path transactions, windowed queries and change subscriptions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by every operation on a released connection.
	ErrClosed = errors.New("store: connection closed")
	// ErrInvalidPath is returned for empty paths or illegal segments.
	ErrInvalidPath = errors.New("store: invalid path")
	// ErrTxConflict is returned when a transaction could not commit within its retry budget.
	ErrTxConflict = errors.New("store: transaction conflict")
)

const (
	Players    = "players"
	Flows      = "flows"
	Highscores = "highscores"
	Meta       = "meta"
)

// Path is a slash separated location in the room tree, e.g. "players/abc/score".
type Path string

// Join builds a path from segments.
func Join(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

// Child appends segments to p.
func (p Path) Child(segments ...string) Path {
	if p == "" {
		return Join(segments...)
	}
	return Path(string(p) + "/" + strings.Join(segments, "/"))
}

func (p Path) String() string { return string(p) }

// Segments splits p. The root path has no segments.
func (p Path) Segments() []string {
	trimmed := strings.Trim(string(p), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Key is the last segment of p.
func (p Path) Key() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Validate rejects the root, empty segments and characters the tree reserves.
func (p Path) Validate() error {
	segments := p.Segments()
	if len(segments) == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, segment := range segments {
		if segment == "" || strings.ContainsAny(segment, ".#$[]") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return nil
}

// Contains reports whether other is p itself or lies beneath it.
func (p Path) Contains(other Path) bool {
	a, b := p.Segments(), other.Segments()
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Related reports whether a change at one path can alter the value at the other.
func Related(a, b Path) bool {
	return a.Contains(b) || b.Contains(a)
}

// Query windows a collection. The zero value returns every child ordered by key.
type Query struct {
	// OrderBy names the child field to order by; empty orders by key.
	OrderBy string
	// LimitToLast keeps only the last N children after ordering; zero keeps all.
	LimitToLast int
}

// Child is one entry of an ordered collection snapshot.
type Child struct {
	Key   string
	Value json.RawMessage
}

// Snapshot is the value at a path at one point in time.
type Snapshot struct {
	Path     Path
	Exists   bool
	Value    json.RawMessage
	Children []Child
}

// Decode unmarshals the snapshot value into v. Absent values leave v untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists || len(s.Value) == 0 {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// TxFunc maps the current value (nil when absent) to the next value. Returning
// commit=false aborts without writing; a nil next with commit=true deletes.
// The function may run several times and must not call the store.
type TxFunc func(current json.RawMessage) (next json.RawMessage, commit bool)

// TxResult reports the outcome of a transaction and the value it left behind.
type TxResult struct {
	Committed bool
	Value     json.RawMessage
}

// Unsubscribe cancels a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is a scoped connection to the shared room.
type Store interface {
	// Write overwrites the value at path. A nil value deletes.
	Write(ctx context.Context, path Path, value any) error
	// Update overwrites several children of path in one atomic step.
	Update(ctx context.Context, path Path, fields map[string]any) error
	// Transact performs an atomic read-modify-write on path.
	Transact(ctx context.Context, path Path, fn TxFunc) (TxResult, error)
	// Subscribe delivers the windowed value at path now and on every change.
	Subscribe(path Path, q Query, fn func(Snapshot)) (Unsubscribe, error)
	// ReadOnce fetches the windowed value at path.
	ReadOnce(ctx context.Context, path Path, q Query) (Snapshot, error)
	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path Path) error
	// Push stores value under a newly generated, chronologically ordered key.
	Push(ctx context.Context, path Path, value any) (string, error)
	// Close releases the connection and cancels its subscriptions.
	Close() error
}

// Encode renders a value as JSON. Raw messages pass through untouched.
func Encode(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// TransactJSON runs a typed transaction. fn receives nil when the path is absent
// and returns the next value, or commit=false to abort.
func TransactJSON[T any](ctx context.Context, s Store, path Path, fn func(current *T) (*T, bool)) (TxResult, error) {
	var decodeErr error
	result, err := s.Transact(ctx, path, func(current json.RawMessage) (json.RawMessage, bool) {
		decodeErr = nil
		var cur *T
		if len(current) > 0 && string(current) != "null" {
			cur = new(T)
			if err := json.Unmarshal(current, cur); err != nil {
				decodeErr = fmt.Errorf("store: decode %s: %w", path, err)
				return nil, false
			}
		}
		next, commit := fn(cur)
		if !commit {
			return nil, false
		}
		if next == nil {
			return nil, true
		}
		data, err := json.Marshal(next)
		if err != nil {
			decodeErr = fmt.Errorf("store: encode %s: %w", path, err)
			return nil, false
		}
		return data, true
	})
	if err != nil {
		return result, err
	}
	if decodeErr != nil {
		return result, decodeErr
	}
	return result, nil
}
