// Package wsstore serves a memstore tree to remote clients over websockets
// and provides the matching store.Store client.
package wsstore

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"flowarena/internal/store"
)

const (
	opWrite  = "write"
	opUpdate = "update"
	opCAS    = "cas"
	opGet    = "get"
	opPush   = "push"
	opSub    = "sub"
	opUnsub  = "unsub"
	opSnap   = "snap"
	opReply  = "reply"
)

// frame is the single binary message shape exchanged in both directions.
// Values travel as JSON documents so the tree stays schema free.
type frame struct {
	Op       string       `msgpack:"op"`
	ID       uint64       `msgpack:"id"`
	Path     string       `msgpack:"path,omitempty"`
	OrderBy  string       `msgpack:"orderBy,omitempty"`
	Limit    int          `msgpack:"limit,omitempty"`
	Value    []byte       `msgpack:"value,omitempty"`
	Expected []byte       `msgpack:"expected,omitempty"`
	OK       bool         `msgpack:"ok,omitempty"`
	Exists   bool         `msgpack:"exists,omitempty"`
	Key      string       `msgpack:"key,omitempty"`
	Children []childFrame `msgpack:"children,omitempty"`
	Err      string       `msgpack:"err,omitempty"`
}

type childFrame struct {
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

func encodeFrame(f frame) ([]byte, error) {
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("wsstore: encode frame: %w", err)
	}
	return data, nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("wsstore: decode frame: %w", err)
	}
	return f, nil
}

func (f frame) query() store.Query {
	return store.Query{OrderBy: f.OrderBy, LimitToLast: f.Limit}
}

func snapshotFrame(op string, id uint64, snap store.Snapshot) frame {
	out := frame{Op: op, ID: id, Path: snap.Path.String(), Exists: snap.Exists, Value: snap.Value, OK: true}
	if len(snap.Children) > 0 {
		out.Children = make([]childFrame, 0, len(snap.Children))
		for _, child := range snap.Children {
			out.Children = append(out.Children, childFrame{Key: child.Key, Value: child.Value})
		}
	}
	return out
}

func (f frame) snapshot() store.Snapshot {
	snap := store.Snapshot{Path: store.Path(f.Path), Exists: f.Exists}
	if len(f.Value) > 0 {
		snap.Value = json.RawMessage(f.Value)
	}
	if len(f.Children) > 0 {
		snap.Children = make([]store.Child, 0, len(f.Children))
		for _, child := range f.Children {
			snap.Children = append(snap.Children, store.Child{Key: child.Key, Value: json.RawMessage(child.Value)})
		}
	}
	return snap
}
