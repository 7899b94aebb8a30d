package wsstore

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowarena/internal/store"
	"flowarena/internal/store/memstore"
	"flowarena/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxFrameBytes  = 1 << 20
	outboundBuffer = 256
)

type ServerConfig struct {
	Logger telemetry.Logger
}

// Server exposes a shared tree to websocket clients. Every connection gets its
// own memstore.Conn so disconnecting releases only that client's subscriptions.
type Server struct {
	tree     *memstore.Tree
	logger   telemetry.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func NewServer(tree *memstore.Tree, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Server{
		tree:   tree,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		peers: make(map[*peer]struct{}),
	}
}

// PeerCount reports connected clients.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("wsstore: upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	p := &peer{
		ws:       conn,
		store:    s.tree.Connect(),
		tree:     s.tree,
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
		subs:     make(map[uint64]store.Unsubscribe),
		logger:   s.logger,
	}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	go p.writeLoop()
	p.readLoop()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

type peer struct {
	ws       *websocket.Conn
	store    *memstore.Conn
	tree     *memstore.Tree
	outbound chan []byte
	done     chan struct{}
	doneOnce sync.Once
	logger   telemetry.Logger

	subsMu sync.Mutex
	subs   map[uint64]store.Unsubscribe
}

func (p *peer) shutdown() {
	p.doneOnce.Do(func() {
		close(p.done)
		_ = p.store.Close()
		_ = p.ws.Close()
	})
}

func (p *peer) send(f frame) {
	data, err := encodeFrame(f)
	if err != nil {
		p.logger.Printf("wsstore: %v", err)
		return
	}
	select {
	case <-p.done:
	case p.outbound <- data:
	default:
		p.logger.Printf("wsstore: outbound backlog full for %s, closing", p.ws.RemoteAddr())
		p.shutdown()
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case data := <-p.outbound:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.shutdown()
				return
			}
		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.shutdown()
				return
			}
		}
	}
}

func (p *peer) readLoop() {
	defer p.shutdown()
	p.ws.SetReadLimit(maxFrameBytes)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
		req, err := decodeFrame(payload)
		if err != nil {
			p.logger.Printf("wsstore: discarding malformed frame from %s: %v", p.ws.RemoteAddr(), err)
			continue
		}
		p.send(p.handle(req))
	}
}

func (p *peer) handle(req frame) frame {
	reply := frame{Op: opReply, ID: req.ID}
	path := store.Path(req.Path)
	fail := func(err error) frame {
		reply.Err = err.Error()
		return reply
	}

	switch req.Op {
	case opWrite:
		var value any
		if len(req.Value) > 0 {
			value = json.RawMessage(req.Value)
		}
		if err := p.tree.Write(path, value); err != nil {
			return fail(err)
		}
		reply.OK = true
	case opUpdate:
		fields := make(map[string]json.RawMessage)
		if err := json.Unmarshal(req.Value, &fields); err != nil {
			return fail(err)
		}
		converted := make(map[string]any, len(fields))
		for k, v := range fields {
			if string(v) == "null" {
				converted[k] = nil
				continue
			}
			converted[k] = v
		}
		if err := p.tree.Update(path, converted); err != nil {
			return fail(err)
		}
		reply.OK = true
	case opCAS:
		var expected json.RawMessage
		if req.Exists {
			expected = req.Expected
		}
		swapped, current, err := p.tree.CompareAndSwap(path, expected, req.Value)
		if err != nil {
			return fail(err)
		}
		reply.OK = swapped
		reply.Value = current
		reply.Exists = len(current) > 0
	case opGet:
		if err := path.Validate(); err != nil {
			return fail(err)
		}
		snap := p.tree.Read(path, req.query())
		reply = snapshotFrame(opReply, req.ID, snap)
	case opPush:
		key, err := p.tree.Push(path, json.RawMessage(req.Value))
		if err != nil {
			return fail(err)
		}
		reply.OK = true
		reply.Key = key
	case opSub:
		subID := req.ID
		unsubscribe, err := p.store.Subscribe(path, req.query(), func(snap store.Snapshot) {
			p.send(snapshotFrame(opSnap, subID, snap))
		})
		if err != nil {
			return fail(err)
		}
		p.subsMu.Lock()
		p.subs[subID] = unsubscribe
		p.subsMu.Unlock()
		reply.OK = true
	case opUnsub:
		p.subsMu.Lock()
		unsubscribe, ok := p.subs[req.ID]
		delete(p.subs, req.ID)
		p.subsMu.Unlock()
		if ok {
			unsubscribe()
		}
		reply.OK = true
	default:
		reply.Err = "unknown op " + req.Op
	}
	return reply
}
