package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/soma-network/soma/internal/infra/metrics"
)

// ConnState is the lifecycle stage of one mesh connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// errDisplaced ends a connection that lost its peer binding to another one.
var errDisplaced = errors.New("connection displaced")

// conn is the actor for one websocket. A read loop dispatches inbound
// frames, a write loop drains the per-connection queue; when either exits
// the other is cancelled and the socket is closed.
type conn struct {
	node    *Node
	ws      *websocket.Conn
	send    chan Message
	limiter *rate.Limiter
	dialed  bool
	log     *zap.Logger

	state  atomic.Int32
	failed atomic.Bool // a write failed and was already penalised

	quit     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	peerID string
}

func newConn(n *Node, ws *websocket.Conn, dialed bool) *conn {
	limit := rate.Inf
	if n.cfg.InboundRate > 0 {
		limit = rate.Limit(n.cfg.InboundRate)
	}
	c := &conn{
		node:    n,
		ws:      ws,
		send:    make(chan Message, n.cfg.QueueSize),
		limiter: rate.NewLimiter(limit, n.cfg.InboundBurst),
		dialed:  dialed,
		quit:    make(chan struct{}),
		log:     n.log.With(zap.String("remote", ws.RemoteAddr().String()), zap.Bool("dialed", dialed)),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle stage.
func (c *conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *conn) setState(s ConnState) { c.state.Store(int32(s)) }

// PeerID returns the bound peer id, empty before the remote Handshake.
func (c *conn) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// enqueue queues msg without blocking. A full or closing queue drops it.
func (c *conn) enqueue(msg Message) bool {
	if c.State() >= StateClosing {
		dropped("closed")
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		dropped("queue_full")
		c.log.Debug("outbound queue full", zap.String("peer", c.PeerID()), zap.Stringer("type", msg.Type()))
		return false
	}
}

// stop closes the connection from outside its own loops. It is safe to call
// before run and more than once.
func (c *conn) stop() {
	c.stopOnce.Do(func() {
		c.setState(StateClosing)
		close(c.quit)
		_ = c.ws.Close()
	})
}

func (c *conn) stopped() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// bind routes peer id's outbound traffic through this connection and stops
// whichever connection loses the binding. It reports false when an existing
// connection for id is kept and this one was stopped instead.
func (c *conn) bind(id string) bool {
	c.mu.Lock()
	prev := c.peerID
	c.peerID = id
	c.mu.Unlock()

	if prev != "" && prev != id && c.node.out.unbind(prev, c) {
		if c.dialed {
			c.node.adopt(prev, id)
		} else {
			_ = c.node.reg.SetConnected(prev, false)
		}
	}

	loser, won := c.node.out.bind(id, c)
	if loser != nil {
		c.log.Debug("closing duplicate connection", zap.String("peer", id), zap.Bool("kept_new", won))
		loser.stop()
	}
	return won
}

// run sends the Handshake and drives both loops until one of them fails or
// ctx is cancelled.
func (c *conn) run(ctx context.Context) error {
	direction := "accepted"
	if c.dialed {
		direction = "dialed"
	}
	metrics.Connections.WithLabelValues(direction).Inc()
	defer metrics.Connections.WithLabelValues(direction).Dec()

	if c.node.cfg.MaxFrameBytes > 0 {
		c.ws.SetReadLimit(c.node.cfg.MaxFrameBytes)
	}
	if c.stopped() {
		c.teardown()
		return errDisplaced
	}
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateHandshaking))
	c.enqueue(&Handshake{NodeID: c.node.ID(), Timestamp: c.node.nowMs()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		var err error
		select {
		case <-gctx.Done():
		case <-c.quit:
			err = errDisplaced
		}
		c.setState(StateClosing)
		_ = c.ws.Close()
		return err
	})

	err := g.Wait()
	c.teardown()
	c.log.Debug("connection closed", zap.String("peer", c.PeerID()), zap.Error(err))
	return err
}

func (c *conn) readLoop() error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage {
			dropped("binary")
			continue
		}
		if !c.limiter.Allow() {
			dropped("rate")
			continue
		}
		msg, err := Decode(data)
		if err != nil {
			dropped("malformed")
			c.log.Debug("dropping frame", zap.Error(err))
			continue
		}
		metrics.FramesIn.WithLabelValues(string(msg.Type())).Inc()
		c.dispatch(msg)
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.send:
			data, err := Encode(msg)
			if err != nil {
				c.log.Warn("encode failed", zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.node.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if id := c.PeerID(); id != "" && !c.stopped() {
					c.failed.Store(true)
					c.node.recordFailure(id)
				}
				return fmt.Errorf("write %s: %w", msg.Type(), err)
			}
			metrics.FramesOut.WithLabelValues(string(msg.Type())).Inc()
		}
	}
}

func (c *conn) dispatch(msg Message) {
	reg := c.node.reg
	var err error

	switch m := msg.(type) {
	case *Handshake:
		if m.NodeID == c.node.ID() {
			c.log.Warn("ignoring handshake from self")
			return
		}
		if err = reg.Handshake(m.NodeID); err != nil {
			break
		}
		if !c.bind(m.NodeID) {
			return
		}
		c.state.CompareAndSwap(int32(StateHandshaking), int32(StateEstablished))
		c.enqueue(&Ack{NodeID: c.node.ID(), AckTo: m.NodeID, Timestamp: c.node.nowMs()})
		c.log.Info("peer handshake", zap.String("peer", m.NodeID))

	case *Heartbeat:
		var ok bool
		if ok, err = reg.Heartbeat(m.NodeID); ok {
			metrics.HealthEvents.WithLabelValues("success").Inc()
		}

	case *StateSync:
		var ok bool
		if ok, err = reg.MirrorState(m.NodeID, m.Cells, m.Generation, m.Load); ok {
			metrics.HealthEvents.WithLabelValues("success").Inc()
		}

	case *Fire:
		var (
			w  float64
			ok bool
		)
		w, ok, err = reg.NoteFireRemote(m.NodeID, m.Timestamp, c.node.cfg.FireWindow.Milliseconds())
		if ok {
			c.log.Debug("link updated", zap.String("peer", m.NodeID), zap.Float64("weight", w))
		}

	case *Ack:
		c.log.Debug("handshake acknowledged", zap.String("peer", m.NodeID))
	}

	if err != nil {
		c.log.Debug("registry unavailable", zap.Stringer("type", msg.Type()), zap.Error(err))
	}
}

// teardown releases the peer binding if this connection still holds it. A
// dialed connection that drops records one failure unless its write loop
// already did or it was stopped locally.
func (c *conn) teardown() {
	c.setState(StateClosed)
	id := c.PeerID()
	if id == "" || !c.node.out.unbind(id, c) {
		return
	}
	_ = c.node.reg.SetConnected(id, false)
	if c.dialed && !c.failed.Load() && !c.stopped() {
		c.node.recordFailure(id)
	}
	c.log.Info("peer disconnected", zap.String("peer", id))
}
