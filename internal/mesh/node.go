// Package mesh implements the peer-to-peer node: the peer registry, the
// websocket wire protocol, Hebbian link learning, load resonance balancing
// and reconnect supervision.
package mesh

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/domain"
	"github.com/soma-network/soma/internal/infra/metrics"
)

// Node is one member of the mesh. It accepts peers over HTTP upgrade, dials
// registered peers and runs the periodic maintenance loops.
type Node struct {
	cfg   Config
	log   *zap.Logger
	reg   *Registry
	out   *outbox
	local domain.LoadSource

	balancer   *Balancer
	supervisor *Supervisor

	dialer   *websocket.Dialer
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

// NewNode creates a node and starts its registry. Call Close to release it.
func NewNode(cfg Config, local domain.LoadSource, logger *zap.Logger, opts ...RegistryOption) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]RegistryOption{WithLinkParams(cfg.Link)}, opts...)
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:   cfg,
		log:   logger.Named("mesh").With(zap.String("node", cfg.NodeID)),
		reg:   NewRegistry(opts...),
		out:   newOutbox(),
		local: local,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	n.balancer = NewBalancer(n.reg, local, cfg.AliveTimeout)
	n.supervisor = newSupervisor(n)
	return n
}

// ID returns this node's id.
func (n *Node) ID() string { return n.cfg.NodeID }

// Registry returns the peer registry.
func (n *Node) Registry() *Registry { return n.reg }

// Balancer returns the resonance balancer.
func (n *Node) Balancer() *Balancer { return n.balancer }

// Supervisor returns the reconnect supervisor.
func (n *Node) Supervisor() *Supervisor { return n.supervisor }

// Connections lists the peer ids that currently have a bound connection.
func (n *Node) Connections() []string { return n.out.ids() }

func (n *Node) nowMs() int64 { return n.reg.Now().UnixMilli() }

// track registers a connection goroutine unless the node is closing.
func (n *Node) track() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.conns.Add(1)
	return true
}

// Close stops every connection and the registry.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.conns.Wait()
	n.supervisor.Wait()
	return n.reg.Close()
}

// ServeHTTP upgrades the request to a websocket and runs the mesh protocol
// on it until either side hangs up.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !n.track() {
		http.Error(w, domain.ErrNodeClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	defer n.conns.Done()

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	n.log.Debug("peer accepted", zap.String("remote", r.RemoteAddr))
	_ = newConn(n, ws, false).run(n.ctx)
}

// RegisterPeer records id at rawURL as a reconnect target.
func (n *Node) RegisterPeer(id, rawURL string) error {
	if err := validatePeerURL(rawURL); err != nil {
		return err
	}
	if err := n.reg.RegisterPeer(id, rawURL); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	n.log.Info("peer registered", zap.String("peer", id), zap.String("url", rawURL))
	return nil
}

// UnregisterPeer stops treating id as a reconnect target.
func (n *Node) UnregisterPeer(id string) error {
	if err := n.reg.Unregister(id); err != nil {
		return fmt.Errorf("unregister %s: %w", id, err)
	}
	n.supervisor.forgive(id)
	n.log.Info("peer unregistered", zap.String("peer", id))
	return nil
}

// AttemptConnect dials rawURL once. On success the peer is marked connected,
// a success is recorded and the connection actor runs in the background; on
// failure a health failure is recorded on that peer only. A peer that already
// has an open connection is not dialed again.
func (n *Node) AttemptConnect(ctx context.Context, id, rawURL string) error {
	if !n.track() {
		return domain.ErrNodeClosed
	}
	if c, ok := n.out.lookup(id); ok && c.State() < StateClosing {
		n.conns.Done()
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	start := time.Now()
	ws, _, err := n.dialer.DialContext(dialCtx, rawURL, nil)
	cancel()
	metrics.DialLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		n.conns.Done()
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		n.recordFailure(id)
		n.log.Debug("dial failed", zap.String("peer", id), zap.String("url", rawURL), zap.Error(err))
		return fmt.Errorf("%w %s at %s: %v", domain.ErrDialFailed, id, rawURL, err)
	}
	metrics.ReconnectAttempts.WithLabelValues("success").Inc()

	if err := n.reg.SetConnected(id, true); err != nil {
		n.conns.Done()
		_ = ws.Close()
		return err
	}
	n.recordSuccess(id)
	n.log.Info("connected to peer", zap.String("peer", id), zap.String("url", rawURL))

	c := newConn(n, ws, true)
	if !c.bind(id) {
		n.conns.Done()
		n.log.Debug("keeping existing connection", zap.String("peer", id))
		return nil
	}
	go func() {
		defer n.conns.Done()
		_ = c.run(n.ctx)
	}()
	return nil
}

// ConnectAsync dials in the background, logging the outcome.
func (n *Node) ConnectAsync(id, rawURL string) {
	if !n.track() {
		return
	}
	go func() {
		defer n.conns.Done()
		if err := n.AttemptConnect(n.ctx, id, rawURL); err != nil {
			n.log.Warn("connect failed", zap.String("peer", id), zap.Error(err))
		}
	}()
}

// BroadcastHeartbeat queues a Heartbeat on every connection.
func (n *Node) BroadcastHeartbeat() int {
	return n.out.broadcast(&Heartbeat{NodeID: n.cfg.NodeID, Timestamp: n.nowMs()})
}

// BroadcastState queues a StateSync with the local counters on every connection.
func (n *Node) BroadcastState() int {
	cells, generation, load := n.local.Snapshot()
	return n.out.broadcast(&StateSync{
		NodeID:     n.cfg.NodeID,
		Cells:      cells,
		Generation: generation,
		Load:       load,
		Timestamp:  n.nowMs(),
	})
}

// Peers returns the API view of every known peer.
func (n *Node) Peers() ([]domain.PeerInfo, error) {
	return n.reg.Infos(n.cfg.AliveTimeout)
}

// LinkWeights implements domain.LinkReader.
func (n *Node) LinkWeights() ([]domain.LinkWeight, error) {
	return n.reg.LinkWeights()
}

// adopt folds the reconnect target registered as alias into id once a
// connection dialed for alias handshook as id.
func (n *Node) adopt(alias, id string) {
	if err := n.reg.Adopt(alias, id); err != nil {
		return
	}
	n.supervisor.forgive(alias)
	n.log.Info("peer answered under another id", zap.String("registered", alias), zap.String("peer", id))
}

func (n *Node) recordSuccess(id string) {
	if ok, _ := n.reg.RecordSuccess(id); ok {
		metrics.HealthEvents.WithLabelValues("success").Inc()
	}
}

func (n *Node) recordFailure(id string) {
	if ok, _ := n.reg.RecordFailure(id); ok {
		metrics.HealthEvents.WithLabelValues("failure").Inc()
	}
}

func validatePeerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", domain.ErrInvalidURL, raw)
	}
	return nil
}
