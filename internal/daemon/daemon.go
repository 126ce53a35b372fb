package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soma-network/soma/internal/api"
	"github.com/soma-network/soma/internal/app/localstate"
	"github.com/soma-network/soma/internal/app/weights"
	"github.com/soma-network/soma/internal/health"
	"github.com/soma-network/soma/internal/infra/sqlite"
	"github.com/soma-network/soma/internal/mesh"
	"github.com/soma-network/soma/internal/trace"
)

const nodeIDKey = "node_id"

// Daemon is the soma runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Log     *zap.Logger
	DB      *sqlite.DB
	Local   *localstate.State
	Node    *mesh.Node
	Server  *api.Server
	Health  *health.Checker
	Traces  *trace.Recorder
	Weights *weights.Service

	httpServer *http.Server
}

// New creates and initializes a Daemon from $SOMA_HOME/config.toml.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	dir := cfg.Storage.Dir
	if dir == "" {
		dir = somaHome()
	}
	db, err := sqlite.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	nodeID, err := resolveNodeID(cfg.Node.ID, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	local := localstate.New(cfg.Node.InitialLoad)
	node := mesh.NewNode(cfg.MeshConfig(nodeID), local, logger)
	traces := trace.NewRecorder(node, db, parseDuration(cfg.Storage.TraceInterval, 5*time.Second), logger,
		trace.WithRetention(cfg.Storage.MaxTraces))

	d := &Daemon{
		Config:  cfg,
		Log:     logger.Named("daemon"),
		DB:      db,
		Local:   local,
		Node:    node,
		Health:  health.NewNodeChecker(db, node.Registry(), 30*time.Second, logger),
		Traces:  traces,
		Weights: weights.NewService(node.Registry(), db, logger),
	}

	srv := api.NewServer(node, local, logger)
	srv.SetPeerStore(db)
	srv.SetTraces(db)
	srv.SetWeights(d.Weights)
	srv.SetChecker(d.Health)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	d.httpServer = &http.Server{
		Addr:              d.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return d, nil
}

// Addr is the listen address of the HTTP server.
func (d *Daemon) Addr() string {
	return fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
}

// resolveNodeID prefers the configured id, then the one stored by a previous
// run, and otherwise generates and stores a fresh one.
func resolveNodeID(configured string, db *sqlite.DB) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, err := db.GetNodeInfo(nodeIDKey)
	if err != nil {
		return "", fmt.Errorf("read node id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = newNodeID()
	if err := db.SetNodeInfo(nodeIDKey, id); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	return id, nil
}

// RestorePeers registers the configured and persisted reconnect targets and
// dials each once. Invalid entries are logged and skipped.
func (d *Daemon) RestorePeers() int {
	targets := make(map[string]string)
	for _, p := range d.Config.Mesh.Peers {
		targets[p.ID] = p.URL
	}
	stored, err := d.DB.ListPeers()
	if err != nil {
		d.Log.Warn("list stored peers failed", zap.Error(err))
	}
	for _, rec := range stored {
		if _, ok := targets[rec.ID]; !ok {
			targets[rec.ID] = rec.URL
		}
	}

	n := 0
	for id, url := range targets {
		if id == d.Node.ID() {
			continue
		}
		if err := d.Node.RegisterPeer(id, url); err != nil {
			d.Log.Warn("skipping peer", zap.String("peer", id), zap.Error(err))
			continue
		}
		d.Node.ConnectAsync(id, url)
		n++
	}
	return n
}

// Serve starts the HTTP server and background loops and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.Log.Info("soma serving",
		zap.String("node", d.Node.ID()),
		zap.String("addr", d.Addr()),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus),
	)
	if n := d.RestorePeers(); n > 0 {
		d.Log.Info("restored peers", zap.Int("count", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Node.Run(gctx) })
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		d.Traces.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := d.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Hijacked websocket connections are not covered by Shutdown.
		_ = d.Node.Close()
		return d.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.Node != nil {
		_ = d.Node.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
