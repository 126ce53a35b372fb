package mesh

import "time"

// Config holds the mesh node's timing, learning and transport settings.
type Config struct {
	NodeID string

	AliveTimeout      time.Duration
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	ReconnectInterval time.Duration
	StateSyncInterval time.Duration
	ResonanceInterval time.Duration
	FireWindow        time.Duration

	Link LinkParams

	QueueSize     int
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
	MaxFrameBytes int64
	InboundRate   float64 // frames per second per connection
	InboundBurst  int

	// Probation re-admits zero-quality peers to reconnect sweeps on an
	// exponential schedule. Off by default.
	Probation        bool
	ProbationInitial time.Duration
	ProbationMax     time.Duration

	// EvictAfter removes disconnected, url-less peers unseen for this long.
	// Zero keeps peers for the process lifetime.
	EvictAfter time.Duration
}

// DefaultConfig returns the reference timings.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:            nodeID,
		AliveTimeout:      15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		CleanupInterval:   10 * time.Second,
		ReconnectInterval: 30 * time.Second,
		StateSyncInterval: 5 * time.Second,
		ResonanceInterval: 500 * time.Millisecond,
		FireWindow:        120 * time.Millisecond,
		Link:              DefaultLinkParams(),
		QueueSize:         256,
		WriteTimeout:      10 * time.Second,
		DialTimeout:       10 * time.Second,
		MaxFrameBytes:     64 << 10,
		InboundRate:       200,
		InboundBurst:      400,
		ProbationInitial:  30 * time.Second,
		ProbationMax:      10 * time.Minute,
	}
}
