// Package weights saves and restores link weight snapshots on operator
// request.
package weights

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/domain"
)

// Snapshotter is the registry side of a snapshot.
type Snapshotter interface {
	SnapshotWeights() ([]domain.WeightEntry, error)
	LoadWeights(entries []domain.WeightEntry) (int, error)
}

// Result reports what a save or restore touched.
type Result struct {
	Entries int `json:"entries"`
	Applied int `json:"applied"`
	Pending int `json:"pending"`
}

// Service moves snapshots between the registry and storage.
type Service struct {
	reg   Snapshotter
	store domain.WeightStore
	log   *zap.Logger
}

// NewService creates a weight snapshot service.
func NewService(reg Snapshotter, store domain.WeightStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reg: reg, store: store, log: logger.Named("weights")}
}

// Save persists the current weight of every known peer.
func (s *Service) Save() (Result, error) {
	entries, err := s.reg.SnapshotWeights()
	if err != nil {
		return Result{}, fmt.Errorf("snapshot weights: %w", err)
	}
	if err := s.store.SaveWeights(entries); err != nil {
		return Result{}, fmt.Errorf("save weights: %w", err)
	}
	s.log.Info("weights saved", zap.Int("entries", len(entries)))
	return Result{Entries: len(entries), Applied: len(entries)}, nil
}

// Restore loads the stored snapshot into the registry. Entries for peers not
// yet known are held until those peers connect.
func (s *Service) Restore() (Result, error) {
	entries, err := s.store.LoadWeights()
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshot) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("load weights: %w", err)
	}
	applied, err := s.reg.LoadWeights(entries)
	if err != nil {
		return Result{}, fmt.Errorf("apply weights: %w", err)
	}
	res := Result{Entries: len(entries), Applied: applied, Pending: len(entries) - applied}
	s.log.Info("weights restored", zap.Int("applied", res.Applied), zap.Int("pending", res.Pending))
	return res, nil
}
