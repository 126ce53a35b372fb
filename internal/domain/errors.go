package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Registry errors
	ErrRegistryClosed = errors.New("peer registry is closed")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrInvalidPeerID  = errors.New("peer id must be non-empty")
	ErrInvalidURL     = errors.New("peer url must use ws:// or wss://")
	ErrInvalidWeight  = errors.New("link weight must be a finite number")

	// Wire errors
	ErrMalformedFrame   = errors.New("malformed mesh frame")
	ErrUnknownFrameType = errors.New("unknown mesh frame type")

	// Transport errors
	ErrNodeClosed = errors.New("mesh node is shutting down")
	ErrDialFailed = errors.New("could not dial peer")

	// Storage errors
	ErrNoSnapshot = errors.New("no weight snapshot stored")
)
