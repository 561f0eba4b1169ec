// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package kv is the durable mirror behind the registries. Components write
// through to it on every mutation and read it back once, on boot, before any
// bus subscription goes live.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("key not found")

// Store is the narrow surface the registry mirror needs. Values are JSON
// strings; key layout helpers live in keys.go.
type Store interface {
	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes key unconditionally.
	Set(ctx context.Context, key, value string) error
	// SetTTL writes key with an expiry.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes key only if absent and reports whether it won. Used for
	// short-lived locks such as the per-family provision lock.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// GetByPrefix returns all key/value pairs under a prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]string, error)
	// Close releases the underlying connection.
	Close() error
}
