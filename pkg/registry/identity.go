// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks the fleet: edge proxies, backend servers and their
// logical slots, liveness via heartbeats, and graceful evacuation. All state
// is mirrored write-through to the KV store and restored on boot before any
// bus subscription goes live.
package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind separates the two identifier namespaces.
type NodeKind string

const (
	// KindProxy is the namespace of edge proxies.
	KindProxy NodeKind = "proxy"
	// KindServer is the namespace of backend servers.
	KindServer NodeKind = "server"
)

// Identifier is the value identity of a node, canonically rendered as
// "<base>-<kind>-<instance>", e.g. "fulcrum-proxy-3".
type Identifier struct {
	Base     string
	Kind     NodeKind
	Instance int
}

// String returns the canonical form.
func (id Identifier) String() string {
	return fmt.Sprintf("%s-%s-%d", id.Base, id.Kind, id.Instance)
}

// ParseIdentifier round-trips the canonical form back into its parts.
func ParseIdentifier(s string) (Identifier, error) {
	last := strings.LastIndex(s, "-")
	if last < 0 {
		return Identifier{}, fmt.Errorf("malformed identifier %q", s)
	}
	instance, err := strconv.Atoi(s[last+1:])
	if err != nil || instance <= 0 {
		return Identifier{}, fmt.Errorf("malformed identifier %q: instance must be a positive number", s)
	}
	rest := s[:last]
	kindIdx := strings.LastIndex(rest, "-")
	if kindIdx <= 0 {
		return Identifier{}, fmt.Errorf("malformed identifier %q", s)
	}
	kind := NodeKind(rest[kindIdx+1:])
	if kind != KindProxy && kind != KindServer {
		return Identifier{}, fmt.Errorf("malformed identifier %q: unknown kind %q", s, kind)
	}
	return Identifier{Base: rest[:kindIdx], Kind: kind, Instance: instance}, nil
}
