// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package provider

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// CapabilitySocial tags bindings that expose the full presence/roster/message
// contract this core builds on.
const CapabilitySocial = "social"

// Factory constructs a fresh provider instance for one login attempt.
type Factory func() (Provider, error)

// Binding advertises one available network transport. Bindings are discovered
// by the identity registry at startup to seed its network-name space.
type Binding struct {
	Name       string // Namespaced network identifier, e.g. "uproxy.loopback"
	Capability string // Declared capability tag, e.g. CapabilitySocial
	Factory    Factory

	// SuppressMonitor disables the periodic instance-handshake resend loop
	// for networks known to rate limit such traffic.
	SuppressMonitor bool

	// MonitorInterval overrides the default resend period. Zero selects the
	// process-wide default.
	MonitorInterval time.Duration
}

var (
	bindingsMu sync.RWMutex
	bindings   = make(map[string]Binding)
)

// Register advertises a network binding. Registering the same name twice is
// a wiring error and rejected.
func Register(b Binding) error {
	bindingsMu.Lock()
	defer bindingsMu.Unlock()

	if b.Name == "" {
		return errors.New("binding name missing")
	}
	if _, ok := bindings[b.Name]; ok {
		return errors.New("binding already registered")
	}
	bindings[b.Name] = b
	return nil
}

// Bindings returns all advertised network bindings, sorted by name to keep
// discovery deterministic.
func Bindings() []Binding {
	bindingsMu.RLock()
	defer bindingsMu.RUnlock()

	all := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup retrieves a single binding by its network name.
func Lookup(name string) (Binding, bool) {
	bindingsMu.RLock()
	defer bindingsMu.RUnlock()

	b, ok := bindings[name]
	return b, ok
}
