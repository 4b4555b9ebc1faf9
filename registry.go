// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package uproxy implements the social network abstraction and identity
// correlation engine: the login lifecycle state machine, the gated event
// pipeline, the user/client/instance roster and the handshake monitor loop.
package uproxy

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gitee-cn/uProxy-p2p/provider"
)

var (
	// ErrUnknownNetwork is returned when a registry lookup names a network
	// that discovery never seeded.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrSessionNotFound is returned when a registry lookup names a user
	// that is not authenticated on the network.
	ErrSessionNotFound = errors.New("session not found")
)

// Registry tracks every network session the local user is authenticated to,
// plus the sessions currently mid-login. It is constructed once at process
// start, injected by reference, and sharded per network so unrelated logins
// never contend on a common lock.
type Registry struct {
	notifier Notifier
	logger   log.Logger

	entries map[string]*registryEntry
	lock    sync.RWMutex // Guards the entry map structure only
}

// registryEntry is the per-network shard of the registry.
type registryEntry struct {
	name      string
	permanent bool // Identity-free networks are process wide and never removed

	sessions map[string]Network // Authenticated sessions by local user id
	pending  Network            // Session currently mid-login, nil if none
	lock     sync.RWMutex
}

// NewRegistry creates an empty session registry emitting into the given sink.
func NewRegistry(notifier Notifier) *Registry {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry{
		notifier: notifier,
		logger:   log.New("module", "registry"),
		entries:  make(map[string]*registryEntry),
	}
}

// Discover enumerates the advertised provider bindings and seeds an empty,
// unauthenticated slot for every discovered network name. It creates no
// sessions.
func (r *Registry) Discover() {
	for _, binding := range provider.Bindings() {
		r.logger.Info("Discovered network binding", "network", binding.Name, "capability", binding.Capability)
		r.AddNetwork(binding.Name, false)
	}
}

// AddNetwork seeds a slot for a network name. Permanent networks (the
// identity-free variant) survive session removal.
func (r *Registry) AddNetwork(name string, permanent bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entries[name]; ok {
		return
	}
	r.entries[name] = &registryEntry{
		name:      name,
		permanent: permanent,
		sessions:  make(map[string]Network),
	}
}

// Networks returns the current online status of every discovered network.
func (r *Registry) Networks() []NetworkStatus {
	r.lock.RLock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.lock.RUnlock()

	statuses := make([]NetworkStatus, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, entry.status())
	}
	return statuses
}

// Session retrieves the authenticated session of a user on a network. Missing
// networks or users are logged and reported, never thrown.
func (r *Registry) Session(network, userID string) (Network, error) {
	entry, ok := r.entry(network)
	if !ok {
		r.logger.Error("Session requested on unknown network", "network", network)
		return nil, ErrUnknownNetwork
	}
	entry.lock.RLock()
	defer entry.lock.RUnlock()

	session, ok := entry.sessions[userID]
	if !ok {
		r.logger.Error("Session not found", "network", network, "user", userID)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SetPending records a session that started logging in on a network.
func (r *Registry) SetPending(network string, session Network) {
	if entry, ok := r.entry(network); ok {
		entry.lock.Lock()
		entry.pending = session
		entry.lock.Unlock()
	}
}

// ClearPending drops the mid-login marker of a network.
func (r *Registry) ClearPending(network string) {
	if entry, ok := r.entry(network); ok {
		entry.lock.Lock()
		entry.pending = nil
		entry.lock.Unlock()
	}
}

// Pending retrieves the session currently logging in on a network, if any.
func (r *Registry) Pending(network string) (Network, bool) {
	entry, ok := r.entry(network)
	if !ok {
		return nil, false
	}
	entry.lock.RLock()
	defer entry.lock.RUnlock()

	return entry.pending, entry.pending != nil
}

// Activate promotes a mid-login session into the authenticated set and emits
// the network's new online status.
func (r *Registry) Activate(network, userID string, session Network) {
	entry, ok := r.entry(network)
	if !ok {
		// Login on an undiscovered network is a wiring error, but refusing
		// the activation would strand an authenticated transport session.
		r.logger.Warn("Activating session on undiscovered network", "network", network)
		r.AddNetwork(network, false)
		entry, _ = r.entry(network)
	}
	entry.lock.Lock()
	if entry.pending == session {
		entry.pending = nil
	}
	entry.sessions[userID] = session
	entry.lock.Unlock()

	r.logger.Info("Network session activated", "network", network, "user", userID)
	r.notifyOnlineStatus(entry)
}

// Remove deletes the (network, user) session entry, unless the network is
// permanent, then emits the network's new online status.
func (r *Registry) Remove(network, userID string) {
	entry, ok := r.entry(network)
	if !ok {
		r.logger.Error("Removal requested on unknown network", "network", network)
		return
	}
	entry.lock.Lock()
	if !entry.permanent {
		delete(entry.sessions, userID)
	}
	entry.lock.Unlock()

	r.logger.Info("Network session removed", "network", network, "user", userID)
	r.notifyOnlineStatus(entry)
}

// entry retrieves a network's registry shard.
func (r *Registry) entry(network string) (*registryEntry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	entry, ok := r.entries[network]
	return entry, ok
}

// notifyOnlineStatus emits the current online status of one network into the
// notification sink.
func (r *Registry) notifyOnlineStatus(entry *registryEntry) {
	r.notifier.Update(UpdateNetwork, entry.status())
}

// status computes the online status of a network shard. If multiple local
// identities are authenticated, an arbitrary one is reported as the
// representative user.
func (e *registryEntry) status() NetworkStatus {
	e.lock.RLock()
	defer e.lock.RUnlock()

	status := NetworkStatus{Name: e.name, Online: len(e.sessions) > 0}
	for userID := range e.sessions {
		status.UserID = userID
		break
	}
	return status
}
