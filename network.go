// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gitee-cn/uProxy-p2p/provider"
	"github.com/gitee-cn/uProxy-p2p/store"
)

var (
	// ErrLoginPending is returned when an operation conflicts with a login
	// that has not resolved yet.
	ErrLoginPending = errors.New("login in progress")

	// ErrAlreadyLoggedIn is returned when login is requested on a session
	// that already holds an authenticated connection.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrNotLoggedIn is returned when an operation requires an authenticated
	// session and none exists.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrLogoutPending is returned when an operation conflicts with a logout
	// that is still unwinding the session.
	ErrLogoutPending = errors.New("logout in progress")
)

// loginState tracks the lifecycle of a provider backed session.
type loginState int

const (
	stateLoggedOut loginState = iota
	stateLoggingIn
	stateLoggedIn
	stateLoggingOut
)

// String implements the fmt.Stringer interface.
func (s loginState) String() string {
	switch s {
	case stateLoggedOut:
		return "logged-out"
	case stateLoggingIn:
		return "logging-in"
	case stateLoggedIn:
		return "logged-in"
	case stateLoggingOut:
		return "logging-out"
	default:
		return "unknown"
	}
}

// NetworkConfig assembles a provider backed session. Name, Provider, Registry
// and Store are mandatory; everything else has a safe default.
type NetworkConfig struct {
	Name     string            // Immutable network identifier
	Provider provider.Provider // Transport delivering the raw traffic
	Registry *Registry         // Process registry to join on login
	Store    store.Store       // Persistence for instance and roster records

	Notifier Notifier     // Sink for user facing events
	Firewall Firewall     // Inbound payload validator
	Agents   AgentFactory // Constructor for per-user collaborators

	Clock           clock.Clock   // Time source for the monitor loop
	MonitorInterval time.Duration // Period between handshake resend sweeps
	SuppressMonitor bool          // Disable the resend loop on rate limited networks
	LoginTimeout    time.Duration // Deadline enforced on the transport login
}

// ProviderNetwork is a session on a real social network transport. It owns
// the login state machine, gates every inbound provider event until login
// resolves, correlates client states to roster users and runs the periodic
// handshake monitor.
//
// All inbound events are consumed by a single loop goroutine, so the roster
// is never mutated concurrently by the event path.
type ProviderNetwork struct {
	*roster

	provider provider.Provider
	registry *Registry
	db       store.Store
	notifier Notifier
	firewall Firewall

	clock           clock.Clock
	monitorPeriod   time.Duration
	suppressMonitor bool
	loginDeadline   time.Duration

	state      loginState
	local      *instanceRecord // Local user's own instance, nil until login resolves
	selfClient string          // Transport assigned client id of this session
	monitor    *monitor        // Active handshake resend loop, nil when stopped
	logoutDone chan struct{}   // One-shot logout completion future, nil when unarmed

	term   chan struct{} // Event loop teardown for full session disposal
	logger log.Logger
	lock   sync.Mutex // Guards the state machine, monitor and future fields
}

// NewProviderNetwork creates a logged-out session around a transport and
// starts its event consumer. Events arriving before login resolves are
// dropped with a logged error, not queued.
func NewProviderNetwork(config NetworkConfig) *ProviderNetwork {
	logger := log.New("network", config.Name)

	if config.Notifier == nil {
		config.Notifier = NopNotifier{}
	}
	if config.Firewall == nil {
		config.Firewall = NewFirewall()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = monitorInterval
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = loginTimeout
	}
	n := &ProviderNetwork{
		roster:          newRoster(config.Name, config.Agents, logger),
		provider:        config.Provider,
		registry:        config.Registry,
		db:              config.Store,
		notifier:        config.Notifier,
		firewall:        config.Firewall,
		clock:           config.Clock,
		monitorPeriod:   config.MonitorInterval,
		suppressMonitor: config.SuppressMonitor,
		loginDeadline:   config.LoginTimeout,
		term:            make(chan struct{}),
		logger:          logger,
	}
	go n.loop()
	return n
}

// Name returns the immutable network identifier of this session.
func (n *ProviderNetwork) Name() string {
	return n.network
}

// Close permanently disposes of the session, terminating its event consumer.
// A logged in session should be logged out first.
func (n *ProviderNetwork) Close() error {
	close(n.term)
	return nil
}

// Login authenticates the session against the transport and joins the
// registry. Overlapping logins are rejected; a failed transport login leaves
// no partial session state behind.
func (n *ProviderNetwork) Login(ctx context.Context, remember bool) error {
	// Advance the state machine, rejecting overlapping attempts
	n.lock.Lock()
	switch n.state {
	case stateLoggingIn:
		n.lock.Unlock()
		return ErrLoginPending
	case stateLoggedIn:
		n.lock.Unlock()
		return ErrAlreadyLoggedIn
	case stateLoggingOut:
		n.lock.Unlock()
		return ErrLogoutPending
	}
	n.state = stateLoggingIn
	done := make(chan struct{})
	n.logoutDone = done
	n.lock.Unlock()

	n.registry.SetPending(n.network, n)

	// Drive the transport authentication under the login deadline
	ctx, cancel := context.WithTimeout(ctx, n.loginDeadline)
	defer cancel()

	self, err := n.provider.Login(ctx, provider.Descriptor{Interactive: true, Remember: remember})
	if err != nil {
		n.registry.ClearPending(n.network)
		n.lock.Lock()
		n.state, n.logoutDone = stateLoggedOut, nil
		n.lock.Unlock()

		n.logger.Error("Network login failed", "err", err)
		n.notifier.SendError("Failed to log in to " + n.network)
		return fmt.Errorf("login failed: %w", err)
	}
	n.logger.Info("Network login succeeded", "user", self.UserID, "client", self.ClientID)

	// Transport is live: start the repair loop and resolve the local identity
	n.startMonitor()

	record := loadOrCreateInstance(n.db, n.network, self.UserID, time.Now().UnixMilli(), n.logger)
	if record.ClientID != self.ClientID {
		record.ClientID = self.ClientID
		saveInstance(n.db, n.network, self.UserID, record, n.logger)
	}
	n.lock.Lock()
	n.local = record
	n.selfClient = self.ClientID
	n.lock.Unlock()
	n.setSelf(self.UserID)

	// Arm the one-shot teardown future before anyone can fulfill it
	go n.awaitLogout(done, self.UserID)

	// Announce the network online, then open the event gate
	n.registry.Activate(n.network, self.UserID, n)

	n.lock.Lock()
	n.state = stateLoggedIn
	n.lock.Unlock()

	// With the gate open, pull any previously persisted roster back in. The
	// restore is cancelled by the logout future if teardown races it.
	go n.restoreRoster(self.UserID, done)
	return nil
}

// Logout requests transport logout and, on success, fulfills the logout
// completion future driving the session teardown. A transport failure is
// surfaced to the caller and no teardown occurs.
func (n *ProviderNetwork) Logout() error {
	n.lock.Lock()
	switch n.state {
	case stateLoggedOut:
		n.lock.Unlock()
		return ErrNotLoggedIn
	case stateLoggingIn:
		// In-flight logins cannot be cancelled, the caller must wait
		n.lock.Unlock()
		return ErrLoginPending
	case stateLoggingOut:
		n.lock.Unlock()
		return ErrLogoutPending
	}
	// Claim the logout window before releasing the lock so a concurrent call
	// cannot drive the transport logout twice
	n.state = stateLoggingOut
	n.lock.Unlock()

	if err := n.provider.Logout(); err != nil {
		n.lock.Lock()
		if n.logoutDone != nil { // Unless a remote logout resolved meanwhile
			n.state = stateLoggedIn
		}
		n.lock.Unlock()

		n.logger.Error("Network logout failed", "err", err)
		n.notifier.SendError("Failed to log out of " + n.network)
		return fmt.Errorf("logout failed: %w", err)
	}
	n.fulfillLogout("requested")
	return nil
}

// fulfillLogout closes the one-shot logout completion future, moving the
// session into the LoggingOut state. Repeated fulfillment is a no-op.
func (n *ProviderNetwork) fulfillLogout(reason string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.logoutDone == nil {
		return
	}
	n.logger.Info("Logout completion triggered", "reason", reason)
	n.state = stateLoggingOut
	close(n.logoutDone)
	n.logoutDone = nil
}

// awaitLogout blocks on the logout completion future and unwinds the session
// when it fires: monitor stopped, roster users notified, network announced
// offline and the registry entry removed.
func (n *ProviderNetwork) awaitLogout(done chan struct{}, userID string) {
	<-done

	n.stopMonitor()
	for _, user := range n.drain() {
		user.HandleLogout()
	}
	n.lock.Lock()
	n.local = nil
	n.selfClient = ""
	n.state = stateLoggedOut
	n.lock.Unlock()
	n.setSelf("")

	n.registry.Remove(n.network, userID)
	n.logger.Info("Network session torn down", "user", userID)
}

// loggedIn reports whether the login gate is open for inbound events.
func (n *ProviderNetwork) loggedIn() bool {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.state == stateLoggedIn
}

// loop is the single consumer of the transport's event channel. Per-session
// roster exclusivity is structural: nothing else routes events.
func (n *ProviderNetwork) loop() {
	for {
		select {
		case <-n.term:
			return
		case event, ok := <-n.provider.Events():
			if !ok {
				return
			}
			n.handleEvent(event)
		}
	}
}

// handleEvent gates and dispatches one inbound transport event. Events
// delivered while no login has resolved are dropped, not queued.
func (n *ProviderNetwork) handleEvent(event provider.Event) {
	if !n.loggedIn() {
		n.logger.Error("Event dropped, no login resolved", "state", n.currentState())
		return
	}
	switch {
	case event.Profile != nil:
		n.handleProfile(event.Profile)
	case event.Client != nil:
		n.handleClientState(event.Client)
	case event.Message != nil:
		n.handleMessage(event.Message)
	default:
		n.logger.Error("Empty event envelope dropped")
	}
}

// currentState retrieves the session's lifecycle state.
func (n *ProviderNetwork) currentState() loginState {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.state
}

// handleProfile applies a user profile event to the roster, or to the local
// self profile if it concerns the session's own user.
func (n *ProviderNetwork) handleProfile(profile *provider.UserProfile) {
	if !n.firewall.ValidUserProfile(profile) {
		n.logger.Error("Invalid user profile dropped", "user", profile.UserID)
		return
	}
	if profile.UserID == n.self() {
		n.logger.Debug("Self profile updated", "name", profile.Name)
		n.notifier.Update(UpdateSelfProfile, SelfProfile{
			Network: n.network,
			UserID:  profile.UserID,
			Name:    profile.Name,
			Image:   profile.Image,
		})
		return
	}
	n.getOrAddUser(profile.UserID).Update(profile.Name, profile.Image)
	n.persistRosterEntry(profile.UserID, profile.Name)
}

// handleClientState applies a presence event to the roster. Clients online
// under a different application are invisible; the session's own client
// going offline is an authoritative remote logout signal.
func (n *ProviderNetwork) handleClientState(client *provider.ClientState) {
	if !n.firewall.ValidClientState(client) {
		n.logger.Error("Invalid client state dropped", "user", client.UserID, "client", client.ClientID)
		return
	}
	status, _ := translateStatus(client.Status)
	if status == StatusOtherApp {
		n.logger.Trace("Ignoring client from other application", "client", client.ClientID)
		return
	}
	if client.ClientID == n.ownClient() {
		if status == StatusOffline {
			n.logger.Warn("Own client reported offline, logging out")
			n.fulfillLogout("remote offline")
		}
		return
	}
	if client.UserID == n.self() {
		// Another client of the local user: tracked by the instance layer,
		// never by the roster.
		n.logger.Debug("Sibling client state ignored", "client", client.ClientID)
		return
	}
	n.getOrAddUser(client.UserID).HandleClient(Client{
		ClientID:  client.ClientID,
		Status:    status,
		Timestamp: time.UnixMilli(client.Timestamp),
	})
}

// handleMessage routes an inbound signaling payload to its roster user,
// registering the sending client on the fly if presence never announced it.
func (n *ProviderNetwork) handleMessage(message *provider.IncomingMessage) {
	if !n.firewall.ValidIncomingMessage(message) {
		n.logger.Error("Invalid message dropped", "user", message.From.UserID)
		return
	}
	status, _ := translateStatus(message.From.Status)
	if status == StatusOtherApp {
		n.logger.Trace("Ignoring message from other application", "client", message.From.ClientID)
		return
	}
	if message.From.UserID == n.self() {
		n.logger.Debug("Self addressed message ignored", "client", message.From.ClientID)
		return
	}
	n.getOrAddUser(message.From.UserID).HandleMessage(message.From.ClientID, message.Payload)
}

// ownClient retrieves the transport assigned client id of this session.
func (n *ProviderNetwork) ownClient() string {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.selfClient
}

// Send delivers a signaling payload to a remote client. Payloads addressed
// to clients without an instance correlation are queued for a later flush.
func (n *ProviderNetwork) Send(userID, clientID string, payload []byte) error {
	if !n.loggedIn() {
		return ErrNotLoggedIn
	}
	if user, ok := n.getUser(userID); ok {
		if _, ok := user.agent.ClientToInstance(clientID); !ok {
			n.logger.Debug("Client not yet correlated, queueing message", "user", userID, "client", clientID)
			user.queueMessage(clientID, payload)
			return nil
		}
	}
	return n.provider.SendMessage(clientID, payload)
}

// FlushQueuedMessages re-attempts delivery of all payloads held back while
// their destination clients lacked an instance correlation.
func (n *ProviderNetwork) FlushQueuedMessages() error {
	if !n.loggedIn() {
		return ErrNotLoggedIn
	}
	var failure error
	for _, user := range n.allUsers() {
		if err := user.flushQueue(n.provider.SendMessage); err != nil {
			failure = err
		}
	}
	return failure
}

// startMonitor launches the handshake resend loop. A still running previous
// loop is a logic error: it is logged and the stale loop stopped first.
func (n *ProviderNetwork) startMonitor() {
	if n.suppressMonitor {
		n.logger.Debug("Handshake monitor suppressed for this network")
		return
	}
	n.lock.Lock()
	if stale := n.monitor; stale != nil {
		n.lock.Unlock()
		n.logger.Error("Handshake monitor already running, stopping stale loop")
		stale.stop()
		n.lock.Lock()
	}
	m := newMonitor(n.clock, n.monitorPeriod, n.sweepHandshakes, n.logger)
	n.monitor = m
	n.lock.Unlock()

	go m.loop()
}

// stopMonitor terminates the handshake resend loop, if one is active.
func (n *ProviderNetwork) stopMonitor() {
	n.lock.Lock()
	m := n.monitor
	n.monitor = nil
	n.lock.Unlock()

	if m != nil {
		m.stop()
	}
}

// sweepHandshakes asks every roster user to re-probe its uncorrelated
// clients. Runs on the monitor goroutine.
func (n *ProviderNetwork) sweepHandshakes() {
	for _, user := range n.allUsers() {
		user.ResendInstanceHandshakes()
	}
}

// persistRosterEntry records a contact's roster membership, best effort, so
// a later login can restore the skeleton roster before live events arrive.
func (n *ProviderNetwork) persistRosterEntry(userID, name string) {
	self := n.self()
	if self == "" || n.db == nil {
		return
	}
	blob, err := json.Marshal(&rosterRecord{UserID: userID, Name: name})
	if err != nil {
		n.logger.Error("Failed to marshal roster record", "user", userID, "err", err)
		return
	}
	if err := n.db.Put(rosterKeyPrefix(n.network, self)+userID, blob); err != nil {
		n.logger.Warn("Failed to persist roster record", "user", userID, "err", err)
	}
}

// restoreRoster re-adds previously persisted contacts that live events have
// not already recreated. The local user is never re-added, and the restore
// aborts as soon as the logout future fires so no contact sneaks into a torn
// down session.
func (n *ProviderNetwork) restoreRoster(userID string, done <-chan struct{}) {
	if n.db == nil {
		return
	}
	prefix := rosterKeyPrefix(n.network, userID)

	keys, err := n.db.Keys(prefix)
	if err != nil {
		n.logger.Warn("Failed to list persisted roster", "err", err)
		return
	}
	for _, key := range keys {
		uid := strings.TrimPrefix(key, prefix)
		if uid == userID || !n.isNewContact(uid) {
			continue
		}
		blob, err := n.db.Get(key)
		if err != nil {
			continue
		}
		record := new(rosterRecord)
		if err := json.Unmarshal(blob, record); err != nil {
			n.logger.Warn("Corrupted roster record skipped", "key", key)
			continue
		}
		user, err := n.restoreUser(uid, done)
		if errors.Is(err, ErrNotLoggedIn) {
			n.logger.Debug("Roster restore cancelled by teardown")
			return
		}
		if err != nil {
			continue
		}
		if record.Name != "" {
			user.Update(record.Name, nil)
		}
		n.logger.Debug("Restored roster contact", "user", uid)
	}
}
