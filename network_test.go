// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gitee-cn/uProxy-p2p/provider"
	"github.com/gitee-cn/uProxy-p2p/store"
)

// testProvider is a scripted transport for driving the session core without
// any real network behind it.
type testProvider struct {
	self       provider.ClientState
	loginErr   error
	logoutErr  error
	loginGate  chan struct{} // If non-nil, login blocks until closed
	logoutGate chan struct{} // If non-nil, logout blocks until closed

	events chan provider.Event
	sent   chan testSent
}

type testSent struct {
	clientID string
	payload  []byte
}

func newTestProvider(userID, clientID string) *testProvider {
	return &testProvider{
		self: provider.ClientState{
			UserID:    userID,
			ClientID:  clientID,
			Status:    provider.StatusOnline,
			Timestamp: time.Now().UnixMilli(),
		},
		events: make(chan provider.Event, 16),
		sent:   make(chan testSent, 16),
	}
}

func (p *testProvider) Login(ctx context.Context, desc provider.Descriptor) (provider.ClientState, error) {
	if p.loginGate != nil {
		select {
		case <-p.loginGate:
		case <-ctx.Done():
			return provider.ClientState{}, ctx.Err()
		}
	}
	if p.loginErr != nil {
		return provider.ClientState{}, p.loginErr
	}
	return p.self, nil
}

func (p *testProvider) Logout() error {
	if p.logoutGate != nil {
		<-p.logoutGate
	}
	return p.logoutErr
}

func (p *testProvider) SendMessage(clientID string, payload []byte) error {
	p.sent <- testSent{clientID: clientID, payload: payload}
	return nil
}

func (p *testProvider) Events() <-chan provider.Event { return p.events }

// testNotifier records emitted notification events for assertions.
type testNotifier struct {
	updates chan testUpdate
}

type testUpdate struct {
	kind    UpdateKind
	payload interface{}
}

func newTestNotifier() *testNotifier {
	return &testNotifier{updates: make(chan testUpdate, 16)}
}

func (n *testNotifier) Update(kind UpdateKind, payload interface{}) {
	n.updates <- testUpdate{kind: kind, payload: payload}
}
func (n *testNotifier) ShowNotification(text string) {}
func (n *testNotifier) SendError(text string)        {}

// waitUpdate blocks until a notification of the wanted kind is emitted.
func (n *testNotifier) waitUpdate(t *testing.T, kind UpdateKind) interface{} {
	t.Helper()
	for {
		select {
		case update := <-n.updates:
			if update.kind == kind {
				return update.payload
			}
		case <-time.After(time.Second):
			t.Fatalf("Notification %v timed out", kind)
			return nil
		}
	}
}

// testAgent records per-user collaborator invocations.
type testAgent struct {
	userID     string
	correlated bool

	clients  chan Client
	messages chan testSent
	logouts  chan struct{}
	resends  chan string
}

func (a *testAgent) Update(name string, image []byte)              {}
func (a *testAgent) HandleClient(client Client)                    { a.clients <- client }
func (a *testAgent) HandleMessage(clientID string, payload []byte) { a.messages <- testSent{clientID, payload} }
func (a *testAgent) HandleLogout()                                 { a.logouts <- struct{}{} }
func (a *testAgent) ResendInstanceHandshakes()                     { a.resends <- a.userID }
func (a *testAgent) ClientToInstance(id string) (string, bool) {
	if !a.correlated {
		return "", false
	}
	return id, true
}

// testAgents is an AgentFactory handing out recording collaborators.
type testAgents struct {
	correlated bool
	clients    chan Client
	messages   chan testSent
	logouts    chan struct{}
	resends    chan string
}

func newTestAgents() *testAgents {
	return &testAgents{
		correlated: true,
		clients:    make(chan Client, 16),
		messages:   make(chan testSent, 16),
		logouts:    make(chan struct{}, 16),
		resends:    make(chan string, 16),
	}
}

func (f *testAgents) factory(userID string) UserAgent {
	return &testAgent{
		userID:     userID,
		correlated: f.correlated,
		clients:    f.clients,
		messages:   f.messages,
		logouts:    f.logouts,
		resends:    f.resends,
	}
}

// testHarness bundles the collaborators of one provider backed session.
type testHarness struct {
	provider *testProvider
	notifier *testNotifier
	agents   *testAgents
	registry *Registry
	db       store.Store
	clock    *clock.Mock
	network  *ProviderNetwork
}

// newTestHarness assembles a session on the network "X" for the local user
// "u1" with client "c1".
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWith(t, store.NewMemStore())
}

func newTestHarnessWith(t *testing.T, db store.Store) *testHarness {
	t.Helper()

	h := &testHarness{
		provider: newTestProvider("u1", "c1"),
		notifier: newTestNotifier(),
		agents:   newTestAgents(),
		db:       db,
		clock:    clock.NewMock(),
	}
	h.registry = NewRegistry(h.notifier)
	h.registry.AddNetwork("X", false)

	h.network = NewProviderNetwork(NetworkConfig{
		Name:     "X",
		Provider: h.provider,
		Registry: h.registry,
		Store:    h.db,
		Notifier: h.notifier,
		Agents:   h.agents.factory,
		Clock:    h.clock,
	})
	t.Cleanup(func() { h.network.Close() })

	return h
}

// login drives a successful authentication and consumes the online event.
func (h *testHarness) login(t *testing.T) {
	t.Helper()

	if err := h.network.Login(context.Background(), false); err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	payload := h.notifier.waitUpdate(t, UpdateNetwork)
	status := payload.(NetworkStatus)
	if !status.Online || status.Name != "X" || status.UserID != "u1" {
		t.Fatalf("Online notification mismatch: have %+v, want {X true u1}", status)
	}
}

// waitRoster polls the session until a predicate on the roster holds.
func (h *testHarness) waitRoster(t *testing.T, check func([]UserInfo) bool) {
	t.Helper()

	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); {
		if check(h.network.Roster()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Roster condition timed out: have %+v", h.network.Roster())
}

// Tests that a successful login joins the registry, emits the network online
// notification with the authenticated identity, and that overlapping login
// attempts are rejected.
func TestLoginLifecycle(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	if _, err := h.registry.Session("X", "u1"); err != nil {
		t.Fatalf("Session lookup failed after login: %v", err)
	}
	if err := h.network.Login(context.Background(), false); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("Duplicate login error mismatch: have %v, want %v", err, ErrAlreadyLoggedIn)
	}
}

// Tests that a transport rejected login surfaces the failure and leaves no
// partial session state behind.
func TestLoginFailure(t *testing.T) {
	h := newTestHarness(t)
	h.provider.loginErr = errors.New("credentials rejected")

	if err := h.network.Login(context.Background(), false); err == nil {
		t.Fatalf("Login succeeded against a rejecting transport")
	}
	if _, err := h.registry.Session("X", "u1"); err == nil {
		t.Fatalf("Failed login left a registry session behind")
	}
	if _, ok := h.registry.Pending("X"); ok {
		t.Fatalf("Failed login left a pending marker behind")
	}
	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Failed login left roster entries behind: %v", users)
	}
	// The session must be reusable after the failure
	h.provider.loginErr = nil
	h.login(t)
}

// Tests that login and logout requests issued while a login is still in
// flight are explicitly rejected instead of queued or interleaved.
func TestOverlappingLoginRejected(t *testing.T) {
	h := newTestHarness(t)
	h.provider.loginGate = make(chan struct{})

	started := make(chan error, 1)
	go func() {
		started <- h.network.Login(context.Background(), false)
	}()
	// Wait for the state machine to enter the logging-in window
	for deadline := time.Now().Add(time.Second); h.network.currentState() != stateLoggingIn; {
		if !time.Now().Before(deadline) {
			t.Fatalf("Login never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.network.Login(context.Background(), false); !errors.Is(err, ErrLoginPending) {
		t.Fatalf("Concurrent login error mismatch: have %v, want %v", err, ErrLoginPending)
	}
	if err := h.network.Logout(); !errors.Is(err, ErrLoginPending) {
		t.Fatalf("Logout during login error mismatch: have %v, want %v", err, ErrLoginPending)
	}
	close(h.provider.loginGate)
	if err := <-started; err != nil {
		t.Fatalf("Gated login failed: %v", err)
	}
}

// Tests that events delivered before login resolves are dropped outright: no
// roster mutation, no notification, no queueing for later.
func TestEventsDroppedBeforeLogin(t *testing.T) {
	h := newTestHarness(t)

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: "u2", Name: "Eve"}}
	h.provider.events <- provider.Event{Client: &provider.ClientState{UserID: "u2", ClientID: "c2", Status: provider.StatusOnline}}
	h.provider.events <- provider.Event{Message: &provider.IncomingMessage{
		From:    provider.ClientState{UserID: "u2", ClientID: "c2", Status: provider.StatusOnline},
		Payload: []byte("hello"),
	}}
	// Give the event loop a chance to misbehave
	time.Sleep(50 * time.Millisecond)

	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Pre-login events mutated the roster: %v", users)
	}
	select {
	case update := <-h.notifier.updates:
		t.Fatalf("Pre-login event emitted notification: %+v", update)
	default:
	}
	// The drops must not resurface after login either
	h.login(t)
	time.Sleep(50 * time.Millisecond)

	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Dropped events were replayed after login: %v", users)
	}
}

// Tests that clients online under a different application never enter the
// roster, neither via presence nor via messages.
func TestOtherApplicationClientsIgnored(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.events <- provider.Event{Client: &provider.ClientState{
		UserID: "u2", ClientID: "c2", Status: provider.StatusOtherApp,
	}}
	h.provider.events <- provider.Event{Message: &provider.IncomingMessage{
		From:    provider.ClientState{UserID: "u2", ClientID: "c2", Status: provider.StatusOtherApp},
		Payload: []byte("hello"),
	}}
	time.Sleep(50 * time.Millisecond)

	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Other-application client entered the roster: %v", users)
	}
}

// Tests that a message arriving before any profile or presence event for its
// sender creates the roster user, registers the sending client as online and
// delivers the payload.
func TestMessageBeforePresence(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.events <- provider.Event{Message: &provider.IncomingMessage{
		From:    provider.ClientState{UserID: "u3", ClientID: "c3", Status: provider.StatusOnline},
		Payload: []byte("ohai"),
	}}
	select {
	case msg := <-h.agents.messages:
		if msg.clientID != "c3" || string(msg.payload) != "ohai" {
			t.Fatalf("Delivered message mismatch: have %v/%q", msg.clientID, msg.payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("Message delivery timed out")
	}
	user, ok := h.network.getUser("u3")
	if !ok {
		t.Fatalf("Sender was not added to the roster")
	}
	if client, ok := user.Client("c3"); !ok || client.Status != StatusOnline {
		t.Fatalf("Sending client not registered online: %+v", client)
	}
}

// Tests that profile events fill in roster metadata, while events about the
// local user update the self profile without creating a roster entry.
func TestProfileRouting(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: "u2", Name: "Eve"}}
	h.waitRoster(t, func(users []UserInfo) bool {
		return len(users) == 1 && users[0].UserID == "u2" && users[0].Name == "Eve"
	})

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: "u1", Name: "Self"}}
	payload := h.notifier.waitUpdate(t, UpdateSelfProfile)
	if self := payload.(SelfProfile); self.UserID != "u1" || self.Name != "Self" {
		t.Fatalf("Self profile notification mismatch: %+v", self)
	}
	if users := h.network.Roster(); len(users) != 1 {
		t.Fatalf("Self profile created a roster entry: %v", users)
	}
}

// Tests that an offline presence event for the session's own client acts as
// an authoritative remote logout: monitor stopped, roster users notified,
// registry entry removed, network announced offline.
func TestSelfOfflineTeardown(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	// Seed a contact so the logout notification path has someone to tell
	h.provider.events <- provider.Event{Client: &provider.ClientState{
		UserID: "u2", ClientID: "c2", Status: provider.StatusOnline,
	}}
	<-h.agents.clients

	h.provider.events <- provider.Event{Client: &provider.ClientState{
		UserID: "u1", ClientID: "c1", Status: provider.StatusOffline,
	}}
	payload := h.notifier.waitUpdate(t, UpdateNetwork)
	if status := payload.(NetworkStatus); status.Online {
		t.Fatalf("Network still online after remote logout: %+v", status)
	}
	select {
	case <-h.agents.logouts:
	case <-time.After(time.Second):
		t.Fatalf("Roster user was not notified of logout")
	}
	if _, err := h.registry.Session("X", "u1"); err == nil {
		t.Fatalf("Registry entry survived remote logout")
	}
	h.network.lock.Lock()
	monitor := h.network.monitor
	h.network.lock.Unlock()
	if monitor != nil {
		t.Fatalf("Monitor loop survived remote logout")
	}
	if state := h.network.currentState(); state != stateLoggedOut {
		t.Fatalf("Session state mismatch: have %v, want %v", state, stateLoggedOut)
	}
}

// Tests that the local instance record minted on first login is the exact
// record loaded on a subsequent login of the same identity.
func TestInstanceRecordRoundTrip(t *testing.T) {
	db := store.NewMemStore()

	h := newTestHarnessWith(t, db)
	h.login(t)

	h.network.lock.Lock()
	minted := h.network.local.InstanceID
	h.network.lock.Unlock()
	if minted == "" {
		t.Fatalf("Login minted no instance record")
	}
	if err := h.network.Logout(); err != nil {
		t.Fatalf("Failed to log out: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline

	// A second login against the same store must reuse the identity
	h.login(t)

	h.network.lock.Lock()
	loaded := h.network.local.InstanceID
	h.network.lock.Unlock()
	if loaded != minted {
		t.Fatalf("Instance record mismatch: have %v, want %v", loaded, minted)
	}
}

// Tests that contacts observed in one session are restored from storage into
// the roster of the next session for the same identity.
func TestRosterRestore(t *testing.T) {
	db := store.NewMemStore()

	h := newTestHarnessWith(t, db)
	h.login(t)

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: "u2", Name: "Eve"}}
	h.waitRoster(t, func(users []UserInfo) bool { return len(users) == 1 })

	if err := h.network.Logout(); err != nil {
		t.Fatalf("Failed to log out: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline
	h.waitRoster(t, func(users []UserInfo) bool { return len(users) == 0 })

	h.login(t)
	h.waitRoster(t, func(users []UserInfo) bool {
		return len(users) == 1 && users[0].UserID == "u2" && users[0].Name == "Eve"
	})
}

// blockingStore stalls roster key listing until released, opening up the
// window between a login's roster restore and a subsequent teardown.
type blockingStore struct {
	store.Store
	gate chan struct{}
}

func (s *blockingStore) Keys(prefix string) ([]string, error) {
	<-s.gate
	return s.Store.Keys(prefix)
}

// Tests that a roster restore still in flight when the session is torn down
// gets cancelled: no restored contact may surface in a logged-out session.
func TestRosterRestoreCancelledByLogout(t *testing.T) {
	db := store.NewMemStore()

	// Seed persisted roster state through a throwaway session
	h := newTestHarnessWith(t, db)
	h.login(t)

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: "u2", Name: "Eve"}}
	h.waitRoster(t, func(users []UserInfo) bool { return len(users) == 1 })

	if err := h.network.Logout(); err != nil {
		t.Fatalf("Failed to log out: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline

	// Log in against a stalled store and tear down before the restore can
	// even list the persisted contacts
	gate := make(chan struct{})

	h = newTestHarnessWith(t, &blockingStore{Store: db, gate: gate})
	h.login(t)

	if err := h.network.Logout(); err != nil {
		t.Fatalf("Failed to log out: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline

	// Release the store; the restore must observe the teardown and abort
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Stale roster entries in a logged-out session: %+v", users)
	}
	if state := h.network.currentState(); state != stateLoggedOut {
		t.Fatalf("Session state mismatch: have %v, want %v", state, stateLoggedOut)
	}
}

// Tests that a hanging transport login is cut off by the login deadline,
// leaving no pending marker or partial session state behind.
func TestLoginTimeout(t *testing.T) {
	h := newTestHarness(t)
	h.network.loginDeadline = 25 * time.Millisecond
	h.provider.loginGate = make(chan struct{}) // Never released

	if err := h.network.Login(context.Background(), false); err == nil {
		t.Fatalf("Login succeeded against a hanging transport")
	}
	if _, ok := h.registry.Pending("X"); ok {
		t.Fatalf("Timed out login left a pending marker behind")
	}
	if _, err := h.registry.Session("X", "u1"); err == nil {
		t.Fatalf("Timed out login left a registry session behind")
	}
	if state := h.network.currentState(); state != stateLoggedOut {
		t.Fatalf("Session state mismatch: have %v, want %v", state, stateLoggedOut)
	}
	// The session must be reusable after the timeout
	h.provider.loginGate = nil
	h.login(t)
}

// Tests that logout and login requests issued while a logout is still in
// flight on the transport are rejected, and that only one of two concurrent
// logout calls ever reaches the transport.
func TestOverlappingLogoutRejected(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.logoutGate = make(chan struct{})

	started := make(chan error, 1)
	go func() {
		started <- h.network.Logout()
	}()
	// Wait for the state machine to enter the logging-out window
	for deadline := time.Now().Add(time.Second); h.network.currentState() != stateLoggingOut; {
		if !time.Now().Before(deadline) {
			t.Fatalf("Logout never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.network.Logout(); !errors.Is(err, ErrLogoutPending) {
		t.Fatalf("Concurrent logout error mismatch: have %v, want %v", err, ErrLogoutPending)
	}
	if err := h.network.Login(context.Background(), false); !errors.Is(err, ErrLogoutPending) {
		t.Fatalf("Login during logout error mismatch: have %v, want %v", err, ErrLogoutPending)
	}
	close(h.provider.logoutGate)
	if err := <-started; err != nil {
		t.Fatalf("Gated logout failed: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline
}

// Tests that the monitor loop periodically asks every roster user to re-send
// its instance handshakes, and that it stops on logout.
func TestMonitorResend(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.events <- provider.Event{Client: &provider.ClientState{
		UserID: "u2", ClientID: "c2", Status: provider.StatusOnline,
	}}
	<-h.agents.clients

	// Yield so the monitor goroutine surely registered its ticker
	time.Sleep(10 * time.Millisecond)

	h.clock.Add(monitorInterval)
	select {
	case uid := <-h.agents.resends:
		if uid != "u2" {
			t.Fatalf("Handshake resend target mismatch: have %v, want u2", uid)
		}
	case <-time.After(time.Second):
		t.Fatalf("Handshake resend timed out")
	}
	// After logout, ticks must not reach the roster anymore
	if err := h.network.Logout(); err != nil {
		t.Fatalf("Failed to log out: %v", err)
	}
	h.notifier.waitUpdate(t, UpdateNetwork) // offline

	h.clock.Add(10 * monitorInterval)
	select {
	case <-h.agents.resends:
		t.Fatalf("Handshake resend fired after logout")
	case <-time.After(50 * time.Millisecond):
	}
}

// Tests that payloads addressed to clients without an instance correlation
// are queued and delivered by a later flush once the correlation appears.
func TestQueuedMessageFlush(t *testing.T) {
	h := newTestHarness(t)
	h.agents.correlated = false
	h.login(t)

	h.provider.events <- provider.Event{Client: &provider.ClientState{
		UserID: "u2", ClientID: "c2", Status: provider.StatusOnline,
	}}
	<-h.agents.clients

	if err := h.network.Send("u2", "c2", []byte("queued")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case msg := <-h.provider.sent:
		t.Fatalf("Uncorrelated payload hit the transport: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	// Correlation appears, the flush must deliver
	user, _ := h.network.getUser("u2")
	user.agent.(*testAgent).correlated = true

	if err := h.network.FlushQueuedMessages(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	select {
	case msg := <-h.provider.sent:
		if msg.clientID != "c2" || string(msg.payload) != "queued" {
			t.Fatalf("Flushed payload mismatch: %v/%q", msg.clientID, msg.payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("Flushed payload never hit the transport")
	}
}

// Tests that a transport rejected logout surfaces the failure and leaves the
// session fully operational.
func TestLogoutFailure(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.logoutErr = errors.New("transport glitch")
	if err := h.network.Logout(); err == nil {
		t.Fatalf("Logout succeeded against a rejecting transport")
	}
	if _, err := h.registry.Session("X", "u1"); err != nil {
		t.Fatalf("Failed logout tore the session down: %v", err)
	}
	if state := h.network.currentState(); state != stateLoggedIn {
		t.Fatalf("Session state mismatch: have %v, want %v", state, stateLoggedIn)
	}
}

// Tests that malformed payloads are dropped by the firewall without touching
// the roster.
func TestInvalidPayloadsDropped(t *testing.T) {
	h := newTestHarness(t)
	h.login(t)

	h.provider.events <- provider.Event{Profile: &provider.UserProfile{UserID: ""}}
	h.provider.events <- provider.Event{Client: &provider.ClientState{UserID: "u2", ClientID: "c2", Status: "bogus"}}
	h.provider.events <- provider.Event{Message: &provider.IncomingMessage{
		From: provider.ClientState{UserID: "u2", ClientID: "c2", Status: provider.StatusOnline},
	}}
	time.Sleep(50 * time.Millisecond)

	if users := h.network.Roster(); len(users) != 0 {
		t.Fatalf("Invalid payloads mutated the roster: %v", users)
	}
}
