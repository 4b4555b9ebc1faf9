// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrContactExists is returned when a contact is explicitly added to a
	// roster that already tracks it.
	ErrContactExists = errors.New("contact already exists")

	// ErrNotSupported is returned by session variants that do not implement
	// an operation. Unsupported capabilities fail fast instead of no-opping.
	ErrNotSupported = errors.New("operation not supported")
)

// Network is the capability contract every social network session variant
// conforms to, whether backed by a real transport or an identity-free relay.
type Network interface {
	// Name returns the immutable network identifier of this session.
	Name() string

	// Login authenticates the session. The remember flag is passed through
	// to the transport's credential storage.
	Login(ctx context.Context, remember bool) error

	// Logout terminates the session, unwinding the roster.
	Logout() error

	// Send delivers a signaling payload to a remote user's client.
	Send(userID, clientID string, payload []byte) error

	// FlushQueuedMessages re-attempts delivery of payloads held back while
	// their destination clients lacked an instance correlation.
	FlushQueuedMessages() error

	// Roster returns a snapshot of the session's known remote contacts.
	Roster() []UserInfo
}

// UserInfo is an externally consumable snapshot of one roster entry.
type UserInfo struct {
	UserID  string   `json:"userId"`
	Name    string   `json:"name"`
	Clients []Client `json:"clients"`
}

// roster is the contact-management component shared by all session variants.
// It owns the userId to User mapping of exactly one session and is composed
// into the concrete variants rather than inherited.
type roster struct {
	network string           // Name of the owning network session
	selfID  string           // Local user's own id, excluded from the roster
	users   map[string]*User // Known remote contacts
	agents  AgentFactory     // Constructor for per-user collaborators
	logger  log.Logger
	lock    sync.RWMutex
}

// newRoster creates an empty contact set for a session.
func newRoster(network string, agents AgentFactory, logger log.Logger) *roster {
	return &roster{
		network: network,
		users:   make(map[string]*User),
		agents:  agents,
		logger:  logger,
	}
}

// setSelf records the authenticated local user id. Events about this id must
// never create a roster entry.
func (r *roster) setSelf(userID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.selfID = userID
}

// self returns the authenticated local user id, empty if not logged in.
func (r *roster) self() string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.selfID
}

// isNewContact reports whether a user id is neither the local user nor an
// already tracked contact.
func (r *roster) isNewContact(userID string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if userID == r.selfID {
		return false
	}
	_, ok := r.users[userID]
	return !ok
}

// addUser constructs and inserts a blank contact. Adding an already tracked
// contact is reported as an error without mutating the roster.
func (r *roster) addUser(userID string) (*User, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.users[userID]; ok {
		r.logger.Error("Contact already in roster", "user", userID)
		return nil, ErrContactExists
	}
	return r.insertUser(userID), nil
}

// getOrAddUser returns the tracked contact, creating a blank one on first
// reference. This is the single entry point all event handlers use, keeping
// duplicate-insert races structurally impossible.
func (r *roster) getOrAddUser(userID string) *User {
	r.lock.Lock()
	defer r.lock.Unlock()

	if user, ok := r.users[userID]; ok {
		return user
	}
	return r.insertUser(userID)
}

// restoreUser re-inserts a persisted contact, unless the owning session was
// torn down meanwhile. The cancellation check and the insert are atomic with
// respect to the teardown's roster drain, so a restored contact can never
// outlive the logout that raced it.
func (r *roster) restoreUser(userID string, cancel <-chan struct{}) (*User, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	select {
	case <-cancel:
		return nil, ErrNotLoggedIn
	default:
	}
	if _, ok := r.users[userID]; ok {
		return nil, ErrContactExists
	}
	return r.insertUser(userID), nil
}

// insertUser constructs and tracks a blank contact. The caller must hold the
// roster lock.
func (r *roster) insertUser(userID string) *User {
	var agent UserAgent
	if r.agents != nil {
		agent = r.agents(userID)
	}
	user := newUser(userID, agent, r.logger)
	r.users[userID] = user

	return user
}

// getUser retrieves a tracked contact.
func (r *roster) getUser(userID string) (*User, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	user, ok := r.users[userID]
	return user, ok
}

// allUsers returns a snapshot of all tracked contacts.
func (r *roster) allUsers() []*User {
	r.lock.RLock()
	defer r.lock.RUnlock()

	users := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	return users
}

// drain removes every tracked contact on session teardown, returning the
// removed set so each of them can be handed the logout notification.
func (r *roster) drain() []*User {
	r.lock.Lock()
	defer r.lock.Unlock()

	users := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	r.users = make(map[string]*User)

	return users
}

// Roster returns a snapshot of the session's known remote contacts.
func (r *roster) Roster() []UserInfo {
	infos := make([]UserInfo, 0)
	for _, user := range r.allUsers() {
		infos = append(infos, UserInfo{
			UserID:  user.UserID,
			Name:    user.Name(),
			Clients: user.Clients(),
		})
	}
	return infos
}
