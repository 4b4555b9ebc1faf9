// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/crypto/sha3"
)

// Client is one concurrently connected endpoint of a roster user.
type Client struct {
	ClientID  string    // Network scoped client identifier
	Status    Status    // Current presence of this endpoint
	Timestamp time.Time // Last time the presence was observed
}

// UserAgent is the per-user collaborator driving conversation state that the
// core itself does not own: client-to-instance correlation, handshake
// construction and final message delivery.
type UserAgent interface {
	// Update is invoked when the user's profile metadata changes.
	Update(name string, image []byte)

	// HandleClient is invoked when one of the user's clients changes presence.
	HandleClient(client Client)

	// HandleMessage delivers a signaling payload received from one of the
	// user's clients.
	HandleMessage(clientID string, payload []byte)

	// HandleLogout is invoked when the owning session is torn down.
	HandleLogout()

	// ResendInstanceHandshakes re-issues the instance handshake probe to all
	// of the user's clients missing an instance correlation.
	ResendInstanceHandshakes()

	// ClientToInstance resolves the application-level instance behind a
	// client, if the handshake already established one.
	ClientToInstance(clientID string) (string, bool)
}

// AgentFactory constructs the per-user collaborator when a user first enters
// the roster.
type AgentFactory func(userID string) UserAgent

// nopAgent is the default collaborator wired when none is injected. It keeps
// the core functional in isolation: every client resolves to itself.
type nopAgent struct{}

func (nopAgent) Update(name string, image []byte)              {}
func (nopAgent) HandleClient(client Client)                    {}
func (nopAgent) HandleMessage(clientID string, payload []byte) {}
func (nopAgent) HandleLogout()                                 {}
func (nopAgent) ResendInstanceHandshakes()                     {}
func (nopAgent) ClientToInstance(id string) (string, bool)     { return id, true }

// queuedMessage is an outbound payload held back until its destination client
// gains an instance correlation.
type queuedMessage struct {
	clientID string
	payload  []byte
}

// User is a single remote contact on one network. It is created on first
// reference with possibly empty metadata and only ever reachable through its
// owning session's roster.
type User struct {
	UserID string // Stable network scoped identifier

	name      string            // Display name, empty until a profile arrives
	image     []byte            // Raw profile image, nil until a profile arrives
	imageHash [32]byte          // Content hash of image for change detection
	clients   map[string]Client // Live presence per client endpoint
	queue     []queuedMessage   // Outbound payloads awaiting instance correlation

	agent  UserAgent
	logger log.Logger
	lock   sync.RWMutex
}

// newUser constructs a blank roster entry for a remote contact.
func newUser(userID string, agent UserAgent, logger log.Logger) *User {
	if agent == nil {
		agent = nopAgent{}
	}
	return &User{
		UserID:  userID,
		clients: make(map[string]Client),
		agent:   agent,
		logger:  logger.New("user", userID),
	}
}

// Name returns the user's display name, empty until a profile event arrived.
func (u *User) Name() string {
	u.lock.RLock()
	defer u.lock.RUnlock()

	return u.name
}

// Clients returns a snapshot of the user's currently known client endpoints.
func (u *User) Clients() []Client {
	u.lock.RLock()
	defer u.lock.RUnlock()

	clients := make([]Client, 0, len(u.clients))
	for _, client := range u.clients {
		clients = append(clients, client)
	}
	return clients
}

// Client retrieves the presence of a single client endpoint.
func (u *User) Client(clientID string) (Client, bool) {
	u.lock.RLock()
	defer u.lock.RUnlock()

	client, ok := u.clients[clientID]
	return client, ok
}

// Update fills in or refreshes the user's profile metadata and forwards the
// change to the per-user collaborator.
func (u *User) Update(name string, image []byte) {
	u.lock.Lock()
	if name != "" {
		u.name = name
	}
	if image != nil {
		if hash := sha3.Sum256(image); hash != u.imageHash {
			u.image, u.imageHash = image, hash
		}
	}
	name, image = u.name, u.image
	u.lock.Unlock()

	u.agent.Update(name, image)
}

// HandleClient applies a presence change to one of the user's endpoints. A
// terminal offline status evicts the client record; anything else upserts it.
func (u *User) HandleClient(client Client) {
	u.lock.Lock()
	if client.Status == StatusOffline {
		delete(u.clients, client.ClientID)
	} else {
		u.clients[client.ClientID] = client
	}
	u.lock.Unlock()

	u.logger.Debug("Client presence changed", "client", client.ClientID, "status", client.Status)
	u.agent.HandleClient(client)
}

// HandleMessage routes an inbound signaling payload to the collaborator. If
// the sending client is not yet known, message receipt itself is treated as
// implicit presence and the client is registered online first.
func (u *User) HandleMessage(clientID string, payload []byte) {
	u.lock.Lock()
	if _, ok := u.clients[clientID]; !ok {
		u.clients[clientID] = Client{ClientID: clientID, Status: StatusOnline, Timestamp: time.Now()}
		u.lock.Unlock()

		u.logger.Debug("Message from unknown client, registering", "client", clientID)
		u.agent.HandleClient(u.mustClient(clientID))
	} else {
		u.lock.Unlock()
	}
	u.agent.HandleMessage(clientID, payload)
}

// mustClient retrieves a client record that is known to exist.
func (u *User) mustClient(clientID string) Client {
	u.lock.RLock()
	defer u.lock.RUnlock()

	return u.clients[clientID]
}

// HandleLogout tears down all client state when the owning session ends.
func (u *User) HandleLogout() {
	u.lock.Lock()
	u.clients = make(map[string]Client)
	u.queue = nil
	u.lock.Unlock()

	u.agent.HandleLogout()
}

// ResendInstanceHandshakes asks the collaborator to re-probe every client
// still missing an instance correlation.
func (u *User) ResendInstanceHandshakes() {
	u.agent.ResendInstanceHandshakes()
}

// queueMessage holds back an outbound payload until the destination client
// gains an instance correlation.
func (u *User) queueMessage(clientID string, payload []byte) {
	u.lock.Lock()
	defer u.lock.Unlock()

	u.queue = append(u.queue, queuedMessage{clientID: clientID, payload: payload})
}

// flushQueue attempts to deliver all held back payloads whose destination
// client meanwhile gained an instance correlation. Payloads still lacking one
// remain queued.
func (u *User) flushQueue(send func(clientID string, payload []byte) error) error {
	u.lock.Lock()
	pending := u.queue
	u.queue = nil
	u.lock.Unlock()

	var failure error
	for _, msg := range pending {
		if _, ok := u.agent.ClientToInstance(msg.clientID); !ok {
			u.queueMessage(msg.clientID, msg.payload)
			continue
		}
		if err := send(msg.clientID, msg.payload); err != nil {
			u.logger.Error("Queued message delivery failed", "client", msg.clientID, "err", err)
			failure = err
		}
	}
	return failure
}
