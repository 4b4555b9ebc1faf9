// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package loopback implements an in-process social network: a hub relaying
// presence and signaling between attached providers over in-memory pipes.
// It backs the test suite and the development server.
package loopback

import (
	"context"
	"encoding/gob"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/akutz/memconn"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gitee-cn/uProxy-p2p/provider"
	"github.com/google/uuid"
)

// NetworkName is the namespaced identifier the loopback network advertises.
const NetworkName = "uproxy.loopback"

// eventQueueDepth bounds the per-client inbound event queue. Events beyond
// it are dropped with a logged error rather than blocking the hub.
const eventQueueDepth = 64

// wireEnvelope is the gob message exchanged between hub and clients. Exactly
// one field is set per message.
type wireEnvelope struct {
	Login   *wireLogin            // Client to hub: authentication request
	Welcome *provider.ClientState // Hub to client: assigned client state
	Event   *provider.Event       // Hub to client: relayed network traffic
	Send    *wireSend             // Client to hub: outbound signaling payload
	Logout  *wireLogout           // Client to hub: orderly disconnect
}

type wireLogin struct {
	UserID string
	Name   string
}

type wireSend struct {
	ClientID string // Destination client
	Payload  []byte
}

type wireLogout struct{}

// member is one attached client from the hub's perspective.
type member struct {
	state provider.ClientState
	name  string

	enc  *gob.Encoder
	conn net.Conn
	lock sync.Mutex // Serializes envelope writes to this member
}

// send delivers one envelope to the member, serialized per connection.
func (m *member) send(env *wireEnvelope) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.enc.Encode(env)
}

// Hub simulates one social network inside the local process. Every attached
// client gets a fresh client id and sees the presence and profiles of all
// other members.
type Hub struct {
	address  string
	pipes    *memconn.Provider
	listener net.Listener

	members map[string]*member // Attached clients by client id
	logger  log.Logger
	lock    sync.RWMutex
}

// NewHub creates a loopback network hub and starts accepting attachments.
func NewHub(address string) (*Hub, error) {
	hub := &Hub{
		address: address,
		pipes:   &memconn.Provider{},
		members: make(map[string]*member),
		logger:  log.New("loopback", address),
	}
	listener, err := hub.pipes.Listen("memu", address)
	if err != nil {
		return nil, err
	}
	hub.listener = listener

	go hub.accept()
	return hub, nil
}

// Close detaches all members and stops accepting new ones.
func (h *Hub) Close() error {
	err := h.listener.Close()

	h.lock.Lock()
	for _, m := range h.members {
		m.conn.Close()
	}
	h.members = make(map[string]*member)
	h.lock.Unlock()

	return err
}

// accept attaches inbound connections until the listener closes.
func (h *Hub) accept() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go h.handle(conn)
	}
}

// handle runs the hub side of one client connection: authentication,
// presence announcement and message relaying until teardown.
func (h *Hub) handle(conn net.Conn) {
	defer conn.Close()

	var (
		enc = gob.NewEncoder(conn)
		dec = gob.NewDecoder(conn)
	)
	// The client must authenticate before anything else
	conn.SetDeadline(time.Now().Add(time.Second))

	login := new(wireEnvelope)
	if err := dec.Decode(login); err != nil || login.Login == nil || login.Login.UserID == "" {
		h.logger.Warn("Attachment failed authentication", "err", err)
		return
	}
	conn.SetDeadline(time.Time{})

	m := &member{
		state: provider.ClientState{
			UserID:    login.Login.UserID,
			ClientID:  uuid.NewString(),
			Status:    provider.StatusOnline,
			Timestamp: time.Now().UnixMilli(),
		},
		name: login.Login.Name,
		enc:  enc,
		conn: conn,
	}
	if err := m.send(&wireEnvelope{Welcome: &m.state}); err != nil {
		h.logger.Warn("Failed to welcome member", "err", err)
		return
	}
	h.attach(m)
	defer h.detach(m)

	logger := h.logger.New("user", m.state.UserID, "client", m.state.ClientID)
	logger.Debug("Member attached")

	// Relay traffic until the member disconnects
	for {
		env := new(wireEnvelope)
		if err := dec.Decode(env); err != nil {
			logger.Debug("Member connection torn down", "err", err)
			return
		}
		switch {
		case env.Logout != nil:
			logger.Debug("Member requested logout")
			return

		case env.Send != nil:
			if err := h.relay(m, env.Send); err != nil {
				logger.Warn("Message relay failed", "dest", env.Send.ClientID, "err", err)
			}

		default:
			logger.Warn("Unexpected envelope from member")
		}
	}
}

// attach registers a new member and cross-announces presence and profiles.
func (h *Hub) attach(m *member) {
	h.lock.Lock()
	peers := make([]*member, 0, len(h.members))
	for _, peer := range h.members {
		peers = append(peers, peer)
	}
	h.members[m.state.ClientID] = m
	h.lock.Unlock()

	// Tell the newcomer about everyone, and everyone about the newcomer
	for _, peer := range peers {
		peerState, peerProfile := peer.snapshot()
		m.send(&wireEnvelope{Event: &provider.Event{Profile: peerProfile}})
		m.send(&wireEnvelope{Event: &provider.Event{Client: peerState}})

		state, profile := m.snapshot()
		peer.send(&wireEnvelope{Event: &provider.Event{Profile: profile}})
		peer.send(&wireEnvelope{Event: &provider.Event{Client: state}})
	}
	// The newcomer also observes its own client state coming online
	state, _ := m.snapshot()
	m.send(&wireEnvelope{Event: &provider.Event{Client: state}})
}

// detach removes a member and announces it offline to the remaining ones.
func (h *Hub) detach(m *member) {
	h.lock.Lock()
	delete(h.members, m.state.ClientID)
	peers := make([]*member, 0, len(h.members))
	for _, peer := range h.members {
		peers = append(peers, peer)
	}
	h.lock.Unlock()

	offline := m.state
	offline.Status = provider.StatusOffline
	offline.Timestamp = time.Now().UnixMilli()

	for _, peer := range peers {
		peer.send(&wireEnvelope{Event: &provider.Event{Client: &offline}})
	}
}

// snapshot returns fresh copies of the member's client state and profile.
func (m *member) snapshot() (*provider.ClientState, *provider.UserProfile) {
	state := m.state
	state.Timestamp = time.Now().UnixMilli()

	return &state, &provider.UserProfile{
		UserID:    m.state.UserID,
		Name:      m.name,
		Timestamp: state.Timestamp,
	}
}

// relay forwards a signaling payload from one member to another.
func (h *Hub) relay(from *member, send *wireSend) error {
	h.lock.RLock()
	dest, ok := h.members[send.ClientID]
	h.lock.RUnlock()

	if !ok {
		return errors.New("unknown destination client")
	}
	state, _ := from.snapshot()
	return dest.send(&wireEnvelope{Event: &provider.Event{Message: &provider.IncomingMessage{
		From:    *state,
		Payload: send.Payload,
	}}})
}

// Client is the provider side of a loopback attachment. It implements the
// provider contract by dialing the hub over an in-memory pipe and decoding
// relayed envelopes onto its event channel.
type Client struct {
	hub    *Hub
	userID string
	name   string

	events chan provider.Event
	conn   net.Conn
	enc    *gob.Encoder
	logger log.Logger
	lock   sync.Mutex
}

// NewClient creates a provider for one local identity on the loopback hub.
func (h *Hub) NewClient(userID, name string) *Client {
	return &Client{
		hub:    h,
		userID: userID,
		name:   name,
		events: make(chan provider.Event, eventQueueDepth),
		logger: h.logger.New("user", userID),
	}
}

// Login attaches to the hub and waits for the assigned client state.
func (c *Client) Login(ctx context.Context, desc provider.Descriptor) (provider.ClientState, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil {
		return provider.ClientState{}, errors.New("already attached")
	}
	conn, err := c.hub.pipes.Dial("memu", c.hub.address)
	if err != nil {
		return provider.ClientState{}, err
	}
	var (
		enc = gob.NewEncoder(conn)
		dec = gob.NewDecoder(conn)
	)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := enc.Encode(&wireEnvelope{Login: &wireLogin{UserID: c.userID, Name: c.name}}); err != nil {
		conn.Close()
		return provider.ClientState{}, err
	}
	welcome := new(wireEnvelope)
	if err := dec.Decode(welcome); err != nil {
		conn.Close()
		return provider.ClientState{}, err
	}
	if welcome.Welcome == nil {
		conn.Close()
		return provider.ClientState{}, errors.New("malformed welcome")
	}
	conn.SetDeadline(time.Time{})

	c.conn, c.enc = conn, enc
	go c.readLoop(dec, conn)

	return *welcome.Welcome, nil
}

// Logout detaches from the hub.
func (c *Client) Logout() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return provider.ErrNotConnected
	}
	c.enc.Encode(&wireEnvelope{Logout: &wireLogout{}})
	err := c.conn.Close()
	c.conn, c.enc = nil, nil

	return err
}

// SendMessage relays an opaque payload to a remote client through the hub.
func (c *Client) SendMessage(clientID string, payload []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.enc == nil {
		return provider.ErrNotConnected
	}
	return c.enc.Encode(&wireEnvelope{Send: &wireSend{ClientID: clientID, Payload: payload}})
}

// Events returns the channel inbound traffic is delivered on.
func (c *Client) Events() <-chan provider.Event {
	return c.events
}

// readLoop decodes relayed envelopes until the attachment breaks, pushing
// network events onto the bounded event queue.
func (c *Client) readLoop(dec *gob.Decoder, conn net.Conn) {
	for {
		env := new(wireEnvelope)
		if err := dec.Decode(env); err != nil {
			c.lock.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn, c.enc = nil, nil
			}
			c.lock.Unlock()
			return
		}
		if env.Event == nil {
			c.logger.Warn("Unexpected envelope from hub")
			continue
		}
		select {
		case c.events <- *env.Event:
		default:
			c.logger.Error("Event queue full, dropping event")
		}
	}
}
