// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package wsnet implements the provider contract on top of a websocket
// signaling server speaking a small JSON frame protocol. It is the transport
// of choice for deployments without a native social network binding.
package wsnet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gitee-cn/uProxy-p2p/provider"
	"github.com/gorilla/websocket"
)

// NetworkName is the namespaced identifier the websocket network advertises.
const NetworkName = "uproxy.wsnet"

// eventQueueDepth bounds the inbound event queue towards the core.
const eventQueueDepth = 64

// loginGrace is how long the server may take to answer a login frame.
const loginGrace = 10 * time.Second

// Frame types exchanged with the signaling server.
const (
	frameLogin   = "login"
	frameWelcome = "welcome"
	frameProfile = "profile"
	frameClient  = "client"
	frameMessage = "message"
	frameSend    = "send"
)

// frame is the JSON message exchanged with the signaling server. Only the
// fields relevant to the frame type are populated.
type frame struct {
	Type string `json:"type"`

	// Login request / welcome response
	UserID   string `json:"userId,omitempty"`
	Remember bool   `json:"remember,omitempty"`

	// Inbound traffic
	Profile *provider.UserProfile `json:"profile,omitempty"`
	Client  *provider.ClientState `json:"client,omitempty"`
	From    *provider.ClientState `json:"from,omitempty"`

	// Signaling payloads, both directions
	To      string `json:"to,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Config assembles a websocket provider.
type Config struct {
	URL    string // Signaling server endpoint, e.g. wss://signal.example.org/v1
	UserID string // Identity to authenticate as
}

// Client is a websocket backed social network provider.
type Client struct {
	url    string
	userID string

	events chan provider.Event
	conn   *websocket.Conn
	logger log.Logger
	lock   sync.Mutex // Guards the connection and serializes frame writes
}

// New creates a websocket provider towards a signaling server.
func New(config Config) *Client {
	return &Client{
		url:    config.URL,
		userID: config.UserID,
		events: make(chan provider.Event, eventQueueDepth),
		logger: log.New("wsnet", config.URL),
	}
}

// Login dials the signaling server and authenticates, returning the client
// state the server assigned to this connection.
func (c *Client) Login(ctx context.Context, desc provider.Descriptor) (provider.ClientState, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil {
		return provider.ClientState{}, errors.New("already connected")
	}
	userID := c.userID
	if desc.UserID != "" {
		userID = desc.UserID
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return provider.ClientState{}, err
	}
	if err := conn.WriteJSON(&frame{Type: frameLogin, UserID: userID, Remember: desc.Remember}); err != nil {
		conn.Close()
		return provider.ClientState{}, err
	}
	deadline := time.Now().Add(loginGrace)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	welcome := new(frame)
	if err := conn.ReadJSON(welcome); err != nil {
		conn.Close()
		return provider.ClientState{}, err
	}
	if welcome.Type != frameWelcome || welcome.Client == nil {
		conn.Close()
		return provider.ClientState{}, errors.New("malformed welcome frame")
	}
	conn.SetReadDeadline(time.Time{})

	c.conn = conn
	go c.readPump(conn)

	c.logger.Info("Signaling session established", "user", welcome.Client.UserID, "client", welcome.Client.ClientID)
	return *welcome.Client, nil
}

// Logout closes the signaling session.
func (c *Client) Logout() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return provider.ErrNotConnected
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil

	return err
}

// SendMessage delivers an opaque payload to a remote client through the
// signaling server.
func (c *Client) SendMessage(clientID string, payload []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return provider.ErrNotConnected
	}
	return c.conn.WriteJSON(&frame{Type: frameSend, To: clientID, Payload: payload})
}

// Events returns the channel inbound traffic is delivered on.
func (c *Client) Events() <-chan provider.Event {
	return c.events
}

// readPump translates server frames into provider events until the session
// breaks, dropping (with a logged error) whatever the core cannot keep up
// with.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		msg := new(frame)
		if err := conn.ReadJSON(msg); err != nil {
			c.lock.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.lock.Unlock()
			c.logger.Debug("Signaling session torn down", "err", err)
			return
		}
		var event provider.Event
		switch msg.Type {
		case frameProfile:
			event.Profile = msg.Profile
		case frameClient:
			event.Client = msg.Client
		case frameMessage:
			if msg.From == nil {
				c.logger.Warn("Message frame without sender dropped")
				continue
			}
			event.Message = &provider.IncomingMessage{From: *msg.From, Payload: msg.Payload}
		default:
			c.logger.Warn("Unknown frame type dropped", "type", msg.Type)
			continue
		}
		select {
		case c.events <- event:
		default:
			c.logger.Error("Event queue full, dropping event")
		}
	}
}
