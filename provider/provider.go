// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package provider defines the boundary between the social network core and
// the concrete transports delivering presence, profile and message traffic.
package provider

import (
	"context"
	"errors"
)

// Status is the presence state a transport reports for a single client. The
// values are wire-level codes; the core translates them into its own richer
// enumeration and is free to reject codes it does not recognize.
type Status string

const (
	// StatusOnline means the client is logged into the network and running
	// this application.
	StatusOnline Status = "online"

	// StatusOffline means the client disconnected from the network.
	StatusOffline Status = "offline"

	// StatusOtherApp means the client is logged into the network, but through
	// some unrelated application. Such clients can never exchange signaling
	// messages with us and are invisible to the roster.
	StatusOtherApp Status = "online_with_other_app"
)

// ErrNotConnected is returned by transport operations that require a live
// authenticated session when none exists.
var ErrNotConnected = errors.New("provider not connected")

// Descriptor is the fixed set of options passed to a transport login.
type Descriptor struct {
	Interactive bool   // Whether the transport may prompt the user to authenticate
	Remember    bool   // Whether the transport should persist the credentials
	UserID      string // Optional identity hint for transports supporting multiple accounts
}

// UserProfile is the transport's view of a user's public metadata.
type UserProfile struct {
	UserID    string // Network scoped stable user identifier
	Name      string // Human readable display name, possibly empty
	Image     []byte // Raw profile image bytes, possibly nil
	Timestamp int64  // Unix millis the profile was generated at
}

// ClientState is the transport's view of one connected endpoint of a user.
type ClientState struct {
	UserID    string // Owner of this client endpoint
	ClientID  string // Network scoped client identifier
	Status    Status // Wire-level presence code
	Timestamp int64  // Unix millis the state was observed at
}

// IncomingMessage is a raw signaling payload received from a remote client.
type IncomingMessage struct {
	From    ClientState // Presence snapshot of the sender
	Payload []byte      // Opaque serialized signaling payload
}

// Event is the envelope every transport delivers its traffic in. Exactly one
// field is non-nil per event. The envelope shape keeps the event channel
// monomorphic and doubles as the gob wire format of the loopback transport.
type Event struct {
	Profile *UserProfile
	Client  *ClientState
	Message *IncomingMessage
}

// Provider is a concrete social network transport. Implementations deliver
// their inbound traffic on the Events channel in arrival order and never
// block on it longer than the configured queue depth allows.
type Provider interface {
	// Login authenticates against the network and returns the client state
	// assigned to this connection. The context carries the login deadline.
	Login(ctx context.Context, desc Descriptor) (ClientState, error)

	// Logout terminates the authenticated session.
	Logout() error

	// SendMessage delivers an opaque payload to a remote client.
	SendMessage(clientID string, payload []byte) error

	// Events returns the channel inbound traffic is delivered on. The channel
	// is closed when the provider is torn down for good.
	Events() <-chan Event
}
