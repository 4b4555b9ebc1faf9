// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

// UpdateKind tags the payload type of a notification event.
type UpdateKind string

const (
	// UpdateNetwork carries a NetworkStatus when a network comes online or
	// goes offline.
	UpdateNetwork UpdateKind = "network"

	// UpdateSelfProfile carries a SelfProfile when the local user's own
	// profile metadata changes.
	UpdateSelfProfile UpdateKind = "self-profile"

	// UpdateManualOutbound carries a ManualMessage that the user must relay
	// out of band (copy/paste) on the identity-free network.
	UpdateManualOutbound UpdateKind = "manual-outbound"
)

// NetworkStatus is the payload of an UpdateNetwork notification.
//
// Only a single representative user id is reported per network, picked
// arbitrarily among the authenticated ones. UIs supporting multiple local
// identities on one network are a known limitation.
type NetworkStatus struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
	UserID string `json:"userId"`
}

// SelfProfile is the payload of an UpdateSelfProfile notification.
type SelfProfile struct {
	Network string `json:"network"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Image   []byte `json:"image,omitempty"`
}

// ManualMessage is the payload of an UpdateManualOutbound notification.
type ManualMessage struct {
	ClientID string `json:"clientId"`
	Payload  []byte `json:"payload"`
}

// Notifier is the sink all user facing events are pushed into. The core never
// renders anything itself; it only emits.
type Notifier interface {
	// Update delivers a structured event of the given kind.
	Update(kind UpdateKind, payload interface{})

	// ShowNotification displays a short informational text to the user.
	ShowNotification(text string)

	// SendError displays an error text to the user.
	SendError(text string)
}

// NopNotifier discards every notification. Useful as a default and in tests
// that do not care about the emitted events.
type NopNotifier struct{}

func (NopNotifier) Update(kind UpdateKind, payload interface{}) {}
func (NopNotifier) ShowNotification(text string)                {}
func (NopNotifier) SendError(text string)                       {}
