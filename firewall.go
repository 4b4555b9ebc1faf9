// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import "github.com/gitee-cn/uProxy-p2p/provider"

// Firewall validates inbound provider payloads before they may touch the
// roster. Rejected payloads are logged and dropped by the caller, never
// propagated as errors.
type Firewall interface {
	ValidUserProfile(profile *provider.UserProfile) bool
	ValidClientState(client *provider.ClientState) bool
	ValidIncomingMessage(message *provider.IncomingMessage) bool
}

// NewFirewall creates the default payload validator, enforcing basic shape
// sanity: identifiers present, status codes known, payload sizes bounded.
func NewFirewall() Firewall {
	return &basicFirewall{maxPayload: maxMessagePayload}
}

type basicFirewall struct {
	maxPayload int
}

func (f *basicFirewall) ValidUserProfile(profile *provider.UserProfile) bool {
	if profile == nil || profile.UserID == "" {
		return false
	}
	return len(profile.Image) <= f.maxPayload
}

func (f *basicFirewall) ValidClientState(client *provider.ClientState) bool {
	if client == nil || client.UserID == "" || client.ClientID == "" {
		return false
	}
	_, ok := translateStatus(client.Status)
	return ok
}

func (f *basicFirewall) ValidIncomingMessage(message *provider.IncomingMessage) bool {
	if message == nil || !f.ValidClientState(&message.From) {
		return false
	}
	return len(message.Payload) > 0 && len(message.Payload) <= f.maxPayload
}
