// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ManualNetworkName is the process wide identifier of the identity-free
// network. Its registry slot is permanent and never removed.
const ManualNetworkName = "manual"

// ManualNetwork is the degenerate session variant with no transport behind
// it: messages are relayed by the user out of band (copy/paste), so user,
// client and instance identifiers all coincide. It exists to prove the
// roster contract is the one truly shared abstraction: its receive path is
// the same getOrAddUser plus message-delivery pipeline the provider backed
// variant uses.
type ManualNetwork struct {
	*roster

	notifier Notifier
	logger   log.Logger
}

// NewManualNetwork creates the identity-free session and registers its
// permanent slot.
func NewManualNetwork(registry *Registry, notifier Notifier, agents AgentFactory) *ManualNetwork {
	logger := log.New("network", ManualNetworkName)

	if notifier == nil {
		notifier = NopNotifier{}
	}
	n := &ManualNetwork{
		roster:   newRoster(ManualNetworkName, agents, logger),
		notifier: notifier,
		logger:   logger,
	}
	if registry != nil {
		registry.AddNetwork(ManualNetworkName, true)
	}
	return n
}

// Name returns the immutable network identifier of this session.
func (n *ManualNetwork) Name() string {
	return ManualNetworkName
}

// Login resolves immediately: there is no transport session to establish.
func (n *ManualNetwork) Login(ctx context.Context, remember bool) error {
	n.logger.Debug("Manual network login is a no-op")
	return nil
}

// Logout resolves immediately, dropping any accumulated roster state.
func (n *ManualNetwork) Logout() error {
	for _, user := range n.drain() {
		user.HandleLogout()
	}
	return nil
}

// Send relays the payload to the user interface for out of band delivery
// instead of a transport.
func (n *ManualNetwork) Send(userID, clientID string, payload []byte) error {
	n.logger.Debug("Relaying manual message", "client", clientID, "bytes", len(payload))
	n.notifier.Update(UpdateManualOutbound, ManualMessage{ClientID: clientID, Payload: payload})
	return nil
}

// FlushQueuedMessages is meaningless without instance correlation; it fails
// fast instead of silently no-opping.
func (n *ManualNetwork) FlushQueuedMessages() error {
	n.logger.Error("Queued message flush unsupported on manual network")
	return ErrNotSupported
}

// Receive is the sole inbound path of the identity-free network. The sender
// identifier doubles as user and client id; since no real presence signal
// exists, the client is force-marked online before the message is routed
// through the shared roster pipeline.
func (n *ManualNetwork) Receive(senderID string, payload []byte) error {
	if senderID == "" || len(payload) == 0 {
		n.logger.Error("Malformed manual message dropped", "sender", senderID)
		return nil
	}
	user := n.getOrAddUser(senderID)
	user.HandleClient(Client{ClientID: senderID, Status: StatusOnline, Timestamp: time.Now()})
	user.HandleMessage(senderID, payload)

	return nil
}
