// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/gitee-cn/uProxy-p2p/provider"
)

// waitEvent drains a provider's event channel until an event matching the
// predicate arrives.
func waitEvent(t *testing.T, c *Client, match func(provider.Event) bool) provider.Event {
	t.Helper()
	for {
		select {
		case event := <-c.Events():
			if match(event) {
				return event
			}
		case <-time.After(time.Second):
			t.Fatalf("Event timed out")
			return provider.Event{}
		}
	}
}

// Tests that two clients attached to one hub observe each other's presence
// and can exchange signaling payloads end to end.
func TestHubRelay(t *testing.T) {
	hub, err := NewHub("relay-test")
	if err != nil {
		t.Fatalf("Failed to launch hub: %v", err)
	}
	defer hub.Close()

	alice := hub.NewClient("alice", "Alice")
	bob := hub.NewClient("bob", "Bob")

	aliceState, err := alice.Login(context.Background(), provider.Descriptor{Interactive: true})
	if err != nil {
		t.Fatalf("Failed to attach alice: %v", err)
	}
	if aliceState.UserID != "alice" || aliceState.ClientID == "" || aliceState.Status != provider.StatusOnline {
		t.Fatalf("Assigned client state mismatch: %+v", aliceState)
	}
	bobState, err := bob.Login(context.Background(), provider.Descriptor{Interactive: true})
	if err != nil {
		t.Fatalf("Failed to attach bob: %v", err)
	}
	// Attachment must cross-announce presence and profiles
	waitEvent(t, alice, func(ev provider.Event) bool {
		return ev.Profile != nil && ev.Profile.UserID == "bob" && ev.Profile.Name == "Bob"
	})
	waitEvent(t, alice, func(ev provider.Event) bool {
		return ev.Client != nil && ev.Client.ClientID == bobState.ClientID && ev.Client.Status == provider.StatusOnline
	})
	waitEvent(t, bob, func(ev provider.Event) bool {
		return ev.Client != nil && ev.Client.ClientID == aliceState.ClientID && ev.Client.Status == provider.StatusOnline
	})
	// Signaling payloads must be relayed with the sender's state attached
	if err := alice.SendMessage(bobState.ClientID, []byte("offer")); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}
	event := waitEvent(t, bob, func(ev provider.Event) bool { return ev.Message != nil })
	if event.Message.From.UserID != "alice" || event.Message.From.ClientID != aliceState.ClientID {
		t.Fatalf("Message sender mismatch: %+v", event.Message.From)
	}
	if string(event.Message.Payload) != "offer" {
		t.Fatalf("Message payload mismatch: %q", event.Message.Payload)
	}
	// Detaching must announce the client offline to the remaining members
	if err := bob.Logout(); err != nil {
		t.Fatalf("Failed to detach bob: %v", err)
	}
	waitEvent(t, alice, func(ev provider.Event) bool {
		return ev.Client != nil && ev.Client.ClientID == bobState.ClientID && ev.Client.Status == provider.StatusOffline
	})
}

// Tests that sending to an unknown destination is refused and that detached
// clients cannot send at all.
func TestHubSendErrors(t *testing.T) {
	hub, err := NewHub("error-test")
	if err != nil {
		t.Fatalf("Failed to launch hub: %v", err)
	}
	defer hub.Close()

	alice := hub.NewClient("alice", "Alice")
	if err := alice.SendMessage("nobody", []byte("x")); err == nil {
		t.Fatalf("Detached client managed to send")
	}
	if _, err := alice.Login(context.Background(), provider.Descriptor{}); err != nil {
		t.Fatalf("Failed to attach alice: %v", err)
	}
	// Relaying to an unknown client is dropped at the hub; the attachment
	// itself must stay healthy
	if err := alice.SendMessage("nobody", []byte("x")); err != nil {
		t.Fatalf("Send to unknown destination errored on the client: %v", err)
	}
	if err := alice.Logout(); err != nil {
		t.Fatalf("Failed to detach alice: %v", err)
	}
}
