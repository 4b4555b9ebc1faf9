// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import "time"

const (
	// monitorInterval is the default period between two instance-handshake
	// resend sweeps over the roster.
	monitorInterval = 5 * time.Second

	// loginTimeout is the default deadline enforced on a transport login,
	// after which the attempt fails with no session state left behind.
	loginTimeout = 45 * time.Second

	// maxMessagePayload is the largest signaling payload the firewall lets
	// through. Anything bigger is assumed to be garbage or abuse.
	maxMessagePayload = 64 * 1024
)
