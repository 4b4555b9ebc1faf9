// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import "github.com/gitee-cn/uProxy-p2p/provider"

// Status is the local presence enumeration a provider's wire-level codes are
// translated into. It is stable across transports: application code never
// sees a provider specific status value.
type Status int

const (
	// StatusOffline means the client disconnected from the network.
	StatusOffline Status = iota

	// StatusOnline means the client is reachable and running this application.
	StatusOnline

	// StatusOtherApp means the client is logged into the network through an
	// unrelated application. Such clients never enter the roster.
	StatusOtherApp
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOnline:
		return "online"
	case StatusOtherApp:
		return "other-app"
	default:
		return "unknown"
	}
}

// translateStatus converts a transport's status code into the local presence
// enumeration, reporting codes it does not recognize.
func translateStatus(code provider.Status) (Status, bool) {
	switch code {
	case provider.StatusOnline:
		return StatusOnline, true
	case provider.StatusOffline:
		return StatusOffline, true
	case provider.StatusOtherApp:
		return StatusOtherApp, true
	default:
		return StatusOffline, false
	}
}
