// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package uproxy

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/log"
)

// monitor is the periodic repair loop of a provider backed session: on every
// tick it asks each roster user to re-send its instance handshake probe,
// closing client-to-instance correlation gaps left by lost or reordered
// handshakes. Exactly one monitor may be active per session.
type monitor struct {
	clock    clock.Clock
	interval time.Duration
	sweep    func() // Invoked once per tick with no in-flight await on stop

	term   chan struct{} // Teardown request channel
	done   chan struct{} // Closed when the loop exits
	logger log.Logger
}

// newMonitor assembles a handshake resend loop, but does not start it.
func newMonitor(cl clock.Clock, interval time.Duration, sweep func(), logger log.Logger) *monitor {
	if interval <= 0 {
		interval = monitorInterval
	}
	return &monitor{
		clock:    cl,
		interval: interval,
		sweep:    sweep,
		term:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// loop runs the resend schedule until terminated.
func (m *monitor) loop() {
	defer close(m.done)

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.logger.Debug("Handshake monitor started", "interval", m.interval)
	for {
		select {
		case <-m.term:
			m.logger.Debug("Handshake monitor stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// stop terminates the loop and waits for it to wind down. Safe to call once.
func (m *monitor) stop() {
	close(m.term)
	<-m.done
}
