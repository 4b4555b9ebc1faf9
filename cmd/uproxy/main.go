// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// This file contains a development server to launch a local node with the
// loopback network and an optional websocket signaling network, exposed via
// the REST API.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/log"
	uproxy "github.com/gitee-cn/uProxy-p2p"
	"github.com/gitee-cn/uProxy-p2p/provider"
	"github.com/gitee-cn/uProxy-p2p/provider/loopback"
	"github.com/gitee-cn/uProxy-p2p/provider/wsnet"
	"github.com/gitee-cn/uProxy-p2p/rest"
	"github.com/gitee-cn/uProxy-p2p/store"
)

var (
	datadirFlag   = flag.String("datadir", ".", "Data directory for the identity records")
	apiportFlag   = flag.Int("apiport", 4444, "TCP port to launch the API server on")
	useridFlag    = flag.String("userid", "dev", "Identity to authenticate with on login")
	wsnetFlag     = flag.String("wsnet", "", "Websocket signaling server to advertise (empty to disable)")
	verbosityFlag = flag.Int("verbosity", int(log.LvlInfo), "Log level to run with")
)

// logNotifier dumps all user facing events into the process log. The dev
// server has no UI to push them to.
type logNotifier struct {
	logger log.Logger
}

func (n *logNotifier) Update(kind uproxy.UpdateKind, payload interface{}) {
	n.logger.Info("Notification event", "kind", kind, "payload", payload)
}
func (n *logNotifier) ShowNotification(text string) { n.logger.Info("Notification", "text", text) }
func (n *logNotifier) SendError(text string)        { n.logger.Error("Notification", "text", text) }

func main() {
	flag.Parse()

	// Enable colored terminal logging
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(*verbosityFlag), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	// Open the identity record database
	db, err := store.NewLevelStore(*datadirFlag)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Advertise the available network bindings
	hub, err := loopback.NewHub("uproxy")
	if err != nil {
		panic(err)
	}
	defer hub.Close()

	provider.Register(provider.Binding{
		Name:       loopback.NetworkName,
		Capability: provider.CapabilitySocial,
		Factory: func() (provider.Provider, error) {
			return hub.NewClient(*useridFlag, *useridFlag), nil
		},
	})
	if *wsnetFlag != "" {
		provider.Register(provider.Binding{
			Name:       wsnet.NetworkName,
			Capability: provider.CapabilitySocial,
			Factory: func() (provider.Provider, error) {
				return wsnet.New(wsnet.Config{URL: *wsnetFlag, UserID: *useridFlag}), nil
			},
		})
	}
	// Assemble the registry and the permanent identity-free network
	notifier := &logNotifier{logger: log.New("module", "notifier")}

	registry := uproxy.NewRegistry(notifier)
	registry.Discover()

	// The identity-free network is always on: activate it straight into the
	// registry so its relay paths are reachable over REST
	manual := uproxy.NewManualNetwork(registry, notifier, nil)
	registry.Activate(uproxy.ManualNetworkName, uproxy.ManualNetworkName, manual)

	// Wire the login driver constructing sessions from discovered bindings
	connect := func(network string, remember bool) error {
		binding, ok := provider.Lookup(network)
		if !ok {
			return fmt.Errorf("network %s not discovered", network)
		}
		prov, err := binding.Factory()
		if err != nil {
			return err
		}
		session := uproxy.NewProviderNetwork(uproxy.NetworkConfig{
			Name:            binding.Name,
			Provider:        prov,
			Registry:        registry,
			Store:           db,
			Notifier:        notifier,
			SuppressMonitor: binding.SuppressMonitor,
			MonitorInterval: binding.MonitorInterval,
		})
		if err := session.Login(context.Background(), remember); err != nil {
			session.Close()
			return err
		}
		return nil
	}
	// Expose everything over REST for the local UI
	http.ListenAndServe(fmt.Sprintf("localhost:%d", *apiportFlag), rest.New(rest.Config{
		Registry: registry,
		Connect:  connect,
	}))
}
