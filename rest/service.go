// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package rest implements the RESTful API in front of the social network
// registry, meant for a local UI process.
package rest

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	uproxy "github.com/gitee-cn/uProxy-p2p"
)

// Connector drives a login on a named network. The host process implements
// it by constructing the network's provider through its discovered binding.
type Connector func(network string, remember bool) error

// Config assembles the REST service.
type Config struct {
	Registry *uproxy.Registry // Session registry to expose
	Connect  Connector        // Login driver, nil disables the login route
}

// New creates a REST API interface in front of a session registry.
func New(config Config) http.Handler {
	return &api{
		registry: config.Registry,
		connect:  config.Connect,
		logger:   log.New("module", "rest"),
	}
}

// api is a REST wrapper on top of the session registry that translates the
// Go APIs into HTTP routes for a local user interface.
type api struct {
	registry *uproxy.Registry
	connect  Connector
	logger   log.Logger
}

// ServeHTTP implements http.Handler, serving API calls from the local UI.
func (api *api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := api.logger.New("method", r.Method, "path", r.URL.Path)

	switch {
	case strings.HasPrefix(r.URL.Path, "/networks"):
		api.serveNetworks(w, r, strings.TrimPrefix(r.URL.Path, "/networks"), logger)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}
