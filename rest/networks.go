// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	uproxy "github.com/gitee-cn/uProxy-p2p"
)

// LoginRequest is the body of a session creation call.
type LoginRequest struct {
	Remember bool `json:"remember"`
}

// SendRequest is the body of a message send call.
type SendRequest struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
	Payload  []byte `json:"payload"`
}

// ReceiveRequest is the body of an out of band message injection call on the
// identity-free network.
type ReceiveRequest struct {
	SenderID string `json:"senderId"`
	Payload  []byte `json:"payload"`
}

// receiver is the capability of sessions accepting out of band payloads.
type receiver interface {
	Receive(senderID string, payload []byte) error
}

// serveNetworks serves API calls concerning all networks.
func (api *api) serveNetworks(w http.ResponseWriter, r *http.Request, path string, logger log.Logger) {
	// Handle serving the networks root
	if path == "" {
		if r.Method != "GET" {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		logger.Debug("Requesting network listing")
		w.Header().Add("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.registry.Networks())
		return
	}
	// Descend into a single network
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	switch {
	case len(parts) == 2 && parts[1] == "session":
		api.serveLogin(w, r, parts[0], logger)
	case len(parts) == 3 && strings.HasPrefix(parts[1], "sessions"):
		api.serveSession(w, r, parts[0], parts[2], logger)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

// serveLogin serves session creation on one network.
func (api *api) serveLogin(w http.ResponseWriter, r *http.Request, network string, logger log.Logger) {
	if r.Method != "POST" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if api.connect == nil {
		http.Error(w, "Login is not wired on this node", http.StatusNotImplemented)
		return
	}
	request := new(LoginRequest)
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		logger.Warn("Provided login request is invalid", "err", err)
		http.Error(w, "Provided login request is invalid: "+err.Error(), http.StatusBadRequest)
		return
	}
	logger.Debug("Requesting network login", "network", network)
	switch err := api.connect(network, request.Remember); {
	case errors.Is(err, uproxy.ErrLoginPending), errors.Is(err, uproxy.ErrAlreadyLoggedIn):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// serveSession serves API calls concerning one authenticated session: the
// session resource itself, its roster and its outbound messages.
func (api *api) serveSession(w http.ResponseWriter, r *http.Request, network, rest string, logger log.Logger) {
	parts := strings.SplitN(rest, "/", 2)
	userID := parts[0]

	session, err := api.registry.Session(network, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	resource := ""
	if len(parts) == 2 {
		resource = parts[1]
	}
	switch {
	case resource == "" && r.Method == "DELETE":
		// Log the session out of the network
		logger.Debug("Requesting network logout", "network", network, "user", userID)
		switch err := session.Logout(); {
		case errors.Is(err, uproxy.ErrLoginPending):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusOK)
		}

	case resource == "roster" && r.Method == "GET":
		// List the session's known remote contacts
		w.Header().Add("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session.Roster())

	case resource == "messages" && r.Method == "POST":
		// Send a signaling payload to a remote client
		request := new(SendRequest)
		if err := json.NewDecoder(r.Body).Decode(request); err != nil {
			logger.Warn("Provided message is invalid", "err", err)
			http.Error(w, "Provided message is invalid: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := session.Send(request.UserID, request.ClientID, request.Payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)

	case resource == "receive" && r.Method == "POST":
		// Inject a payload the user relayed in out of band
		sink, ok := session.(receiver)
		if !ok {
			http.Error(w, "Network cannot receive out of band messages", http.StatusNotImplemented)
			return
		}
		request := new(ReceiveRequest)
		if err := json.NewDecoder(r.Body).Decode(request); err != nil {
			logger.Warn("Provided message is invalid", "err", err)
			http.Error(w, "Provided message is invalid: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := sink.Receive(request.SenderID, request.Payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)

	case resource == "flush" && r.Method == "POST":
		// Re-attempt delivery of queued payloads
		if err := session.FlushQueuedMessages(); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}
