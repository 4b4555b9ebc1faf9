// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	uproxy "github.com/gitee-cn/uProxy-p2p"
)

// API is a tiny Go client for the node's REST APIs. The purpose is to allow
// writing integration tests and scenarios in Go.
type API struct {
	endpoint string
}

// NewAPI creates a simplistic REST API client around a node endpoint.
func NewAPI(endpoint string) *API {
	return &API{
		endpoint: endpoint,
	}
}

func (api *API) Networks() ([]uproxy.NetworkStatus, error) {
	var networks []uproxy.NetworkStatus
	if err := api.run("GET", "/networks", nil, &networks); err != nil {
		return nil, err
	}
	return networks, nil
}
func (api *API) Login(network string, remember bool) error {
	return api.run("POST", "/networks/"+network+"/session", &LoginRequest{Remember: remember}, nil)
}
func (api *API) Logout(network, userID string) error {
	return api.run("DELETE", "/networks/"+network+"/sessions/"+userID, nil, nil)
}
func (api *API) Roster(network, userID string) ([]uproxy.UserInfo, error) {
	var roster []uproxy.UserInfo
	if err := api.run("GET", "/networks/"+network+"/sessions/"+userID+"/roster", nil, &roster); err != nil {
		return nil, err
	}
	return roster, nil
}
func (api *API) Send(network, userID string, request *SendRequest) error {
	return api.run("POST", "/networks/"+network+"/sessions/"+userID+"/messages", request, nil)
}
func (api *API) Flush(network, userID string) error {
	return api.run("POST", "/networks/"+network+"/sessions/"+userID+"/flush", nil, nil)
}
func (api *API) Receive(network, userID string, request *ReceiveRequest) error {
	return api.run("POST", "/networks/"+network+"/sessions/"+userID+"/receive", request, nil)
}

// run executes a single API call, serializing the request and parsing the
// response into the given reply object.
func (api *API) run(method string, path string, request interface{}, reply interface{}) error {
	// If a request body was specified, serialize it
	var body []byte
	if request != nil {
		blob, err := json.Marshal(request)
		if err != nil {
			return err
		}
		body = blob
	}
	// Run the request and ensure it succeeds
	req, err := http.NewRequest(method, api.endpoint+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err = io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("request failed: %d: %s", res.StatusCode, string(body))
	}
	// Request seems to have succeeded, parse any expected reply
	if reply != nil {
		return json.Unmarshal(body, reply)
	}
	return nil
}
