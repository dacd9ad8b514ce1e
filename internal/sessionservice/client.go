// Package sessionservice implements an async RPC-style client for the
// external identity/session service: grant issuance and grant exchange.
// The core never validates or mints credentials itself — it delegates
// both operations here (see SPEC_FULL.md §1 Non-goals).
package sessionservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Caller is the narrow HTTP transport seam, grounded on the teacher's
// internal/proxy.HTTPCaller: a single method that POSTs a request body
// and returns a response body, so the RPC framing above it stays
// transport-agnostic and unit-testable with a fake Caller.
type Caller interface {
	Call(ctx context.Context, path string, body []byte) ([]byte, error)
}

type httpCaller struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCaller builds a Caller that POSTs JSON bodies to baseURL+path.
func NewHTTPCaller(baseURL string, timeout time.Duration) Caller {
	return &httpCaller{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *httpCaller) Call(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("constructing session-service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session-service request error: %w", err)
	}
	defer resp.Body.Close()
	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading session-service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session-service returned status %d: %s", resp.StatusCode, string(respData))
	}
	return respData, nil
}

// GrantRequest asks the session service to authorize a freshly connected
// player.
type GrantRequest struct {
	PlayerID      uuid.UUID `json:"player_id"`
	Username      string    `json:"username"`
	IdentityToken []byte    `json:"identity_token"`
}

// GrantResponse carries the authorization grant and server identity
// token forwarded to the client as *AuthGrant*.
type GrantResponse struct {
	AuthorizationGrant  []byte `json:"authorization_grant"`
	ServerIdentityToken []byte `json:"server_identity_token"`
}

// ExchangeRequest exchanges a server authorization grant for a server
// access token, once the client has completed its own auth leg.
type ExchangeRequest struct {
	PlayerID                 uuid.UUID `json:"player_id"`
	ServerAuthorizationGrant []byte    `json:"server_authorization_grant"`
}

// ExchangeResponse carries the server access token.
type ExchangeResponse struct {
	ServerAccessToken []byte `json:"server_access_token"`
}

// Client is the Session-Service Client (C).
type Client struct {
	caller Caller
}

// NewClient wraps a Caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// RequestGrant issues an authorization grant for a newly handshaking player.
func (c *Client) RequestGrant(ctx context.Context, req GrantRequest) (*GrantResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding grant request: %w", err)
	}
	respData, err := c.caller.Call(ctx, "/grants", body)
	if err != nil {
		return nil, err
	}
	var resp GrantResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("decoding grant response: %w", err)
	}
	return &resp, nil
}

// ExchangeGrant exchanges a server authorization grant for a server
// access token.
func (c *Client) ExchangeGrant(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}
	respData, err := c.caller.Call(ctx, "/exchange", body)
	if err != nil {
		return nil, err
	}
	var resp ExchangeResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("decoding exchange response: %w", err)
	}
	return &resp, nil
}
