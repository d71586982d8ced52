// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultEndpoint is the public GQL gateway
	DefaultEndpoint = "https://gql.twitch.tv/gql"

	// DefaultClientId is the client id of the first-party web player
	DefaultClientId = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	defaultTimeout = 30 * time.Second
)

// TokenProvider supplies a usable bearer credential for platform calls.
// Implementations should return ErrAuthentication (or an error wrapping it)
// when no credential can be obtained without user interaction.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential, e.g. one
// read from configuration. It fails with ErrAuthentication when empty.
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: no token configured", ErrAuthentication)
	}
	return string(t), nil
}

// Client is an HTTP client for the platform's GQL gateway. All calls are
// persisted-query operations.
type Client struct {
	endpoint   string
	clientId   string
	userAgent  string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client, e.g. to route through a proxy
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEndpoint overrides the GQL gateway URL. Mostly used by tests
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithClientId overrides the client id sent with each request
func WithClientId(clientId string) ClientOption {
	return func(c *Client) {
		if clientId != "" {
			c.clientId = clientId
		}
	}
}

// WithUserAgent overrides the user agent sent with each request
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new GQL gateway client using the given token provider
func NewClient(tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		clientId: DefaultClientId,
		tokens:   tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// persistedQuery identifies a pre-registered GQL operation by hash
type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

type gqlExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type gqlRequest struct {
	OperationName string        `json:"operationName"`
	Extensions    gqlExtensions `json:"extensions"`
	Variables     any           `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

func newGqlRequest(operationName, sha256Hash string, variables any) gqlRequest {
	return gqlRequest{
		OperationName: operationName,
		Extensions: gqlExtensions{
			PersistedQuery: persistedQuery{
				Version:    1,
				Sha256Hash: sha256Hash,
			},
		},
		Variables: variables,
	}
}

// do executes a single GQL operation and returns the raw data payload.
// HTTP/network failures map onto the platform error taxonomy.
func (c *Client) do(
	ctx context.Context,
	gqlReq gqlRequest,
) (json.RawMessage, error) {
	resp, err := c.post(ctx, gqlReq.OperationName, gqlReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var gqlResp gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf(
			"%w: decoding %s response: %w",
			ErrTransient,
			gqlReq.OperationName,
			err,
		)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf(
			"%s returned error: %s",
			gqlReq.OperationName,
			gqlResp.Errors[0].Message,
		)
	}
	c.logger.Debug(
		"gql operation complete",
		"component", "gql",
		"operation", gqlReq.OperationName,
	)
	return gqlResp.Data, nil
}

// doBatch executes several GQL operations in a single round trip. The
// gateway accepts an array of operations and returns results in request
// order. All operations in a batch share one operation name for error
// reporting.
func (c *Client) doBatch(
	ctx context.Context,
	gqlReqs []gqlRequest,
) ([]json.RawMessage, error) {
	if len(gqlReqs) == 0 {
		return nil, nil
	}
	opName := gqlReqs[0].OperationName
	resp, err := c.post(ctx, opName, gqlReqs)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var gqlResps []gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResps); err != nil {
		return nil, fmt.Errorf(
			"%w: decoding %s response: %w",
			ErrTransient,
			opName,
			err,
		)
	}
	if len(gqlResps) != len(gqlReqs) {
		return nil, fmt.Errorf(
			"%w: %s returned %d results for %d operations",
			ErrTransient,
			opName,
			len(gqlResps),
			len(gqlReqs),
		)
	}
	results := make([]json.RawMessage, 0, len(gqlResps))
	for _, gqlResp := range gqlResps {
		if len(gqlResp.Errors) > 0 {
			return nil, fmt.Errorf(
				"%s returned error: %s",
				opName,
				gqlResp.Errors[0].Message,
			)
		}
		results = append(results, gqlResp.Data)
	}
	c.logger.Debug(
		"gql batch complete",
		"component", "gql",
		"operation", opName,
		"operations", len(gqlReqs),
	)
	return results, nil
}

// post sends the given payload to the gateway and maps HTTP/network
// failures onto the platform error taxonomy. The caller owns the response
// body on success.
func (c *Client) post(
	ctx context.Context,
	opName string,
	payload any,
) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: obtaining token: %w", ErrAuthentication, err)
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding gql request: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return nil, fmt.Errorf("building gql request: %w", err)
	}
	req.Header.Set("Client-ID", c.clientId)
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: %s: %w",
			ErrTransient,
			opName,
			err,
		)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf(
			"%w: %s returned %d",
			ErrSessionExpired,
			opName,
			resp.StatusCode,
		)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		resp.Body.Close()
		return nil, fmt.Errorf(
			"%w: %s returned %d",
			ErrTransient,
			opName,
			resp.StatusCode,
		)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf(
			"unexpected status %d from %s",
			resp.StatusCode,
			opName,
		)
	}
	return resp, nil
}
