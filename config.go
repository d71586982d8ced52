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

package dropmine

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/priority"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultSpadeUrl is the telemetry endpoint minute-watched events are
	// sent to
	DefaultSpadeUrl = "https://spade.twitch.tv/track"

	// DefaultReevalInterval is the periodic re-evaluation cadence used to
	// catch silently expired campaigns and stale cooldowns
	DefaultReevalInterval = 1 * time.Minute

	// DefaultInventoryRefreshInterval is how often the full inventory and
	// liveness view are refetched from the platform
	DefaultInventoryRefreshInterval = 30 * time.Minute

	// DefaultWatchCooldown is how long a channel is excluded from
	// consideration after its watch session expires
	DefaultWatchCooldown = 5 * time.Minute
)

type Config struct {
	promRegistry             prometheus.Registerer
	logger                   *slog.Logger
	tokens                   gql.TokenProvider
	httpClient               *http.Client
	dialer                   *websocket.Dialer
	dataDir                  string
	gqlEndpoint              string
	pubsubUrl                string
	spadeUrl                 string
	clientId                 string
	userAgent                string
	priorityGames            []string
	excludeGames             []string
	priorityMode             priority.Mode
	heartbeatInterval        time.Duration
	heartbeatMaxFailures     int
	reevalInterval           time.Duration
	inventoryRefreshInterval time.Duration
	watchCooldown            time.Duration
}

// ConfigOptionFunc is a type that represents functions that modify the miner config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new miner config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:                   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		spadeUrl:                 DefaultSpadeUrl,
		reevalInterval:           DefaultReevalInterval,
		inventoryRefreshInterval: DefaultInventoryRefreshInterval,
		watchCooldown:            DefaultWatchCooldown,
		priorityMode:             priority.ModeEndingSoonest,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.tokens == nil {
		return errors.New("no token provider configured")
	}
	if c.priorityMode != priority.ModeEndingSoonest &&
		c.priorityMode != priority.ModePriorityOnly {
		return errors.New("invalid priority mode")
	}
	if c.priorityMode == priority.ModePriorityOnly &&
		len(c.priorityGames) == 0 {
		return errors.New("priority-only mode requires priority games")
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add
// metrics to. In most cases, prometheus.DefaultRegisterer would be a good
// choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTokenProvider specifies the credential collaborator used for all
// platform calls. Required.
func WithTokenProvider(tokens gql.TokenProvider) ConfigOptionFunc {
	return func(c *Config) {
		c.tokens = tokens
	}
}

// WithDataDir specifies the persistent data directory for the local state
// cache. The default is to keep all state in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithGqlEndpoint overrides the GQL gateway URL. Mostly used by tests
func WithGqlEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.gqlEndpoint = endpoint
	}
}

// WithPubsubUrl overrides the pubsub edge URL. Mostly used by tests
func WithPubsubUrl(pubsubUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.pubsubUrl = pubsubUrl
	}
}

// WithSpadeUrl overrides the telemetry endpoint for minute-watched events
func WithSpadeUrl(spadeUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.spadeUrl = spadeUrl
	}
}

// WithClientId overrides the platform client id sent with each request
func WithClientId(clientId string) ConfigOptionFunc {
	return func(c *Config) {
		c.clientId = clientId
	}
}

// WithUserAgent overrides the user agent sent with each request
func WithUserAgent(userAgent string) ConfigOptionFunc {
	return func(c *Config) {
		c.userAgent = userAgent
	}
}

// WithProxyUrl routes all outbound platform traffic, both HTTP and
// websocket, through the given proxy
func WithProxyUrl(proxyUrl string) ConfigOptionFunc {
	return func(c *Config) {
		if proxyUrl == "" {
			return
		}
		parsed, err := url.Parse(proxyUrl)
		if err != nil {
			return
		}
		c.httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyURL(parsed),
			},
		}
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyURL(parsed),
			HandshakeTimeout: 45 * time.Second,
		}
	}
}

// WithPriorityGames specifies a user-pinned game ordering. Campaigns for
// earlier games are mined first.
func WithPriorityGames(games []string) ConfigOptionFunc {
	return func(c *Config) {
		c.priorityGames = games
	}
}

// WithExcludedGames specifies games whose campaigns are never mined
func WithExcludedGames(games []string) ConfigOptionFunc {
	return func(c *Config) {
		c.excludeGames = games
	}
}

// WithPriorityMode specifies how pinned games interact with resolution.
// The default mines everything, pinned games first.
func WithPriorityMode(mode priority.Mode) ConfigOptionFunc {
	return func(c *Config) {
		if mode != "" {
			c.priorityMode = mode
		}
	}
}

// WithHeartbeatInterval overrides the minute-watched cadence. The
// default is the platform-mandated interval; setting this lower than the
// default risks rate limiting.
func WithHeartbeatInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.heartbeatInterval = interval
	}
}

// WithHeartbeatMaxFailures overrides the consecutive heartbeat failure
// bound before a watch session is considered expired
func WithHeartbeatMaxFailures(maxFailures int) ConfigOptionFunc {
	return func(c *Config) {
		c.heartbeatMaxFailures = maxFailures
	}
}

// WithReevalInterval overrides the periodic re-evaluation cadence
func WithReevalInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		if interval > 0 {
			c.reevalInterval = interval
		}
	}
}

// WithInventoryRefreshInterval overrides how often the full inventory is
// refetched from the platform
func WithInventoryRefreshInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		if interval > 0 {
			c.inventoryRefreshInterval = interval
		}
	}
}

// WithWatchCooldown overrides how long an unreachable channel is excluded
// from consideration
func WithWatchCooldown(cooldown time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		if cooldown > 0 {
			c.watchCooldown = cooldown
		}
	}
}
