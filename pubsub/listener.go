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

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/dropmine/event"
	"github.com/blinklabs-io/dropmine/gql"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultUrl is the public pubsub edge endpoint
	DefaultUrl = "wss://pubsub-edge.twitch.tv/v1"

	// PingInterval is how often a PING frame is sent. The platform
	// drops connections that go more than five minutes without one.
	PingInterval = 3 * time.Minute

	// PongTimeout is how long to wait for a PONG before treating the
	// connection as dead
	PongTimeout = 10 * time.Second

	// TopicsLimit is the platform-imposed cap on listened topics per
	// connection
	TopicsLimit = 50

	initialReconnectDelay  = 1 * time.Second
	maxReconnectDelay      = 3 * time.Minute
	reconnectBackoffFactor = 2
)

// ErrTopicLimit is returned by Subscribe when the per-connection topic
// cap would be exceeded
var ErrTopicLimit = errors.New("topic limit reached")

// ErrDecode marks a single malformed inbound message. Decode failures
// are logged and skipped; they never terminate the listener.
var ErrDecode = errors.New("message decode failed")

// State is the listener connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateListening    State = "listening"
	StateReconnecting State = "reconnecting"
)

// StreamStateTopic returns the per-channel stream state topic
func StreamStateTopic(channelId string) string {
	return "video-playback-by-id." + channelId
}

// DropProgressTopic returns the per-user drop progress topic
func DropProgressTopic(userId string) string {
	return "user-drop-events." + userId
}

// Listener maintains a persistent subscription connection to the pubsub
// edge. Decoded events are published to the event bus; the connection is
// re-established with capped exponential backoff for the life of the
// process, replaying the active subscription set after each reconnect.
type Listener struct {
	url      string
	tokens   gql.TokenProvider
	eventBus *event.EventBus
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu            sync.Mutex
	topics        map[string]bool
	state         State
	cancel        context.CancelFunc
	done          chan struct{}
	topicsChanged chan struct{}
}

// ListenerOptionFunc is a type representing functions that modify the
// listener configuration
type ListenerOptionFunc func(*Listener)

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ListenerOptionFunc {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithUrl overrides the pubsub edge URL. Mostly used by tests
func WithUrl(url string) ListenerOptionFunc {
	return func(l *Listener) {
		if url != "" {
			l.url = url
		}
	}
}

// WithDialer specifies a custom websocket dialer, e.g. to route through
// a proxy
func WithDialer(dialer *websocket.Dialer) ListenerOptionFunc {
	return func(l *Listener) {
		if dialer != nil {
			l.dialer = dialer
		}
	}
}

// New creates a Listener publishing decoded events to the given event bus
func New(
	tokens gql.TokenProvider,
	eventBus *event.EventBus,
	opts ...ListenerOptionFunc,
) *Listener {
	l := &Listener{
		url:           DefaultUrl,
		tokens:        tokens,
		eventBus:      eventBus,
		logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		dialer:        websocket.DefaultDialer,
		topics:        make(map[string]bool),
		state:         StateDisconnected,
		topicsChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins the connect/listen loop. Safe to call once; Stop tears it
// down.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return errors.New("listener already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
	return nil
}

// Stop shuts the listener down and waits for the connection loop to
// exit. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.setState(StateDisconnected, 0)
}

// State returns the current connection state
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Subscribe adds topics to the active subscription set. Topics are
// submitted on the live connection when one exists and are replayed
// automatically after every reconnect.
func (l *Listener) Subscribe(topics ...string) error {
	l.mu.Lock()
	count := len(l.topics)
	for _, topic := range topics {
		if !l.topics[topic] {
			count++
		}
	}
	if count > TopicsLimit {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d topics", ErrTopicLimit, count)
	}
	for _, topic := range topics {
		l.topics[topic] = true
	}
	l.mu.Unlock()
	l.notifyTopicsChanged()
	return nil
}

// Unsubscribe removes topics from the active subscription set
func (l *Listener) Unsubscribe(topics ...string) {
	l.mu.Lock()
	for _, topic := range topics {
		delete(l.topics, topic)
	}
	l.mu.Unlock()
	l.notifyTopicsChanged()
}

func (l *Listener) notifyTopicsChanged() {
	select {
	case l.topicsChanged <- struct{}{}:
	default:
	}
}

func (l *Listener) setState(state State, attempt int) {
	l.mu.Lock()
	changed := l.state != state
	l.state = state
	l.mu.Unlock()
	if !changed && attempt == 0 {
		return
	}
	l.logger.Info(
		"listener state changed",
		"component", "pubsub",
		"state", string(state),
		"attempt", attempt,
	)
	l.eventBus.Publish(
		event.ListenerStatusEventType,
		event.NewEvent(
			event.ListenerStatusEventType,
			event.ListenerStatusEvent{
				State:   string(state),
				Attempt: attempt,
			},
		),
	)
}

// run is the long-lived connect loop: dial, serve until the connection
// drops, back off, repeat. Retries are unlimited; the delay is capped.
func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	var reconnectDelay time.Duration
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(StateConnecting, attempt)
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err == nil {
			l.setState(StateConnected, 0)
			attempt = 0
			reconnectDelay = 0
			serveErr := l.serve(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn(
				"pubsub connection lost",
				"component", "pubsub",
				"error", serveErr,
			)
		} else {
			l.logger.Warn(
				"pubsub connect failed",
				"component", "pubsub",
				"error", err,
			)
		}
		attempt++
		if reconnectDelay == 0 {
			reconnectDelay = initialReconnectDelay
		} else if reconnectDelay < maxReconnectDelay {
			reconnectDelay *= reconnectBackoffFactor
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
		l.setState(StateReconnecting, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// serve submits the current topic set and pumps inbound messages until
// the connection fails or a reconnect is requested
func (l *Listener) serve(ctx context.Context, conn *websocket.Conn) error {
	writer := &connWriter{conn: conn}
	submitted := make(map[string]bool)
	if err := l.syncTopics(ctx, writer, submitted); err != nil {
		return fmt.Errorf("submitting topics: %w", err)
	}
	l.setState(StateListening, 0)

	pongCh := make(chan struct{}, 1)
	keepaliveCtx, keepaliveCancel := context.WithCancel(ctx)
	defer keepaliveCancel()
	go l.keepalive(keepaliveCtx, writer, submitted, pongCh)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		reconnect, err := l.handleMessage(data, pongCh)
		if err != nil {
			// A single malformed message is not fatal
			l.logger.Warn(
				"skipping malformed pubsub message",
				"component", "pubsub",
				"error", err,
			)
			continue
		}
		if reconnect {
			return errors.New("reconnect requested by server")
		}
	}
}

// keepalive sends periodic PINGs, enforces the PONG deadline, and pushes
// topic set changes to the live connection. Closing the connection when
// the deadline is missed unblocks the read loop in serve.
func (l *Listener) keepalive(
	ctx context.Context,
	writer *connWriter,
	submitted map[string]bool,
	pongCh <-chan struct{},
) {
	pingTicker := time.NewTicker(PingInterval)
	defer pingTicker.Stop()
	var pongDeadline <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := writer.writeJSON(map[string]string{"type": "PING"}); err != nil {
				writer.conn.Close()
				return
			}
			pongDeadline = time.After(PongTimeout)
		case <-pongCh:
			pongDeadline = nil
		case <-pongDeadline:
			l.logger.Warn(
				"pubsub pong timeout, forcing reconnect",
				"component", "pubsub",
			)
			writer.conn.Close()
			return
		case <-l.topicsChanged:
			if err := l.syncTopics(ctx, writer, submitted); err != nil {
				l.logger.Warn(
					"failed to sync topics",
					"component", "pubsub",
					"error", err,
				)
				writer.conn.Close()
				return
			}
		}
	}
}

// connWriter serializes writes to a websocket connection, which permits
// only one concurrent writer
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// listenRequest is the frame used to add or remove topic subscriptions
type listenRequest struct {
	Type  string            `json:"type"`
	Nonce string            `json:"nonce"`
	Data  listenRequestData `json:"data"`
}

type listenRequestData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token,omitempty"`
}

// syncTopics reconciles the submitted topic set on the live connection
// with the desired set, sending LISTEN and UNLISTEN frames as needed
func (l *Listener) syncTopics(
	ctx context.Context,
	writer *connWriter,
	submitted map[string]bool,
) error {
	l.mu.Lock()
	desired := make(map[string]bool, len(l.topics))
	for topic := range l.topics {
		desired[topic] = true
	}
	l.mu.Unlock()
	var added, removed []string
	for topic := range desired {
		if !submitted[topic] {
			added = append(added, topic)
		}
	}
	for topic := range submitted {
		if !desired[topic] {
			removed = append(removed, topic)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	token, err := l.tokens.Token(ctx)
	if err != nil {
		l.logger.Warn(
			"no token available for topic subscription",
			"component", "pubsub",
			"error", err,
		)
		token = ""
	}
	if len(removed) > 0 {
		req := listenRequest{
			Type:  "UNLISTEN",
			Nonce: uuid.NewString(),
			Data: listenRequestData{
				Topics:    removed,
				AuthToken: token,
			},
		}
		if err := writer.writeJSON(req); err != nil {
			return err
		}
		for _, topic := range removed {
			delete(submitted, topic)
		}
	}
	if len(added) > 0 {
		req := listenRequest{
			Type:  "LISTEN",
			Nonce: uuid.NewString(),
			Data: listenRequestData{
				Topics:    added,
				AuthToken: token,
			},
		}
		if err := writer.writeJSON(req); err != nil {
			return err
		}
		for _, topic := range added {
			submitted[topic] = true
		}
	}
	l.logger.Debug(
		"topics synced",
		"component", "pubsub",
		"added", len(added),
		"removed", len(removed),
	)
	return nil
}
