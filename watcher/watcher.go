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

package watcher

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
)

// ErrAlreadyAttached is returned by Attach when a session is already
// active. The caller must Detach first; this is enforced by the mining
// loop rather than worked around here.
var ErrAlreadyAttached = errors.New("watch session already attached")

const (
	// DefaultHeartbeatInterval is the platform-mandated minute-watched
	// cadence. Beating faster than this gains nothing and risks rate
	// limiting; beating slower than ~2x loses progress crediting.
	DefaultHeartbeatInterval = 59 * time.Second

	// DefaultMaxFailures is the number of consecutive heartbeat failures
	// tolerated before the session is considered expired
	DefaultMaxFailures = 5
)

// WatchSender sends a single minute-watched event for a channel
type WatchSender interface {
	SendWatch(ctx context.Context, channelId, broadcastId string) error
}

// Watcher maintains the watching heartbeat for at most one channel at a
// time. Heartbeat results are published to the event bus rather than
// returned, so the mining loop consumes them in order with every other
// trigger.
type Watcher struct {
	sender      WatchSender
	eventBus    *event.EventBus
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	mu      sync.Mutex
	current *session
}

type session struct {
	channelId   string
	broadcastId string
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// WatcherOptionFunc is a type representing functions that modify the
// watcher configuration
type WatcherOptionFunc func(*Watcher)

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) WatcherOptionFunc {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithHeartbeatInterval overrides the heartbeat cadence. Mostly used by tests
func WithHeartbeatInterval(interval time.Duration) WatcherOptionFunc {
	return func(w *Watcher) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithMaxFailures overrides the consecutive failure bound
func WithMaxFailures(maxFailures int) WatcherOptionFunc {
	return func(w *Watcher) {
		if maxFailures > 0 {
			w.maxFailures = maxFailures
		}
	}
}

// New creates a Watcher that sends heartbeats via the given sender and
// publishes results to the given event bus
func New(
	sender WatchSender,
	eventBus *event.EventBus,
	opts ...WatcherOptionFunc,
) *Watcher {
	w := &Watcher{
		sender:      sender,
		eventBus:    eventBus,
		interval:    DefaultHeartbeatInterval,
		maxFailures: DefaultMaxFailures,
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Attach begins heartbeats for the given channel. Returns
// ErrAlreadyAttached when another session is active.
func (w *Watcher) Attach(channelId, broadcastId string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		return fmt.Errorf(
			"%w: watching %s",
			ErrAlreadyAttached,
			w.current.channelId,
		)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		channelId:   channelId,
		broadcastId: broadcastId,
		startedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	w.current = sess
	w.logger.Info(
		"attached watch session",
		"component", "watcher",
		"channel", channelId,
	)
	go w.beatLoop(ctx, sess)
	return nil
}

// Detach stops heartbeats. Always succeeds and is idempotent. The
// heartbeat goroutine has exited before Detach returns, so no heartbeat
// is sent after detaching.
func (w *Watcher) Detach() {
	w.mu.Lock()
	sess := w.current
	w.current = nil
	w.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
	w.logger.Info(
		"detached watch session",
		"component", "watcher",
		"channel", sess.channelId,
	)
}

// Target returns the channel id of the active session, if any
func (w *Watcher) Target() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return "", false
	}
	return w.current.channelId, true
}

// beatLoop sends one heartbeat immediately and then one per interval
// until cancelled or the consecutive failure bound is hit. Each beat
// result is published as a WatchResultEvent.
func (w *Watcher) beatLoop(ctx context.Context, sess *session) {
	defer close(sess.done)
	failures := 0
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		err := w.beat(ctx, sess)
		if ctx.Err() != nil {
			// Detached mid-beat; suppress the result
			return
		}
		if err == nil {
			failures = 0
		} else {
			failures++
		}
		expired := errors.Is(err, gql.ErrSessionExpired) ||
			failures >= w.maxFailures
		if expired {
			err = fmt.Errorf("%w: heartbeat gave up after %d failures: %w",
				gql.ErrSessionExpired, failures, err)
		}
		w.eventBus.Publish(
			event.WatchResultEventType,
			event.NewEvent(event.WatchResultEventType, event.WatchResultEvent{
				ChannelId: sess.channelId,
				Err:       err,
				Failures:  failures,
				Expired:   expired,
			}),
		)
		if expired {
			// Stop beating and release the session slot so the mining
			// loop can attach elsewhere once it sees the result
			w.mu.Lock()
			if w.current == sess {
				w.current = nil
			}
			w.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// beat sends a single minute-watched event, bounded by the heartbeat
// interval so a hung call can never delay the next beat decision
func (w *Watcher) beat(ctx context.Context, sess *session) error {
	beatCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	err := w.sender.SendWatch(beatCtx, sess.channelId, sess.broadcastId)
	if err != nil {
		w.logger.Debug(
			"heartbeat failed",
			"component", "watcher",
			"channel", sess.channelId,
			"error", err,
		)
	}
	return err
}
