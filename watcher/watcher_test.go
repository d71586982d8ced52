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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/dropmine/event"
	"github.com/blinklabs-io/dropmine/gql"
)

type fakeSender struct {
	beats   atomic.Int64
	failing atomic.Bool
	err     error
}

func (f *fakeSender) SendWatch(
	_ context.Context,
	channelId string,
	broadcastId string,
) error {
	f.beats.Add(1)
	if f.failing.Load() {
		if f.err != nil {
			return f.err
		}
		return errors.New("send failed")
	}
	return nil
}

func TestAttachBeatsImmediately(t *testing.T) {
	sender := &fakeSender{}
	eb := event.NewEventBus(nil, nil)
	_, resultCh := eb.Subscribe(event.WatchResultEventType)
	w := New(sender, eb, WithHeartbeatInterval(time.Hour))
	require.NoError(t, w.Attach("chan1", "bcast1"))
	defer w.Detach()
	select {
	case evt := <-resultCh:
		result, ok := evt.Data.(event.WatchResultEvent)
		require.True(t, ok)
		require.Equal(t, "chan1", result.ChannelId)
		require.NoError(t, result.Err)
		require.False(t, result.Expired)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for first heartbeat result")
	}
	require.Equal(t, int64(1), sender.beats.Load())
	target, attached := w.Target()
	require.True(t, attached)
	require.Equal(t, "chan1", target)
}

func TestAttachWhileAttached(t *testing.T) {
	sender := &fakeSender{}
	eb := event.NewEventBus(nil, nil)
	w := New(sender, eb, WithHeartbeatInterval(time.Hour))
	require.NoError(t, w.Attach("chan1", "bcast1"))
	defer w.Detach()
	err := w.Attach("chan2", "bcast2")
	require.ErrorIs(t, err, ErrAlreadyAttached)
	target, attached := w.Target()
	require.True(t, attached)
	require.Equal(t, "chan1", target)
}

func TestDetachStopsBeats(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	eb := event.NewEventBus(nil, nil)
	w := New(sender, eb, WithHeartbeatInterval(10*time.Millisecond))
	require.NoError(t, w.Attach("chan1", "bcast1"))
	time.Sleep(50 * time.Millisecond)
	w.Detach()
	_, attached := w.Target()
	require.False(t, attached)
	// No beats arrive after Detach returns
	beatsAfterDetach := sender.beats.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, beatsAfterDetach, sender.beats.Load())
	// Detach is idempotent
	w.Detach()
	// The slot is free again
	require.NoError(t, w.Attach("chan2", "bcast2"))
	w.Detach()
}

func TestDetachWithBackloggedSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	eb := event.NewEventBus(nil, nil)
	// Subscribe without draining so fast heartbeats fill the queue and
	// leave the beat goroutine blocked inside a publish
	subId, _ := eb.Subscribe(event.WatchResultEventType)
	w := New(sender, eb, WithHeartbeatInterval(time.Millisecond))
	require.NoError(t, w.Attach("chan1", "bcast1"))
	require.Eventually(
		t,
		func() bool {
			return sender.beats.Load() > int64(event.EventQueueSize)
		},
		5*time.Second,
		5*time.Millisecond,
	)
	// Releasing the queue first, then detaching, must complete even with
	// a publish still blocked on the full channel
	eb.Unsubscribe(subId)
	detachDone := make(chan struct{})
	go func() {
		defer close(detachDone)
		w.Detach()
	}()
	select {
	case <-detachDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for detach with a backlogged subscriber")
	}
	_, attached := w.Target()
	require.False(t, attached)
}

func TestSessionExpiresAfterMaxFailures(t *testing.T) {
	sender := &fakeSender{}
	sender.failing.Store(true)
	eb := event.NewEventBus(nil, nil)
	_, resultCh := eb.Subscribe(event.WatchResultEventType)
	w := New(
		sender,
		eb,
		WithHeartbeatInterval(10*time.Millisecond),
		WithMaxFailures(3),
	)
	require.NoError(t, w.Attach("chan1", "bcast1"))
	var lastResult event.WatchResultEvent
	for {
		select {
		case evt := <-resultCh:
			result, ok := evt.Data.(event.WatchResultEvent)
			require.True(t, ok)
			lastResult = result
			if result.Expired {
				require.Equal(t, 3, result.Failures)
				require.ErrorIs(t, result.Err, gql.ErrSessionExpired)
				// Session slot released, no further beats
				require.Eventually(
					t,
					func() bool {
						_, attached := w.Target()
						return !attached
					},
					time.Second,
					5*time.Millisecond,
				)
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for expiry, last result: %+v", lastResult)
		}
	}
}

func TestSessionExpiredErrorIsImmediatelyFatal(t *testing.T) {
	sender := &fakeSender{
		err: gql.ErrSessionExpired,
	}
	sender.failing.Store(true)
	eb := event.NewEventBus(nil, nil)
	_, resultCh := eb.Subscribe(event.WatchResultEventType)
	w := New(sender, eb, WithHeartbeatInterval(time.Hour))
	require.NoError(t, w.Attach("chan1", "bcast1"))
	select {
	case evt := <-resultCh:
		result, ok := evt.Data.(event.WatchResultEvent)
		require.True(t, ok)
		require.True(t, result.Expired)
		require.Equal(t, 1, result.Failures)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for expiry result")
	}
}
