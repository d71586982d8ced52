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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/dropmine/event"
	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/priority"
)

var testNow = time.Now()

type fakePlatform struct {
	mu           sync.Mutex
	snapshot     *gql.InventorySnapshot
	live         map[string]gql.StreamStatus
	claimed      []string
	inventoryErr error
}

func (f *fakePlatform) FetchInventory(
	_ context.Context,
) (*gql.InventorySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inventoryErr != nil {
		return nil, f.inventoryErr
	}
	return f.snapshot, nil
}

func (f *fakePlatform) FetchLive(
	_ context.Context,
	channelIds []string,
) ([]gql.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make([]gql.StreamStatus, 0, len(channelIds))
	for _, channelId := range channelIds {
		if status, ok := f.live[channelId]; ok {
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func (f *fakePlatform) ClaimDrop(
	_ context.Context,
	dropInstanceId string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, dropInstanceId)
	return nil
}

func (f *fakePlatform) SendWatch(
	_ context.Context,
	spadeUrl string,
	userId string,
	channelId string,
	broadcastId string,
) error {
	return nil
}

func (f *fakePlatform) claimedDrops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.claimed...)
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		snapshot: &gql.InventorySnapshot{
			UserId: "user1",
			Campaigns: []gql.Campaign{
				{
					Id:       "campA",
					Name:     "Campaign A",
					Game:     "Game A",
					StartsAt: testNow.Add(-1 * time.Hour),
					EndsAt:   testNow.Add(1 * time.Hour),
					Channels: []gql.Channel{{Id: "chanA", Login: "alpha"}},
					Drops: []gql.Drop{
						{
							Id:              "dropA",
							Name:            "Drop A",
							RequiredMinutes: 120,
							CurrentMinutes:  118,
						},
					},
				},
				{
					Id:       "campB",
					Name:     "Campaign B",
					Game:     "Game B",
					StartsAt: testNow.Add(-1 * time.Hour),
					EndsAt:   testNow.Add(5 * time.Hour),
					Channels: []gql.Channel{{Id: "chanB", Login: "bravo"}},
					Drops: []gql.Drop{
						{
							Id:              "dropB",
							Name:            "Drop B",
							RequiredMinutes: 60,
							CurrentMinutes:  50,
						},
					},
				},
			},
		},
		live: map[string]gql.StreamStatus{
			"chanA": {
				ChannelId:   "chanA",
				Login:       "alpha",
				Game:        "Game A",
				BroadcastId: "bcastA",
				Live:        true,
			},
			"chanB": {
				ChannelId:   "chanB",
				Login:       "bravo",
				Game:        "Game B",
				BroadcastId: "bcastB",
				Live:        true,
			},
		},
	}
}

// newTestPubsubUrl serves a minimal pubsub edge that accepts frames and
// answers PINGs, so the listener has somewhere real to connect
func newTestPubsubUrl(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			for {
				var frame map[string]any
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				if frame["type"] == "PING" {
					_ = conn.WriteJSON(map[string]string{"type": "PONG"})
				}
			}
		}),
	)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestMiner(t *testing.T, platform platformClient) *Miner {
	t.Helper()
	m, err := New(
		NewConfig(
			WithTokenProvider(gql.StaticToken("test-token")),
			WithDataDir(t.TempDir()),
			WithPubsubUrl(newTestPubsubUrl(t)),
			WithHeartbeatInterval(time.Hour),
		),
	)
	require.NoError(t, err)
	m.platform = platform
	return m
}

func startTestMiner(t *testing.T, m *Miner) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		errChan <- m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("timeout waiting for miner to stop")
		}
	})
	return errChan
}

func TestMinerWatchesClosestToCompletion(t *testing.T) {
	platform := newFakePlatform()
	m := newTestMiner(t, platform)
	startTestMiner(t, m)
	// dropA has 2 minutes remaining vs dropB's 10, so chanA wins
	require.Eventually(
		t,
		func() bool {
			status := m.Status()
			return status.State == StateWatching &&
				status.ChannelId == "chanA"
		},
		5*time.Second,
		10*time.Millisecond,
	)
	status := m.Status()
	require.Equal(t, "campA", status.CampaignId)
	require.Equal(t, "dropA", status.DropId)
	require.Equal(t, 2, status.MinutesRemaining)
}

func TestMinerClaimsAndSwitchesOnCompletion(t *testing.T) {
	platform := newFakePlatform()
	m := newTestMiner(t, platform)
	startTestMiner(t, m)
	require.Eventually(
		t,
		func() bool { return m.Status().ChannelId == "chanA" },
		5*time.Second,
		10*time.Millisecond,
	)
	// Progress report takes dropA to its threshold
	m.EventBus().Publish(
		event.DropProgressEventType,
		event.NewEvent(
			event.DropProgressEventType,
			event.DropProgressEvent{DropId: "dropA", Minutes: 120},
		),
	)
	require.Eventually(
		t,
		func() bool {
			status := m.Status()
			return status.State == StateWatching &&
				status.ChannelId == "chanB"
		},
		5*time.Second,
		10*time.Millisecond,
	)
	require.Equal(t, []string{"user1#campA#dropA"}, platform.claimedDrops())
}

func TestMinerDetachesWhenWatchedChannelGoesOffline(t *testing.T) {
	platform := newFakePlatform()
	m := newTestMiner(t, platform)
	startTestMiner(t, m)
	require.Eventually(
		t,
		func() bool { return m.Status().ChannelId == "chanA" },
		5*time.Second,
		10*time.Millisecond,
	)
	m.EventBus().Publish(
		event.StreamWentOfflineEventType,
		event.NewEvent(
			event.StreamWentOfflineEventType,
			event.StreamWentOfflineEvent{ChannelId: "chanA"},
		),
	)
	// The next best live channel takes over
	require.Eventually(
		t,
		func() bool {
			status := m.Status()
			return status.State == StateWatching &&
				status.ChannelId == "chanB"
		},
		5*time.Second,
		10*time.Millisecond,
	)
}

func TestMinerIdlesWhenNothingLive(t *testing.T) {
	platform := newFakePlatform()
	platform.live = map[string]gql.StreamStatus{}
	m := newTestMiner(t, platform)
	startTestMiner(t, m)
	require.Eventually(
		t,
		func() bool { return m.Status().State == StateIdle },
		5*time.Second,
		10*time.Millisecond,
	)
}

func TestMinerAuthenticationErrorTerminates(t *testing.T) {
	platform := newFakePlatform()
	platform.inventoryErr = fmt.Errorf(
		"%w: credential rejected",
		gql.ErrAuthentication,
	)
	m := newTestMiner(t, platform)
	errChan := startTestMiner(t, m)
	select {
	case err := <-errChan:
		require.ErrorIs(t, err, gql.ErrAuthentication)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for run to terminate")
	}
}

func TestMinerStop(t *testing.T) {
	platform := newFakePlatform()
	m := newTestMiner(t, platform)
	errChan := startTestMiner(t, m)
	require.Eventually(
		t,
		func() bool { return m.Status().State == StateWatching },
		5*time.Second,
		10*time.Millisecond,
	)
	require.NoError(t, m.Stop())
	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for run to stop")
	}
	require.Equal(t, StateIdle, m.Status().State)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(NewConfig())
	require.Error(t, err)
	_, err = New(
		NewConfig(
			WithTokenProvider(gql.StaticToken("tok")),
			WithPriorityMode("bogus"),
		),
	)
	require.Error(t, err)
	// priority_only with no pinned games is a settings error
	_, err = New(
		NewConfig(
			WithTokenProvider(gql.StaticToken("tok")),
			WithPriorityMode(priority.ModePriorityOnly),
		),
	)
	require.Error(t, err)
}
