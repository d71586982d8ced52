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
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(
	t *testing.T,
	handler http.HandlerFunc,
) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestFetchInventory(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Use t.Errorf (not require) because httptest handlers
		// run in a separate goroutine; require calls t.FailNow
		// which panics from non-test goroutines.
		if r.Header.Get("Authorization") != "OAuth test-token" {
			t.Errorf(
				"unexpected authorization header: %s",
				r.Header.Get("Authorization"),
			)
		}
		if r.Header.Get("Client-ID") != DefaultClientId {
			t.Errorf("unexpected client id: %s", r.Header.Get("Client-ID"))
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.OperationName != opInventory {
			t.Errorf("unexpected operation: %s", req.OperationName)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"currentUser": {
					"id": "user1",
					"inventory": {
						"dropCampaignsInProgress": [
							{
								"id": "camp1",
								"name": "Test Campaign",
								"game": {"name": "Test Game"},
								"status": "ACTIVE",
								"startAt": "2026-08-01T00:00:00Z",
								"endAt": "2026-09-01T00:00:00Z",
								"allow": {
									"channels": [
										{"id": "chan1", "login": "streamer1"}
									]
								},
								"timeBasedDrops": [
									{
										"id": "drop1",
										"name": "Test Drop",
										"requiredMinutesWatched": 120,
										"self": {
											"currentMinutesWatched": 30,
											"isClaimed": false
										}
									}
								]
							}
						]
					}
				}
			}
		}`))
	})
	client := NewClient(
		StaticToken("test-token"),
		WithEndpoint(server.URL),
	)
	snapshot, err := client.FetchInventory(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user1", snapshot.UserId)
	require.Len(t, snapshot.Campaigns, 1)
	campaign := snapshot.Campaigns[0]
	require.Equal(t, "camp1", campaign.Id)
	require.Equal(t, "Test Game", campaign.Game)
	require.Equal(
		t,
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		campaign.EndsAt,
	)
	require.Len(t, campaign.Channels, 1)
	require.Equal(t, "streamer1", campaign.Channels[0].Login)
	require.Len(t, campaign.Drops, 1)
	require.Equal(t, 120, campaign.Drops[0].RequiredMinutes)
	require.Equal(t, 30, campaign.Drops[0].CurrentMinutes)
}

// liveStatusHandler answers batched stream info requests, echoing each
// requested channel id back as a live stream
func liveStatusHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Use t.Errorf (not require) because httptest handlers
		// run in a separate goroutine; require calls t.FailNow
		// which panics from non-test goroutines.
		var reqs []gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("failed to decode batch request: %v", err)
			return
		}
		resps := make([]map[string]any, 0, len(reqs))
		for _, req := range reqs {
			if req.OperationName != opStreamInfo {
				t.Errorf("unexpected operation: %s", req.OperationName)
			}
			vars, ok := req.Variables.(map[string]any)
			if !ok {
				t.Errorf("unexpected variables type: %T", req.Variables)
				return
			}
			channelId, _ := vars["channelID"].(string)
			resps = append(resps, map[string]any{
				"data": map[string]any{
					"user": map[string]any{
						"id":    channelId,
						"login": "login_" + channelId,
						"stream": map[string]any{
							"id":   "broadcast_" + channelId,
							"game": map[string]any{"name": "Test Game"},
						},
					},
				},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resps); err != nil {
			t.Errorf("failed to encode batch response: %v", err)
		}
	}
}

func TestFetchLive(t *testing.T) {
	server := newTestServer(t, liveStatusHandler(t))
	client := NewClient(
		StaticToken("test-token"),
		WithEndpoint(server.URL),
	)
	statuses, err := client.FetchLive(context.Background(), []string{"chan1"})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.True(t, statuses[0].Live)
	require.Equal(t, "broadcast_chan1", statuses[0].BroadcastId)
	require.Equal(t, "Test Game", statuses[0].Game)
}

func TestFetchLiveBatchesRoundTrips(t *testing.T) {
	var roundTrips atomic.Int64
	handler := liveStatusHandler(t)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		roundTrips.Add(1)
		handler(w, r)
	})
	client := NewClient(
		StaticToken("test-token"),
		WithEndpoint(server.URL),
	)
	channelIds := make([]string, 0, 45)
	for i := 0; i < 45; i++ {
		channelIds = append(channelIds, "chan"+strconv.Itoa(i))
	}
	statuses, err := client.FetchLive(context.Background(), channelIds)
	require.NoError(t, err)
	require.Len(t, statuses, 45)
	for i, status := range statuses {
		require.Equal(t, channelIds[i], status.ChannelId)
	}
	// 45 channels at 20 per batch is 3 round trips, not 45
	require.Equal(t, int64(3), roundTrips.Load())
}

func TestErrorMapping(t *testing.T) {
	testDefs := []struct {
		name        string
		statusCode  int
		expectedErr error
	}{
		{
			name:        "unauthorized",
			statusCode:  http.StatusUnauthorized,
			expectedErr: ErrSessionExpired,
		},
		{
			name:        "rate limited",
			statusCode:  http.StatusTooManyRequests,
			expectedErr: ErrTransient,
		},
		{
			name:        "server error",
			statusCode:  http.StatusInternalServerError,
			expectedErr: ErrTransient,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			server := newTestServer(
				t,
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(testDef.statusCode)
				},
			)
			client := NewClient(
				StaticToken("test-token"),
				WithEndpoint(server.URL),
			)
			_, err := client.FetchInventory(context.Background())
			require.ErrorIs(t, err, testDef.expectedErr)
		})
	}
}

func TestEmptyTokenIsAuthenticationError(t *testing.T) {
	client := NewClient(StaticToken(""))
	_, err := client.FetchInventory(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestClaimDrop(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"dropInstanceID":"user1#camp1#drop1"`) {
			t.Errorf("unexpected claim request body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {}}`))
	})
	client := NewClient(
		StaticToken("test-token"),
		WithEndpoint(server.URL),
	)
	err := client.ClaimDrop(context.Background(), "user1#camp1#drop1")
	require.NoError(t, err)
}

func TestSendWatch(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rawBody := string(body)
		if !strings.HasPrefix(rawBody, "data=") {
			t.Errorf("unexpected watch request body: %s", rawBody)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(
			strings.TrimPrefix(rawBody, "data="),
		)
		if err != nil {
			t.Errorf("failed to decode watch payload: %v", err)
			return
		}
		var events []WatchEvent
		if err := json.Unmarshal(decoded, &events); err != nil {
			t.Errorf("failed to unmarshal watch payload: %v", err)
			return
		}
		if len(events) != 1 || events[0].Event != "minute-watched" {
			t.Errorf("unexpected watch events: %+v", events)
			return
		}
		if events[0].Properties.ChannelId != "chan1" ||
			events[0].Properties.BroadcastId != "broadcast1" ||
			events[0].Properties.UserId != "user1" {
			t.Errorf("unexpected watch properties: %+v", events[0].Properties)
		}
	})
	client := NewClient(StaticToken("test-token"))
	err := client.SendWatch(
		context.Background(),
		server.URL,
		"user1",
		"chan1",
		"broadcast1",
	)
	require.NoError(t, err)
}

func TestSendWatchSessionExpired(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := NewClient(StaticToken("test-token"))
	err := client.SendWatch(
		context.Background(),
		server.URL,
		"user1",
		"chan1",
		"broadcast1",
	)
	require.ErrorIs(t, err, ErrSessionExpired)
}
