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

package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/inventory"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func testCampaigns() []*inventory.Campaign {
	return []*inventory.Campaign{
		{
			Id:       "campA",
			Game:     "Game A",
			StartsAt: testNow.Add(-1 * time.Hour),
			EndsAt:   testNow.Add(1 * time.Hour),
			Channels: []gql.Channel{{Id: "chanA", Login: "alpha"}},
			Drops: []*inventory.Drop{
				{
					Id:              "dropA",
					CampaignId:      "campA",
					RequiredMinutes: 120,
					CurrentMinutes:  118,
				},
			},
		},
		{
			Id:       "campB",
			Game:     "Game B",
			StartsAt: testNow.Add(-1 * time.Hour),
			EndsAt:   testNow.Add(5 * time.Hour),
			Channels: []gql.Channel{{Id: "chanB", Login: "bravo"}},
			Drops: []*inventory.Drop{
				{
					Id:              "dropB",
					CampaignId:      "campB",
					RequiredMinutes: 60,
					CurrentMinutes:  50,
				},
			},
		},
	}
}

func testLive() []gql.StreamStatus {
	return []gql.StreamStatus{
		{
			ChannelId:   "chanA",
			Login:       "alpha",
			Game:        "Game A",
			BroadcastId: "bcastA",
			Live:        true,
		},
		{
			ChannelId:   "chanB",
			Login:       "bravo",
			Game:        "Game B",
			BroadcastId: "bcastB",
			Live:        true,
		},
	}
}

func TestResolveClosestToCompletionFirst(t *testing.T) {
	r := &Resolver{Mode: ModeEndingSoonest}
	// dropA has 2 minutes remaining, dropB has 10
	targets := r.Resolve(testCampaigns(), testLive())
	require.Len(t, targets, 2)
	require.Equal(t, "chanA", targets[0].ChannelId)
	require.Equal(t, "dropA", targets[0].DropId)
	require.Equal(t, 2, targets[0].MinutesRemaining)
	require.Equal(t, "chanB", targets[1].ChannelId)
	require.Equal(t, 10, targets[1].MinutesRemaining)
}

func TestResolveAfterClaim(t *testing.T) {
	r := &Resolver{Mode: ModeEndingSoonest}
	campaigns := testCampaigns()
	campaigns[0].Drops[0].Claimed = true
	// With campA exhausted only chanB remains
	targets := r.Resolve(campaigns, testLive())
	require.Len(t, targets, 1)
	require.Equal(t, "chanB", targets[0].ChannelId)
}

func TestResolveOfflineExcluded(t *testing.T) {
	r := &Resolver{Mode: ModeEndingSoonest}
	live := testLive()
	live[0].Live = false
	targets := r.Resolve(testCampaigns(), live)
	require.Len(t, targets, 1)
	require.Equal(t, "chanB", targets[0].ChannelId)
}

func TestResolveEmptyWhenNothingLive(t *testing.T) {
	r := &Resolver{Mode: ModeEndingSoonest}
	targets := r.Resolve(testCampaigns(), nil)
	require.Empty(t, targets)
}

func TestResolvePinnedGamesFirst(t *testing.T) {
	r := &Resolver{
		Mode: ModeEndingSoonest,
		PriorityRank: func(c *inventory.Campaign) int {
			if c.Game == "Game B" {
				return 0
			}
			return -1
		},
	}
	// Pinned Game B outranks the closer-to-completion dropA
	targets := r.Resolve(testCampaigns(), testLive())
	require.Len(t, targets, 2)
	require.Equal(t, "chanB", targets[0].ChannelId)
	require.Equal(t, "chanA", targets[1].ChannelId)
}

func TestResolvePriorityOnly(t *testing.T) {
	r := &Resolver{
		Mode: ModePriorityOnly,
		PriorityRank: func(c *inventory.Campaign) int {
			if c.Game == "Game B" {
				return 0
			}
			return -1
		},
	}
	targets := r.Resolve(testCampaigns(), testLive())
	require.Len(t, targets, 1)
	require.Equal(t, "chanB", targets[0].ChannelId)
}

func TestResolveDeterministic(t *testing.T) {
	r := &Resolver{Mode: ModeEndingSoonest}
	first := r.Resolve(testCampaigns(), testLive())
	for i := 0; i < 10; i++ {
		again := r.Resolve(testCampaigns(), testLive())
		require.Equal(t, first, again)
	}
}
