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
	"math"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/inventory"
)

// Mode selects how user-pinned game priorities interact with resolution
type Mode string

const (
	// ModeEndingSoonest ranks pinned games first, then falls back to the
	// default ordering for everything else
	ModeEndingSoonest Mode = "ending_soonest"

	// ModePriorityOnly mines only campaigns for pinned games
	ModePriorityOnly Mode = "priority_only"
)

// Target is one entry of the resolved priority list: a live channel paired
// with the campaign and drop that make it worth watching
type Target struct {
	ChannelId        string
	Login            string
	BroadcastId      string
	CampaignId       string
	DropId           string
	MinutesRemaining int
	ExpiresAt        time.Time
}

// Resolver computes an ordered preference list of channels to watch.
// Resolve is a pure function of its inputs: identical snapshots always
// produce the same ordering.
type Resolver struct {
	// PriorityRank returns the user-pinned rank for a campaign's game,
	// or -1 when not pinned. Nil means no pinned games.
	PriorityRank func(*inventory.Campaign) int
	Mode         Mode
}

// Resolve pairs each live channel with its best eligible campaign and
// orders the result. Channels with no eligible campaign are excluded; an
// empty result means the mining loop should idle.
//
// Ordering: pinned games first (by pin order), then drops closest to
// completion, then campaigns expiring soonest, then channel login as the
// stable tie-break.
func (r *Resolver) Resolve(
	campaigns []*inventory.Campaign,
	live []gql.StreamStatus,
) []Target {
	type ranked struct {
		target Target
		rank   int
	}
	entries := make([]ranked, 0, len(live))
	for _, stream := range live {
		if !stream.Live {
			continue
		}
		campaign := r.bestCampaign(campaigns, stream)
		if campaign == nil {
			continue
		}
		drop := campaign.NextDrop()
		if drop == nil {
			continue
		}
		rank := math.MaxInt
		if r.PriorityRank != nil {
			if pinned := r.PriorityRank(campaign); pinned >= 0 {
				rank = pinned
			} else if r.Mode == ModePriorityOnly {
				continue
			}
		} else if r.Mode == ModePriorityOnly {
			continue
		}
		entries = append(entries, ranked{
			rank: rank,
			target: Target{
				ChannelId:        stream.ChannelId,
				Login:            stream.Login,
				BroadcastId:      stream.BroadcastId,
				CampaignId:       campaign.Id,
				DropId:           drop.Id,
				MinutesRemaining: drop.MinutesRemaining(),
				ExpiresAt:        campaign.EndsAt,
			},
		})
	}
	slices.SortFunc(entries, func(a, b ranked) int {
		if a.rank != b.rank {
			return a.rank - b.rank
		}
		if a.target.MinutesRemaining != b.target.MinutesRemaining {
			return a.target.MinutesRemaining - b.target.MinutesRemaining
		}
		if c := a.target.ExpiresAt.Compare(b.target.ExpiresAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.target.Login, b.target.Login); c != 0 {
			return c
		}
		return strings.Compare(a.target.ChannelId, b.target.ChannelId)
	})
	targets := make([]Target, 0, len(entries))
	for _, entry := range entries {
		targets = append(targets, entry.target)
	}
	return targets
}

// bestCampaign returns the soonest-expiring eligible campaign for which
// the channel is an eligible source. A campaign with no channel allowlist
// applies to any channel streaming its game.
func (r *Resolver) bestCampaign(
	campaigns []*inventory.Campaign,
	stream gql.StreamStatus,
) *inventory.Campaign {
	var best *inventory.Campaign
	for _, campaign := range campaigns {
		if campaign.NextDrop() == nil {
			continue
		}
		if !campaignAllowsChannel(campaign, stream) {
			continue
		}
		if best == nil || campaign.EndsAt.Before(best.EndsAt) {
			best = campaign
		}
	}
	return best
}

func campaignAllowsChannel(
	campaign *inventory.Campaign,
	stream gql.StreamStatus,
) bool {
	if len(campaign.Channels) == 0 {
		return strings.EqualFold(campaign.Game, stream.Game)
	}
	for _, channel := range campaign.Channels {
		if channel.Id == stream.ChannelId {
			return true
		}
	}
	return false
}
