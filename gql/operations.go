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
	"encoding/json"
	"fmt"
)

// Persisted query hashes for the operations the engine needs
const (
	opInventory    = "Inventory"
	hashInventory  = "37fea486d6179047c41d0f549088a4c3a7dd60c05c70956a1490262f532dccd9"
	opStreamInfo   = "VideoPlayerStreamInfoOverlayChannel"
	hashStreamInfo = "a5f2e34d626a9f4f5c0204f910bab2194948a9502089be558bb6e779a9e1b3d2"
	opClaimDrop    = "DropsPage_ClaimDropRewards"
	hashClaimDrop  = "a455deea71bdc9015b78eb49f4acfbce8baa7ccbedd28e549bb025bd0f751930"
)

// FetchInventory retrieves the authenticated user's current campaign and
// drop progress state
func (c *Client) FetchInventory(
	ctx context.Context,
) (*InventorySnapshot, error) {
	data, err := c.do(ctx, newGqlRequest(opInventory, hashInventory, nil))
	if err != nil {
		return nil, fmt.Errorf("fetching inventory: %w", err)
	}
	var wire struct {
		CurrentUser struct {
			Id        string `json:"id"`
			Inventory struct {
				DropCampaignsInProgress []wireCampaign `json:"dropCampaignsInProgress"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	snapshot := &InventorySnapshot{
		UserId: wire.CurrentUser.Id,
	}
	for _, wc := range wire.CurrentUser.Inventory.DropCampaignsInProgress {
		snapshot.Campaigns = append(snapshot.Campaigns, wc.toCampaign())
	}
	return snapshot, nil
}

// liveStatusBatchSize bounds how many stream info operations ride in one
// gateway round trip
const liveStatusBatchSize = 20

// FetchLive retrieves the liveness view for the given channels, batching
// several channels per gateway round trip. Channels unknown to the
// platform are omitted from the result.
func (c *Client) FetchLive(
	ctx context.Context,
	channelIds []string,
) ([]StreamStatus, error) {
	statuses := make([]StreamStatus, 0, len(channelIds))
	for start := 0; start < len(channelIds); start += liveStatusBatchSize {
		batch := channelIds[start:min(start+liveStatusBatchSize, len(channelIds))]
		gqlReqs := make([]gqlRequest, 0, len(batch))
		for _, channelId := range batch {
			gqlReqs = append(
				gqlReqs,
				newGqlRequest(opStreamInfo, hashStreamInfo, map[string]any{
					"channelID": channelId,
				}),
			)
		}
		results, err := c.doBatch(ctx, gqlReqs)
		if err != nil {
			return nil, fmt.Errorf("fetching live status: %w", err)
		}
		for _, data := range results {
			var wire struct {
				User *struct {
					Id     string `json:"id"`
					Login  string `json:"login"`
					Stream *struct {
						Id   string `json:"id"`
						Game struct {
							Name string `json:"name"`
						} `json:"game"`
					} `json:"stream"`
				} `json:"user"`
			}
			if err := json.Unmarshal(data, &wire); err != nil {
				return nil, fmt.Errorf("decoding live status: %w", err)
			}
			if wire.User == nil {
				continue
			}
			status := StreamStatus{
				ChannelId: wire.User.Id,
				Login:     wire.User.Login,
			}
			if wire.User.Stream != nil {
				status.Live = true
				status.BroadcastId = wire.User.Stream.Id
				status.Game = wire.User.Stream.Game.Name
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

// ClaimDrop claims a completed drop by its drop instance id
func (c *Client) ClaimDrop(ctx context.Context, dropInstanceId string) error {
	_, err := c.do(
		ctx,
		newGqlRequest(opClaimDrop, hashClaimDrop, map[string]any{
			"input": map[string]any{
				"dropInstanceID": dropInstanceId,
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("claiming drop %s: %w", dropInstanceId, err)
	}
	return nil
}

// wireCampaign is the upstream campaign shape; it is flattened into the
// Campaign type the rest of the engine consumes
type wireCampaign struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Game struct {
		Name string `json:"name"`
	} `json:"game"`
	Status  string `json:"status"`
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt"`
	Allow   struct {
		Channels []Channel `json:"channels"`
	} `json:"allow"`
	TimeBasedDrops []struct {
		Id                     string `json:"id"`
		Name                   string `json:"name"`
		RequiredMinutesWatched int    `json:"requiredMinutesWatched"`
		Self                   struct {
			CurrentMinutesWatched int  `json:"currentMinutesWatched"`
			IsClaimed             bool `json:"isClaimed"`
		} `json:"self"`
	} `json:"timeBasedDrops"`
}

func (wc wireCampaign) toCampaign() Campaign {
	campaign := Campaign{
		Id:       wc.Id,
		Name:     wc.Name,
		Game:     wc.Game.Name,
		Status:   wc.Status,
		Channels: wc.Allow.Channels,
	}
	campaign.StartsAt = parseWireTime(wc.StartAt)
	campaign.EndsAt = parseWireTime(wc.EndAt)
	for _, wd := range wc.TimeBasedDrops {
		campaign.Drops = append(campaign.Drops, Drop{
			Id:              wd.Id,
			Name:            wd.Name,
			RequiredMinutes: wd.RequiredMinutesWatched,
			CurrentMinutes:  wd.Self.CurrentMinutesWatched,
			IsClaimed:       wd.Self.IsClaimed,
		})
	}
	return campaign
}
