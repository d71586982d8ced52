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

import "time"

// Channel identifies a channel that is an eligible source for a campaign
type Channel struct {
	Id    string `json:"id"`
	Login string `json:"name"`
}

// Drop is a single time-gated reward tier within a campaign
type Drop struct {
	Id              string `json:"id"`
	Name            string `json:"name"`
	RequiredMinutes int    `json:"requiredMinutesWatched"`
	CurrentMinutes  int    `json:"currentMinutesWatched"`
	IsClaimed       bool   `json:"isClaimed"`
}

// Campaign is the platform-reported state of a drop campaign as returned
// by the inventory query
type Campaign struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Game     string    `json:"game"`
	Status   string    `json:"status"`
	StartsAt time.Time `json:"startAt"`
	EndsAt   time.Time `json:"endAt"`
	Channels []Channel `json:"allow"`
	Drops    []Drop    `json:"timeBasedDrops"`
}

// StreamStatus is the liveness view of a single channel
type StreamStatus struct {
	ChannelId   string `json:"id"`
	Login       string `json:"login"`
	Game        string `json:"game"`
	BroadcastId string `json:"broadcastId"`
	Live        bool   `json:"isLive"`
}

// InventorySnapshot is the full platform-reported campaign/drop state for
// the authenticated user
type InventorySnapshot struct {
	UserId    string     `json:"userId"`
	Campaigns []Campaign `json:"campaigns"`
}
