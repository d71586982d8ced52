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

package event

// DropProgressEventType is the event type for drop watch-minute progress
const DropProgressEventType = EventType("drops.progress")

// DropProgressEvent is emitted when the platform reports accumulated
// watch minutes for a drop. Minutes is the absolute accumulated value,
// not a delta.
type DropProgressEvent struct {
	DropId  string
	Minutes int
}

// DropClaimedEventType is the event type for claimed drops
const DropClaimedEventType = EventType("drops.claimed")

// DropClaimedEvent is emitted when a drop reward has been claimed, either
// by the platform or synthesized locally when a drop reaches its required
// minutes.
type DropClaimedEvent struct {
	DropId string
}

// CampaignUpdatedEventType is the event type for campaign/inventory changes
const CampaignUpdatedEventType = EventType("drops.campaign")

// CampaignUpdatedEvent is emitted when campaign metadata changes upstream
// and the local inventory should be refreshed.
type CampaignUpdatedEvent struct {
	CampaignId string
}
