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

// StreamWentLiveEventType is the event type for channels going live
const StreamWentLiveEventType = EventType("stream.live")

// StreamWentLiveEvent is emitted when a channel's stream comes up
type StreamWentLiveEvent struct {
	ChannelId string
}

// StreamWentOfflineEventType is the event type for channels going offline
const StreamWentOfflineEventType = EventType("stream.offline")

// StreamWentOfflineEvent is emitted when a channel's stream goes down
type StreamWentOfflineEvent struct {
	ChannelId string
}
