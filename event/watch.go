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

// WatchResultEventType is the event type for watch session heartbeat results
const WatchResultEventType = EventType("watch.result")

// WatchResultEvent is emitted after each minute-watched heartbeat attempt.
// Err is nil on success. Expired is set when the session gave up after too
// many consecutive failures; the session has already stopped beating by the
// time an expired result is delivered.
type WatchResultEvent struct {
	ChannelId string
	Err       error
	Failures  int
	Expired   bool
}

// ListenerStatusEventType is the event type for realtime listener state changes
const ListenerStatusEventType = EventType("listener.status")

// ListenerStatusEvent is emitted when the realtime listener transitions
// between connection states, including reconnect attempts during backoff.
type ListenerStatusEvent struct {
	State   string
	Attempt int
}
