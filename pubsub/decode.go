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

package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blinklabs-io/dropmine/event"
)

// frame is the outer envelope of every inbound pubsub message
type frame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	Data  struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data"`
}

// handleMessage decodes one inbound frame. Returns reconnect=true when
// the server asked us to reconnect. Decode failures return an error
// wrapping ErrDecode; the caller logs and skips them.
func (l *Listener) handleMessage(
	data []byte,
	pongCh chan<- struct{},
) (bool, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	switch f.Type {
	case "PONG":
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return false, nil
	case "RECONNECT":
		return true, nil
	case "RESPONSE":
		if f.Error != "" {
			l.logger.Warn(
				"pubsub listen error",
				"component", "pubsub",
				"error", f.Error,
				"nonce", f.Nonce,
			)
		}
		return false, nil
	case "MESSAGE":
		return false, l.handleTopicMessage(f.Data.Topic, f.Data.Message)
	default:
		l.logger.Debug(
			"ignoring pubsub frame",
			"component", "pubsub",
			"type", f.Type,
		)
		return false, nil
	}
}

// topicMessage is the inner payload carried by a MESSAGE frame
type topicMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (l *Listener) handleTopicMessage(topic, message string) error {
	var inner topicMessage
	if err := json.Unmarshal([]byte(message), &inner); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrDecode, topic, err)
	}
	switch {
	case strings.HasPrefix(topic, "video-playback-by-id."):
		return l.handleStreamState(topic, inner)
	case strings.HasPrefix(topic, "user-drop-events."):
		return l.handleDropEvent(topic, inner)
	default:
		l.logger.Debug(
			"ignoring message for unknown topic",
			"component", "pubsub",
			"topic", topic,
		)
		return nil
	}
}

func (l *Listener) handleStreamState(topic string, inner topicMessage) error {
	channelId := topic[strings.LastIndex(topic, ".")+1:]
	switch inner.Type {
	case "stream-up":
		l.eventBus.Publish(
			event.StreamWentLiveEventType,
			event.NewEvent(
				event.StreamWentLiveEventType,
				event.StreamWentLiveEvent{ChannelId: channelId},
			),
		)
	case "stream-down":
		l.eventBus.Publish(
			event.StreamWentOfflineEventType,
			event.NewEvent(
				event.StreamWentOfflineEventType,
				event.StreamWentOfflineEvent{ChannelId: channelId},
			),
		)
	case "viewcount", "commercial":
		// Periodic stats, nothing to do
	default:
		l.logger.Debug(
			"ignoring stream state message",
			"component", "pubsub",
			"type", inner.Type,
		)
	}
	return nil
}

func (l *Listener) handleDropEvent(topic string, inner topicMessage) error {
	switch inner.Type {
	case "drop-progress":
		var payload struct {
			DropId         string `json:"drop_id"`
			CurrentMinutes int    `json:"current_progress_min"`
		}
		if err := json.Unmarshal(inner.Data, &payload); err != nil {
			return fmt.Errorf("%w: topic %s: %w", ErrDecode, topic, err)
		}
		if payload.DropId == "" {
			return fmt.Errorf("%w: topic %s: missing drop id", ErrDecode, topic)
		}
		l.eventBus.Publish(
			event.DropProgressEventType,
			event.NewEvent(
				event.DropProgressEventType,
				event.DropProgressEvent{
					DropId:  payload.DropId,
					Minutes: payload.CurrentMinutes,
				},
			),
		)
	case "drop-claim":
		var payload struct {
			DropId string `json:"drop_id"`
		}
		if err := json.Unmarshal(inner.Data, &payload); err != nil {
			return fmt.Errorf("%w: topic %s: %w", ErrDecode, topic, err)
		}
		if payload.DropId == "" {
			return fmt.Errorf("%w: topic %s: missing drop id", ErrDecode, topic)
		}
		l.eventBus.Publish(
			event.DropClaimedEventType,
			event.NewEvent(
				event.DropClaimedEventType,
				event.DropClaimedEvent{DropId: payload.DropId},
			),
		)
	case "campaign-update":
		var payload struct {
			CampaignId string `json:"campaign_id"`
		}
		if err := json.Unmarshal(inner.Data, &payload); err != nil {
			return fmt.Errorf("%w: topic %s: %w", ErrDecode, topic, err)
		}
		l.eventBus.Publish(
			event.CampaignUpdatedEventType,
			event.NewEvent(
				event.CampaignUpdatedEventType,
				event.CampaignUpdatedEvent{CampaignId: payload.CampaignId},
			),
		)
	default:
		l.logger.Debug(
			"ignoring drop event",
			"component", "pubsub",
			"type", inner.Type,
		)
	}
	return nil
}
