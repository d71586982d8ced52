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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WatchEvent is the minute-watched payload credited against drop progress.
// It mirrors the event the first-party player emits once per minute.
type WatchEvent struct {
	Event      string               `json:"event"`
	Properties WatchEventProperties `json:"properties"`
}

type WatchEventProperties struct {
	ChannelId   string `json:"channel_id"`
	BroadcastId string `json:"broadcast_id"`
	Player      string `json:"player"`
	UserId      string `json:"user_id"`
}

// SendWatch emits one minute-watched event for the given channel against
// the given telemetry endpoint. Failures map onto the platform error
// taxonomy the same way GQL calls do.
func (c *Client) SendWatch(
	ctx context.Context,
	spadeUrl string,
	userId string,
	channelId string,
	broadcastId string,
) error {
	payload := []WatchEvent{
		{
			Event: "minute-watched",
			Properties: WatchEventProperties{
				ChannelId:   channelId,
				BroadcastId: broadcastId,
				Player:      "site",
				UserId:      userId,
			},
		},
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding watch event: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(rawPayload)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		spadeUrl,
		bytes.NewReader([]byte("data="+encoded)),
	)
	if err != nil {
		return fmt.Errorf("building watch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sending watch event: %w", ErrTransient, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf(
			"%w: watch event returned %d",
			ErrSessionExpired,
			resp.StatusCode,
		)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf(
			"%w: watch event returned %d",
			ErrTransient,
			resp.StatusCode,
		)
	}
	return nil
}

func parseWireTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
