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

package inventory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/store"
)

// ErrNotFound is returned when an operation references an unknown drop or
// campaign. This indicates a state sync bug rather than a user error.
var ErrNotFound = errors.New("not found")

// CampaignState is the overall claim state of a campaign
type CampaignState string

const (
	CampaignNotStarted CampaignState = "NOT_STARTED"
	CampaignInProgress CampaignState = "IN_PROGRESS"
	CampaignClaimed    CampaignState = "CLAIMED"
	CampaignExpired    CampaignState = "EXPIRED"
)

// Drop is a single reward tier being tracked
type Drop struct {
	Id              string
	Name            string
	CampaignId      string
	RequiredMinutes int
	CurrentMinutes  int
	Claimed         bool
}

// MinutesRemaining returns the watch minutes still needed before the drop
// can be claimed
func (d *Drop) MinutesRemaining() int {
	remaining := d.RequiredMinutes - d.CurrentMinutes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Complete returns true when the accumulated minutes have reached the
// required threshold
func (d *Drop) Complete() bool {
	return d.CurrentMinutes >= d.RequiredMinutes
}

// Campaign is the locally tracked state of a drop campaign
type Campaign struct {
	Id       string
	Name     string
	Game     string
	StartsAt time.Time
	EndsAt   time.Time
	Channels []gql.Channel
	Drops    []*Drop
}

// State reports the campaign claim state at the given time
func (c *Campaign) State(now time.Time) CampaignState {
	if !now.Before(c.EndsAt) {
		return CampaignExpired
	}
	claimed := 0
	started := false
	for _, drop := range c.Drops {
		if drop.Claimed {
			claimed++
		}
		if drop.CurrentMinutes > 0 {
			started = true
		}
	}
	if len(c.Drops) > 0 && claimed == len(c.Drops) {
		return CampaignClaimed
	}
	if started || claimed > 0 {
		return CampaignInProgress
	}
	return CampaignNotStarted
}

// EligibleAt returns true when the campaign window contains now and at
// least one drop tier is unclaimed
func (c *Campaign) EligibleAt(now time.Time) bool {
	if now.Before(c.StartsAt) || !now.Before(c.EndsAt) {
		return false
	}
	for _, drop := range c.Drops {
		if !drop.Claimed {
			return true
		}
	}
	return false
}

// NextDrop returns the unclaimed drop closest to completion, or nil when
// every tier is claimed
func (c *Campaign) NextDrop() *Drop {
	var best *Drop
	for _, drop := range c.Drops {
		if drop.Claimed {
			continue
		}
		if best == nil || drop.MinutesRemaining() < best.MinutesRemaining() {
			best = drop
		}
	}
	return best
}

// Inventory is the in-memory campaign/drop model. It is owned by the
// mining loop and mutated only from the loop goroutine; it performs no
// locking of its own.
type Inventory struct {
	campaigns     map[string]*Campaign
	drops         map[string]*Drop
	userId        string
	priorityGames []string
	excludeGames  map[string]bool
	stateCache    *store.Store
	restored      bool
	logger        *slog.Logger
}

// InventoryOptionFunc is a type representing functions that modify the
// inventory configuration
type InventoryOptionFunc func(*Inventory)

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) InventoryOptionFunc {
	return func(i *Inventory) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithStateCache specifies a persistent state cache used to restore
// locally observed progress and claims across restarts
func WithStateCache(stateCache *store.Store) InventoryOptionFunc {
	return func(i *Inventory) {
		i.stateCache = stateCache
	}
}

// WithPriorityGames specifies a user-pinned ordering of games. Campaigns
// for earlier games rank ahead of everything else during resolution.
func WithPriorityGames(games []string) InventoryOptionFunc {
	return func(i *Inventory) {
		i.priorityGames = slices.Clone(games)
	}
}

// WithExcludedGames specifies games whose campaigns are never eligible
func WithExcludedGames(games []string) InventoryOptionFunc {
	return func(i *Inventory) {
		for _, game := range games {
			i.excludeGames[strings.ToLower(game)] = true
		}
	}
}

// New creates an empty inventory with the specified options
func New(opts ...InventoryOptionFunc) *Inventory {
	i := &Inventory{
		campaigns:    make(map[string]*Campaign),
		drops:        make(map[string]*Drop),
		excludeGames: make(map[string]bool),
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// UserId returns the authenticated user id from the last ingested snapshot
func (i *Inventory) UserId() string {
	return i.userId
}

// Ingest merges a platform-reported snapshot into the local model.
// Locally observed progress that is more advanced than the snapshot is
// preserved: accumulated minutes are monotonic and claims are terminal.
func (i *Inventory) Ingest(snapshot *gql.InventorySnapshot) {
	if snapshot.UserId != "" {
		i.userId = snapshot.UserId
	}
	for _, wireCampaign := range snapshot.Campaigns {
		if i.excludeGames[strings.ToLower(wireCampaign.Game)] {
			continue
		}
		campaign, ok := i.campaigns[wireCampaign.Id]
		if !ok {
			campaign = &Campaign{
				Id: wireCampaign.Id,
			}
			i.campaigns[wireCampaign.Id] = campaign
		}
		campaign.Name = wireCampaign.Name
		campaign.Game = wireCampaign.Game
		campaign.StartsAt = wireCampaign.StartsAt
		campaign.EndsAt = wireCampaign.EndsAt
		campaign.Channels = slices.Clone(wireCampaign.Channels)
		for _, wireDrop := range wireCampaign.Drops {
			drop, ok := i.drops[wireDrop.Id]
			if !ok {
				drop = &Drop{
					Id:         wireDrop.Id,
					CampaignId: campaign.Id,
				}
				i.drops[wireDrop.Id] = drop
				campaign.Drops = append(campaign.Drops, drop)
			}
			drop.Name = wireDrop.Name
			drop.RequiredMinutes = wireDrop.RequiredMinutes
			// Progress never regresses
			if wireDrop.CurrentMinutes > drop.CurrentMinutes {
				drop.CurrentMinutes = wireDrop.CurrentMinutes
			}
			if wireDrop.IsClaimed {
				drop.Claimed = true
			}
		}
	}
	i.restoreState()
}

// restoreState overlays persisted progress and claims after the first
// ingest. Persisted values only ever advance the model.
func (i *Inventory) restoreState() {
	if i.stateCache == nil || i.restored {
		return
	}
	i.restored = true
	progress, err := i.stateCache.Progress()
	if err != nil {
		i.logger.Warn(
			"failed to restore cached progress",
			"component", "inventory",
			"error", err,
		)
		return
	}
	for dropId, minutes := range progress {
		if drop, ok := i.drops[dropId]; ok {
			if minutes > drop.CurrentMinutes {
				drop.CurrentMinutes = minutes
			}
		}
	}
	claims, err := i.stateCache.Claims()
	if err != nil {
		i.logger.Warn(
			"failed to restore cached claims",
			"component", "inventory",
			"error", err,
		)
		return
	}
	for dropId := range claims {
		if drop, ok := i.drops[dropId]; ok {
			drop.Claimed = true
		}
	}
}

// EligibleCampaigns returns the campaigns eligible for mining at the
// given time, ordered by ascending time remaining until expiry. The
// ordering is deterministic: ties break on campaign id.
func (i *Inventory) EligibleCampaigns(now time.Time) []*Campaign {
	eligible := make([]*Campaign, 0, len(i.campaigns))
	for _, campaign := range i.campaigns {
		if campaign.EligibleAt(now) {
			eligible = append(eligible, campaign)
		}
	}
	slices.SortFunc(eligible, func(a, b *Campaign) int {
		if c := a.EndsAt.Compare(b.EndsAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})
	return eligible
}

// PriorityRank returns the index of the campaign's game within the
// user-pinned priority list, or -1 when the game is not pinned
func (i *Inventory) PriorityRank(campaign *Campaign) int {
	for idx, game := range i.priorityGames {
		if strings.EqualFold(game, campaign.Game) {
			return idx
		}
	}
	return -1
}

// MarkClaimed transitions a drop to claimed. Claiming is terminal and
// idempotent; marking an already claimed drop is a no-op. Returns
// ErrNotFound for an unknown drop id.
func (i *Inventory) MarkClaimed(dropId string) error {
	drop, ok := i.drops[dropId]
	if !ok {
		return fmt.Errorf("%w: drop %s", ErrNotFound, dropId)
	}
	if drop.Claimed {
		return nil
	}
	drop.Claimed = true
	if drop.CurrentMinutes > drop.RequiredMinutes {
		drop.CurrentMinutes = drop.RequiredMinutes
	}
	if i.stateCache != nil {
		if err := i.stateCache.RecordClaim(drop.Id, drop.CampaignId); err != nil {
			i.logger.Warn(
				"failed to persist claim",
				"component", "inventory",
				"drop", drop.Id,
				"error", err,
			)
		}
	}
	return nil
}

// RecordProgress applies an observed accumulated minute count for a drop.
// Progress is monotonic: a lower value than the current one is ignored.
// Returns true when this update moved the drop to or past its threshold.
func (i *Inventory) RecordProgress(dropId string, minutes int) (bool, error) {
	drop, ok := i.drops[dropId]
	if !ok {
		return false, fmt.Errorf("%w: drop %s", ErrNotFound, dropId)
	}
	if drop.Claimed || minutes <= drop.CurrentMinutes {
		return false, nil
	}
	wasComplete := drop.Complete()
	if minutes > drop.RequiredMinutes {
		minutes = drop.RequiredMinutes
	}
	drop.CurrentMinutes = minutes
	if i.stateCache != nil {
		if err := i.stateCache.RecordProgress(drop.Id, minutes); err != nil {
			i.logger.Warn(
				"failed to persist progress",
				"component", "inventory",
				"drop", drop.Id,
				"error", err,
			)
		}
	}
	return !wasComplete && drop.Complete(), nil
}

// Drop returns the drop with the given id
func (i *Inventory) Drop(dropId string) (*Drop, bool) {
	drop, ok := i.drops[dropId]
	return drop, ok
}

// Campaign returns the campaign with the given id
func (i *Inventory) Campaign(campaignId string) (*Campaign, bool) {
	campaign, ok := i.campaigns[campaignId]
	return campaign, ok
}

// CampaignForDrop returns the campaign owning the given drop
func (i *Inventory) CampaignForDrop(dropId string) (*Campaign, bool) {
	drop, ok := i.drops[dropId]
	if !ok {
		return nil, false
	}
	campaign, ok := i.campaigns[drop.CampaignId]
	return campaign, ok
}

// ChannelIds returns the distinct channel ids across all currently
// eligible campaigns, in deterministic order
func (i *Inventory) ChannelIds(now time.Time) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, campaign := range i.EligibleCampaigns(now) {
		for _, channel := range campaign.Channels {
			if !seen[channel.Id] {
				seen[channel.Id] = true
				ids = append(ids, channel.Id)
			}
		}
	}
	return ids
}
