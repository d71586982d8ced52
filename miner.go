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

package dropmine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/dropmine/event"
	"github.com/blinklabs-io/dropmine/gql"
	"github.com/blinklabs-io/dropmine/inventory"
	"github.com/blinklabs-io/dropmine/priority"
	"github.com/blinklabs-io/dropmine/pubsub"
	"github.com/blinklabs-io/dropmine/store"
	"github.com/blinklabs-io/dropmine/watcher"
)

// MinerState is the coarse state of the mining loop
type MinerState string

const (
	StateIdle      MinerState = "idle"
	StateWatching  MinerState = "watching"
	StateSwitching MinerState = "switching"
)

// Status is a point-in-time snapshot of what the miner is doing. It is
// safe to read from any goroutine.
type Status struct {
	State            MinerState
	ChannelId        string
	Login            string
	CampaignId       string
	DropId           string
	MinutesRemaining int
	ListenerState    string
}

// platformClient covers the platform calls the mining loop makes. The
// gql.Client satisfies it; tests substitute a fake.
type platformClient interface {
	FetchInventory(ctx context.Context) (*gql.InventorySnapshot, error)
	FetchLive(ctx context.Context, channelIds []string) ([]gql.StreamStatus, error)
	ClaimDrop(ctx context.Context, dropInstanceId string) error
	SendWatch(
		ctx context.Context,
		spadeUrl string,
		userId string,
		channelId string,
		broadcastId string,
	) error
}

// Miner drives the whole engine: it owns the campaign model, consumes
// every trigger from a single ordered event queue, and switches the watch
// session between channels as priorities change.
type Miner struct {
	config     Config
	eventBus   *event.EventBus
	platform   platformClient
	stateCache *store.Store
	inventory  *inventory.Inventory
	resolver   *priority.Resolver
	watcher    *watcher.Watcher
	listener   *pubsub.Listener
	metrics    *minerMetrics

	// Loop-owned state, touched only from the Run goroutine
	live     map[string]gql.StreamStatus
	cooldown map[string]time.Time
	topics   map[string]bool

	statusMu sync.RWMutex
	status   Status

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Miner from the given config
func New(cfg Config) (*Miner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	m := &Miner{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		live:     make(map[string]gql.StreamStatus),
		cooldown: make(map[string]time.Time),
		topics:   make(map[string]bool),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.platform = gql.NewClient(
		cfg.tokens,
		gql.WithEndpoint(cfg.gqlEndpoint),
		gql.WithClientId(cfg.clientId),
		gql.WithUserAgent(cfg.userAgent),
		gql.WithHTTPClient(cfg.httpClient),
		gql.WithLogger(cfg.logger),
	)
	if cfg.promRegistry != nil {
		m.metrics = newMinerMetrics(cfg.promRegistry)
	}
	return m, nil
}

// EventBus returns the miner's event bus. External consumers can
// subscribe to observe miner activity.
func (m *Miner) EventBus() *event.EventBus {
	return m.eventBus
}

// Status returns the current miner status snapshot
func (m *Miner) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// Run drives the mining loop until the context is cancelled or Stop is
// called. Authentication failures are not recoverable without user
// action and terminate the run; everything else is retried in place.
func (m *Miner) Run(ctx context.Context) error {
	defer close(m.done)
	// Open local state cache
	stateCache, err := store.New(m.config.dataDir, m.config.logger)
	if err != nil {
		return fmt.Errorf("failed to open state cache: %w", err)
	}
	m.stateCache = stateCache
	// Build campaign model
	m.inventory = inventory.New(
		inventory.WithLogger(m.config.logger),
		inventory.WithStateCache(m.stateCache),
		inventory.WithPriorityGames(m.config.priorityGames),
		inventory.WithExcludedGames(m.config.excludeGames),
	)
	m.resolver = &priority.Resolver{
		PriorityRank: m.inventory.PriorityRank,
		Mode:         m.config.priorityMode,
	}
	// Watch session heartbeats
	watcherOpts := []watcher.WatcherOptionFunc{
		watcher.WithLogger(m.config.logger),
	}
	if m.config.heartbeatInterval > 0 {
		watcherOpts = append(
			watcherOpts,
			watcher.WithHeartbeatInterval(m.config.heartbeatInterval),
		)
	}
	if m.config.heartbeatMaxFailures > 0 {
		watcherOpts = append(
			watcherOpts,
			watcher.WithMaxFailures(m.config.heartbeatMaxFailures),
		)
	}
	m.watcher = watcher.New(
		&watchSender{miner: m},
		m.eventBus,
		watcherOpts...,
	)
	// Realtime listener
	listenerOpts := []pubsub.ListenerOptionFunc{
		pubsub.WithLogger(m.config.logger),
	}
	if m.config.pubsubUrl != "" {
		listenerOpts = append(listenerOpts, pubsub.WithUrl(m.config.pubsubUrl))
	}
	if m.config.dialer != nil {
		listenerOpts = append(
			listenerOpts,
			pubsub.WithDialer(m.config.dialer),
		)
	}
	m.listener = pubsub.New(m.config.tokens, m.eventBus, listenerOpts...)
	// All triggers arrive on one ordered queue, so state mutation stays
	// on this goroutine
	subId, events := m.eventBus.SubscribeAll(
		event.DropProgressEventType,
		event.DropClaimedEventType,
		event.CampaignUpdatedEventType,
		event.StreamWentLiveEventType,
		event.StreamWentOfflineEventType,
		event.WatchResultEventType,
		event.ListenerStatusEventType,
	)
	if err := m.listener.Start(); err != nil {
		m.eventBus.Unsubscribe(subId)
		return err
	}
	defer m.shutdown(subId)
	// Initial sync. A transient failure here is fine, the refresh ticker
	// retries.
	if err := m.refresh(ctx); err != nil {
		return err
	}
	m.evaluate()
	reevalTicker := time.NewTicker(m.config.reevalInterval)
	defer reevalTicker.Stop()
	refreshTicker := time.NewTicker(m.config.inventoryRefreshInterval)
	defer refreshTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-reevalTicker.C:
			if err := m.claimCompleted(ctx); err != nil {
				return err
			}
			m.evaluate()
		case <-refreshTicker.C:
			if err := m.refresh(ctx); err != nil {
				return err
			}
			m.evaluate()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.handleEvent(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Stop signals the mining loop to shut down. Idempotent. Run performs
// the orderly shutdown before it returns.
func (m *Miner) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

func (m *Miner) shutdown(subId event.EventSubscriberId) {
	m.config.logger.Debug(
		"starting graceful shutdown",
		"component", "miner",
	)
	// This goroutine no longer drains the event queue, so release it
	// before teardown. Otherwise a producer blocked on a full queue would
	// hold up Detach and listener teardown indefinitely.
	m.eventBus.Unsubscribe(subId)
	// Stop heartbeats first so nothing is credited after teardown begins
	m.watcher.Detach()
	m.listener.Stop()
	if m.stateCache != nil {
		if err := m.stateCache.Close(); err != nil {
			m.config.logger.Warn(
				"failed to close state cache",
				"component", "miner",
				"error", err,
			)
		}
	}
	m.setStatus(Status{State: StateIdle})
	m.eventBus.Stop()
	m.config.logger.Debug(
		"graceful shutdown complete",
		"component", "miner",
	)
}

func (m *Miner) handleEvent(ctx context.Context, evt event.Event) error {
	switch data := evt.Data.(type) {
	case event.DropProgressEvent:
		return m.handleDropProgress(ctx, data)
	case event.DropClaimedEvent:
		if err := m.inventory.MarkClaimed(data.DropId); err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				// Progress for a drop we have never seen means the
				// local model is stale
				if err := m.refresh(ctx); err != nil {
					return err
				}
			}
		}
		m.evaluate()
	case event.CampaignUpdatedEvent:
		if err := m.refresh(ctx); err != nil {
			return err
		}
		m.evaluate()
	case event.StreamWentLiveEvent:
		if err := m.refreshChannel(ctx, data.ChannelId); err != nil {
			return err
		}
		m.evaluate()
	case event.StreamWentOfflineEvent:
		if status, ok := m.live[data.ChannelId]; ok {
			status.Live = false
			status.BroadcastId = ""
			m.live[data.ChannelId] = status
		}
		m.evaluate()
	case event.WatchResultEvent:
		m.handleWatchResult(data)
	case event.ListenerStatusEvent:
		m.statusMu.Lock()
		m.status.ListenerState = data.State
		m.statusMu.Unlock()
	}
	return nil
}

func (m *Miner) handleDropProgress(
	ctx context.Context,
	data event.DropProgressEvent,
) error {
	justCompleted, err := m.inventory.RecordProgress(data.DropId, data.Minutes)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			if err := m.refresh(ctx); err != nil {
				return err
			}
			m.evaluate()
		}
		return nil
	}
	m.statusMu.Lock()
	if m.status.DropId == data.DropId {
		if drop, ok := m.inventory.Drop(data.DropId); ok {
			m.status.MinutesRemaining = drop.MinutesRemaining()
		}
	}
	m.statusMu.Unlock()
	if justCompleted {
		if err := m.claimDrop(ctx, data.DropId); err != nil {
			return err
		}
		m.evaluate()
	}
	return nil
}

func (m *Miner) handleWatchResult(data event.WatchResultEvent) {
	if data.Err == nil {
		if m.metrics != nil {
			m.metrics.heartbeats.Inc()
		}
		return
	}
	m.config.logger.Warn(
		"watch heartbeat failed",
		"component", "miner",
		"channel", data.ChannelId,
		"failures", data.Failures,
		"error", data.Err,
	)
	if !data.Expired {
		return
	}
	// The session has already stopped beating. Exclude the channel for a
	// while so resolution doesn't immediately pick it again.
	m.cooldown[data.ChannelId] = time.Now().Add(m.config.watchCooldown)
	if m.metrics != nil {
		m.metrics.expirations.Inc()
	}
	m.evaluate()
}

// claimDrop claims a completed drop and marks it claimed locally. A
// transient claim failure leaves the drop unclaimed; the periodic
// re-evaluation retries it.
func (m *Miner) claimDrop(ctx context.Context, dropId string) error {
	campaign, ok := m.inventory.CampaignForDrop(dropId)
	if !ok {
		return nil
	}
	dropInstanceId := fmt.Sprintf(
		"%s#%s#%s",
		m.inventory.UserId(),
		campaign.Id,
		dropId,
	)
	if err := m.platform.ClaimDrop(ctx, dropInstanceId); err != nil {
		if errors.Is(err, gql.ErrAuthentication) {
			return err
		}
		m.config.logger.Warn(
			"failed to claim drop",
			"component", "miner",
			"drop", dropId,
			"error", err,
		)
		return nil
	}
	if err := m.inventory.MarkClaimed(dropId); err != nil {
		m.config.logger.Warn(
			"failed to mark drop claimed",
			"component", "miner",
			"drop", dropId,
			"error", err,
		)
	}
	m.config.logger.Info(
		"claimed drop",
		"component", "miner",
		"drop", dropId,
		"campaign", campaign.Id,
	)
	if m.metrics != nil {
		m.metrics.claims.Inc()
	}
	return nil
}

// claimCompleted retries claims for any drop that reached its threshold
// but whose claim call failed earlier
func (m *Miner) claimCompleted(ctx context.Context) error {
	for _, campaign := range m.inventory.EligibleCampaigns(time.Now()) {
		for _, drop := range campaign.Drops {
			if drop.Claimed || !drop.Complete() {
				continue
			}
			if err := m.claimDrop(ctx, drop.Id); err != nil {
				return err
			}
		}
	}
	return nil
}

// refresh refetches the full inventory and liveness view and reconciles
// the realtime topic subscriptions. Transient failures are logged and
// left for the next refresh; authentication failures terminate the run.
func (m *Miner) refresh(ctx context.Context) error {
	snapshot, err := m.platform.FetchInventory(ctx)
	if err != nil {
		if errors.Is(err, gql.ErrAuthentication) {
			return err
		}
		m.config.logger.Warn(
			"inventory refresh failed",
			"component", "miner",
			"error", err,
		)
		return nil
	}
	m.inventory.Ingest(snapshot)
	channelIds := m.inventory.ChannelIds(time.Now())
	m.syncTopics(channelIds)
	statuses, err := m.platform.FetchLive(ctx, channelIds)
	if err != nil {
		if errors.Is(err, gql.ErrAuthentication) {
			return err
		}
		m.config.logger.Warn(
			"liveness refresh failed",
			"component", "miner",
			"error", err,
		)
		return nil
	}
	m.live = make(map[string]gql.StreamStatus, len(statuses))
	for _, status := range statuses {
		m.live[status.ChannelId] = status
	}
	m.config.logger.Info(
		"inventory refreshed",
		"component", "miner",
		"campaigns", len(m.inventory.EligibleCampaigns(time.Now())),
		"channels", len(channelIds),
	)
	return nil
}

// refreshChannel refetches the liveness view for a single channel
func (m *Miner) refreshChannel(ctx context.Context, channelId string) error {
	statuses, err := m.platform.FetchLive(ctx, []string{channelId})
	if err != nil {
		if errors.Is(err, gql.ErrAuthentication) {
			return err
		}
		m.config.logger.Warn(
			"channel refresh failed",
			"component", "miner",
			"channel", channelId,
			"error", err,
		)
		return nil
	}
	for _, status := range statuses {
		m.live[status.ChannelId] = status
	}
	return nil
}

// syncTopics reconciles the realtime subscriptions with the current set
// of interesting channels
func (m *Miner) syncTopics(channelIds []string) {
	desired := make(map[string]bool, len(channelIds)+1)
	if userId := m.inventory.UserId(); userId != "" {
		desired[pubsub.DropProgressTopic(userId)] = true
	}
	for _, channelId := range channelIds {
		desired[pubsub.StreamStateTopic(channelId)] = true
	}
	for topic := range m.topics {
		if !desired[topic] {
			m.listener.Unsubscribe(topic)
			delete(m.topics, topic)
		}
	}
	for topic := range desired {
		if m.topics[topic] {
			continue
		}
		if err := m.listener.Subscribe(topic); err != nil {
			m.config.logger.Warn(
				"failed to subscribe to topic",
				"component", "miner",
				"topic", topic,
				"error", err,
			)
			continue
		}
		m.topics[topic] = true
	}
}

// evaluate recomputes the priority list and switches the watch session
// if a better target exists
func (m *Miner) evaluate() {
	now := time.Now()
	for channelId, until := range m.cooldown {
		if now.After(until) {
			delete(m.cooldown, channelId)
		}
	}
	campaigns := m.inventory.EligibleCampaigns(now)
	live := make([]gql.StreamStatus, 0, len(m.live))
	for channelId, status := range m.live {
		if _, cooling := m.cooldown[channelId]; cooling {
			continue
		}
		live = append(live, status)
	}
	targets := m.resolver.Resolve(campaigns, live)
	current, attached := m.watcher.Target()
	if len(targets) == 0 {
		if attached {
			m.config.logger.Info(
				"no eligible targets, detaching",
				"component", "miner",
				"channel", current,
			)
			m.watcher.Detach()
		}
		m.setStatus(Status{State: StateIdle})
		return
	}
	best := targets[0]
	if attached && current == best.ChannelId {
		m.setTargetStatus(StateWatching, best)
		return
	}
	if attached {
		m.setTargetStatus(StateSwitching, best)
		m.config.logger.Info(
			"switching channels",
			"component", "miner",
			"from", current,
			"to", best.Login,
		)
		m.watcher.Detach()
		if m.metrics != nil {
			m.metrics.switches.Inc()
		}
	}
	if err := m.watcher.Attach(best.ChannelId, best.BroadcastId); err != nil {
		m.config.logger.Warn(
			"failed to attach watch session",
			"component", "miner",
			"channel", best.ChannelId,
			"error", err,
		)
		m.setStatus(Status{State: StateIdle})
		return
	}
	m.config.logger.Info(
		"watching channel",
		"component", "miner",
		"channel", best.Login,
		"campaign", best.CampaignId,
		"drop", best.DropId,
		"minutes_remaining", best.MinutesRemaining,
	)
	m.setTargetStatus(StateWatching, best)
}

func (m *Miner) setStatus(status Status) {
	m.statusMu.Lock()
	status.ListenerState = m.status.ListenerState
	m.status = status
	m.statusMu.Unlock()
	if m.metrics != nil {
		m.metrics.setState(status.State)
	}
}

func (m *Miner) setTargetStatus(state MinerState, target priority.Target) {
	m.setStatus(Status{
		State:            state,
		ChannelId:        target.ChannelId,
		Login:            target.Login,
		CampaignId:       target.CampaignId,
		DropId:           target.DropId,
		MinutesRemaining: target.MinutesRemaining,
	})
}

// watchSender adapts the platform client to the watcher's sender
// interface, filling in the telemetry endpoint and user id
type watchSender struct {
	miner *Miner
}

func (s *watchSender) SendWatch(
	ctx context.Context,
	channelId string,
	broadcastId string,
) error {
	return s.miner.platform.SendWatch(
		ctx,
		s.miner.config.spadeUrl,
		s.miner.inventory.UserId(),
		channelId,
		broadcastId,
	)
}
