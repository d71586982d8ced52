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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type minerMetrics struct {
	state       *prometheus.GaugeVec
	heartbeats  prometheus.Counter
	switches    prometheus.Counter
	claims      prometheus.Counter
	expirations prometheus.Counter
}

func newMinerMetrics(promRegistry prometheus.Registerer) *minerMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &minerMetrics{
		state: promautoFactory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dropmine_miner_state",
				Help: "current miner state (1 for the active state)",
			},
			[]string{"state"},
		),
		heartbeats: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "dropmine_miner_heartbeats_total",
				Help: "number of successful watch heartbeats",
			},
		),
		switches: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "dropmine_miner_channel_switches_total",
				Help: "number of watch session channel switches",
			},
		),
		claims: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "dropmine_miner_claims_total",
				Help: "number of drops claimed",
			},
		),
		expirations: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "dropmine_miner_watch_expirations_total",
				Help: "number of watch sessions expired after repeated heartbeat failures",
			},
		),
	}
}

func (m *minerMetrics) setState(state MinerState) {
	for _, s := range []MinerState{StateIdle, StateWatching, StateSwitching} {
		value := float64(0)
		if s == state {
			value = 1
		}
		m.state.WithLabelValues(string(s)).Set(value)
	}
}
