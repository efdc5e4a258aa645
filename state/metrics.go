// Copyright 2025 Blink Labs Software
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

package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "succinct_state_"

type stateMetrics struct {
	activeTeams   prometheus.Gauge
	pushes        *prometheus.CounterVec
	teamFetches   prometheus.Counter
	memberFetches prometheus.Counter
	invariants    *prometheus.CounterVec
}

func (m *stateMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.activeTeams = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "active_teams",
		Help: "number of teams on the live roster",
	})
	m.pushes = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "pushes_total",
			Help: "total number of push events emitted, by kind",
		},
		[]string{"kind"},
	)
	m.teamFetches = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: metricNamePrefix + "team_fetches_total",
		Help: "total number of team lookups that reached the database",
	})
	m.memberFetches = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: metricNamePrefix + "member_fetches_total",
		Help: "total number of member lookups that reached the database",
	})
	m.invariants = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "invariant_violations_total",
			Help: "total number of operations rejected for an incompatible state",
		},
		[]string{"op"},
	)
}
