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

package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type reconcilerMetrics struct {
	actionsTotal *prometheus.CounterVec
	desyncTotal  prometheus.Counter
	sweepsTotal  prometheus.Counter
}

func (m *reconcilerMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.actionsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_sync_actions_total",
			Help: "total reconciled signal actions by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	m.desyncTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "chorus_sync_mirror_desync_total",
		Help: "total finalized operations whose mirror write failed or was skipped",
	})
	m.sweepsTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "chorus_sync_sweeps_total",
		Help: "total mirror repair sweeps",
	})
}
