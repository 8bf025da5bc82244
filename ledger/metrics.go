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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	placesTotal      prometheus.Counter
	withdrawalsTotal prometheus.Counter
	rejectionsTotal  *prometheus.CounterVec
}

func (m *engineMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.placesTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "chorus_ledger_places_total",
		Help: "total successful place operations",
	})
	m.withdrawalsTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "chorus_ledger_withdrawals_total",
		Help: "total successful withdraw operations",
	})
	m.rejectionsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_ledger_rejections_total",
			Help: "total rejected operations by type",
		},
		[]string{"op"},
	)
}
