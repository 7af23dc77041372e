// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelModel = "model"
	LabelFold  = "fold"
)

var (
	FoldRMSEVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialrec",
		Subsystem: "cv",
		Name:      "fold_rmse",
	}, []string{LabelModel, LabelFold})
	FoldRatioVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialrec",
		Subsystem: "cv",
		Name:      "fold_ratio",
	}, []string{LabelModel, LabelFold})
	FitSecondsVec = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "socialrec",
		Subsystem: "cv",
		Name:      "fit_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{LabelModel})
	UndefinedFoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialrec",
		Subsystem: "cv",
		Name:      "undefined_folds_total",
	}, []string{LabelModel})
)
