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

// Package cv evaluates models by k-fold cross validation.
package cv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/socialrec/base"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/base/parallel"
	"github.com/gorse-io/socialrec/base/progress"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type ValidatorOptions struct {
	K         int
	TestRatio float64
	Seed      int64
	// RunAll validates every fold. Only fold 0 is validated otherwise.
	RunAll bool
	// Jobs is the number of folds validated concurrently.
	Jobs int
}

// Validator holds a dataset split into a test set and k folds.
type Validator struct {
	data    *dataset.Dataset
	network *dataset.Network
	folds   *dataset.Folds
	opts    ValidatorOptions
}

// NewValidator splits the ratings of a dataset. A nil network is treated as empty.
func NewValidator(data *dataset.Dataset, network *dataset.Network, opts ValidatorOptions) (*Validator, error) {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if network == nil {
		network = dataset.NewNetwork()
	}
	folds, err := dataset.Split(data.Ratings, opts.K, opts.TestRatio, base.NewRandomGenerator(opts.Seed))
	if err != nil {
		return nil, errors.Trace(err)
	}
	nUsers, nItems := data.Ratings.Shape()
	log.Logger().Info("split ratings",
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", data.Ratings.Count()),
		zap.Int("n_train", folds.Train.Count()),
		zap.Int("n_test", folds.Test.Count()),
		zap.Int("k", opts.K))
	return &Validator{
		data:    data,
		network: network,
		folds:   folds,
		opts:    opts,
	}, nil
}

func (v *Validator) Dataset() *dataset.Dataset {
	return v.data
}

func (v *Validator) Network() *dataset.Network {
	return v.network
}

func (v *Validator) Train() *dataset.Ratings {
	return v.folds.Train
}

func (v *Validator) Folds() *dataset.Folds {
	return v.folds
}

// Baseline is the RMSE of predicting every rating by the mean, which is the
// population standard deviation of the training ratings.
func (v *Validator) Baseline() float64 {
	return v.folds.Train.StdDev()
}

// Result holds the score of every validated fold.
type Result struct {
	Scores []Score
}

// MeanRMSE averages the RMSE of defined scores. ok is false if no score is defined.
func (r Result) MeanRMSE() (mean float64, ok bool) {
	var n int
	for _, score := range r.Scores {
		if score.Defined() {
			mean += score.RMSE
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return mean / float64(n), true
}

// FormatMeanRMSE returns the mean RMSE or null.
func (r Result) FormatMeanRMSE() string {
	if mean, ok := r.MeanRMSE(); ok {
		return strconv.FormatFloat(mean, 'f', 4, 64)
	}
	return "null"
}

// Validate fits the model on the rest of each fold and scores the fold.
func (v *Validator) Validate(ctx context.Context, m model.Model) (Result, error) {
	return v.validate(ctx, m, false)
}

// ValidateAverage scores the average predictions of fitted models, which must
// implement model.AveragePredictor.
func (v *Validator) ValidateAverage(ctx context.Context, m model.Model) (Result, error) {
	return v.validate(ctx, m, true)
}

func (v *Validator) validate(ctx context.Context, m model.Model, useAverage bool) (Result, error) {
	nFolds := v.folds.K()
	if !v.opts.RunAll {
		nFolds = 1
	}
	name := modelName(m)
	scores := make([]Score, nFolds)
	ctx, span := progress.Start(ctx, "Validate", nFolds)
	defer span.End()
	err := parallel.Parallel(nFolds, v.opts.Jobs, func(_, j int) error {
		log.Logger().Info("validation set started", zap.String("model", name), zap.Int("fold", j))
		fold := v.folds.Fold(j)
		start := time.Now()
		p, err := m.Fit(ctx, fold.Rest)
		if err != nil {
			return errors.Annotatef(err, "failed to fit fold %d", j)
		}
		FitSecondsVec.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if useAverage {
			averager, ok := p.(model.AveragePredictor)
			if !ok {
				return errors.NotSupportedf("average predictions of %s", name)
			}
			scores[j], err = FindRMSEPrediction(averager.PredictAverage(), fold.Val)
		} else {
			scores[j], err = FindRMSE(p, fold.Val)
		}
		if err != nil {
			return errors.Annotatef(err, "failed to score fold %d", j)
		}
		report(name, j, scores[j])
		span.Add(1)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return Result{}, errors.Trace(err)
	}
	return Result{Scores: scores}, nil
}

// FindTestRMSE fits the model on the training set and scores the test set.
func (v *Validator) FindTestRMSE(ctx context.Context, m model.Model) (Score, error) {
	p, err := v.RunFit(ctx, m)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return FindRMSE(p, v.folds.Test)
}

// RunFit fits the model on the training set.
func (v *Validator) RunFit(ctx context.Context, m model.Model) (model.Predictor, error) {
	p, err := m.Fit(ctx, v.folds.Train)
	return p, errors.Trace(err)
}

func report(name string, fold int, score Score) {
	label := strconv.Itoa(fold)
	if !score.Defined() {
		UndefinedFoldsTotal.WithLabelValues(name).Inc()
		log.Logger().Warn("no prediction in validation set", zap.String("model", name), zap.Int("fold", fold),
			zap.Int("n_ratings", score.Total))
		return
	}
	FoldRMSEVec.WithLabelValues(name, label).Set(score.RMSE)
	FoldRatioVec.WithLabelValues(name, label).Set(score.Ratio)
	log.Logger().Info("validation set complete", zap.String("model", name), zap.Int("fold", fold),
		zap.Float64("rmse", score.RMSE), zap.Float64("ratio", score.Ratio))
}

func modelName(m model.Model) string {
	name := fmt.Sprintf("%T", m)
	return name[strings.LastIndex(name, ".")+1:]
}
