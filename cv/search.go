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
	"context"
	"math"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// SearchableModel is a model that suggests its own search space.
type SearchableModel interface {
	model.Model
	SuggestParams(trial goptuna.Trial) model.Params
}

// ModelSearch is a goptuna objective minimizing the mean RMSE of validation.
type ModelSearch struct {
	ctx       context.Context
	validator *Validator
	create    func() SearchableModel
	result    SearchResult
}

// SearchResult is the best trial so far.
type SearchResult struct {
	Params model.Params
	Result Result
	RMSE   float64
	Trials int
}

func NewModelSearch(ctx context.Context, v *Validator, create func() SearchableModel) *ModelSearch {
	return &ModelSearch{
		ctx:       ctx,
		validator: v,
		create:    create,
		result:    SearchResult{RMSE: math.Inf(1)},
	}
}

// Objective validates a model with suggested parameters applied on top of its
// own. A trial without any prediction scores math.MaxFloat64.
func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	m := ms.create()
	m.SetParams(m.GetParams().Overwrite(m.SuggestParams(trial)))
	result, err := ms.validator.Validate(ms.ctx, m)
	if err != nil {
		return 0, errors.Trace(err)
	}
	ms.result.Trials++
	rmse, ok := result.MeanRMSE()
	if !ok {
		log.Logger().Warn("no prediction in trial", zap.String("params", m.GetParams().ToString()))
		return math.MaxFloat64, nil
	}
	log.Logger().Info("search trial complete",
		zap.String("params", m.GetParams().ToString()),
		zap.Float64("rmse", rmse))
	if rmse < ms.result.RMSE {
		ms.result.Params = m.GetParams()
		ms.result.Result = result
		ms.result.RMSE = rmse
	}
	return rmse, nil
}

func (ms *ModelSearch) Result() SearchResult {
	return ms.result
}

// Search runs nTrials trials of TPE sampling and returns the best one.
func Search(ctx context.Context, v *Validator, create func() SearchableModel, nTrials int, seed int64) (SearchResult, error) {
	study, err := goptuna.CreateStudy("socialrec",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(seed))))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	search := NewModelSearch(ctx, v, create)
	if err = study.Optimize(search.Objective, nTrials); err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	result := search.Result()
	if result.Params == nil {
		return result, errors.NotFoundf("trial with predictions")
	}
	return result, nil
}
