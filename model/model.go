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

package model

import (
	"context"

	"github.com/gorse-io/socialrec/base"
	"github.com/gorse-io/socialrec/base/heap"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// Epsilon is the largest value still treated as "no prediction" by numeric callers.
const Epsilon = 0.0001

// ErrNotImplemented is returned by predictors that cannot produce a full prediction matrix.
var ErrNotImplemented = errors.NotImplementedf("full prediction matrix")

// Prediction is either a predicted rating or the absence of one.
type Prediction struct {
	Value     float64
	Predicted bool
}

// NotPredicted means the model has no basis to predict a cell.
var NotPredicted = Prediction{}

// Predicted wraps a predicted rating.
func Predicted(value float64) Prediction {
	return Prediction{Value: value, Predicted: true}
}

// Float returns the predicted value or 0 when nothing was predicted.
func (p Prediction) Float() float64 {
	if !p.Predicted {
		return 0
	}
	return p.Value
}

// Usable reports whether the prediction takes part in scoring. Predicted values at or
// below Epsilon are treated as missing.
func (p Prediction) Usable() bool {
	return p.Predicted && p.Value > Epsilon
}

// Model is the interface for all models. Fit never mutates the model itself: it
// returns a new predictor, so one model value can be fitted on many folds.
type Model interface {
	// Fit trains a predictor on a ratings matrix.
	Fit(ctx context.Context, train *dataset.Ratings) (Predictor, error)
	// SetParams sets hyper-parameters.
	SetParams(params Params)
	// GetParams returns hyper-parameters.
	GetParams() Params
}

// Predictor is a fitted model.
type Predictor interface {
	// Shape returns the shape of the training matrix.
	Shape() (int, int)
	// PredictOne predicts the rating of a user on an item.
	PredictOne(user, item int) Prediction
	// PredictUser predicts ratings of a user on every item.
	PredictUser(user int) []Prediction
	// PredictAll returns the dense prediction matrix, or ErrNotImplemented.
	PredictAll() (*mat.Dense, error)
}

// AveragePredictor predicts every cell by an average, such as the item mean.
type AveragePredictor interface {
	PredictAverage() *mat.Dense
}

// BaseModel must be included by every model. Hyper-parameters and the seed are managed here.
type BaseModel struct {
	Params    Params
	randState int64
}

// SetParams sets hyper-parameters for the BaseModel model.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

// GetRandomGenerator creates a new generator from the seed. Each fit owns the
// generator it gets, so repeated fits draw the same numbers.
func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return base.NewRandomGenerator(model.randState)
}

// PredictUser is the common implementation of Predictor.PredictUser.
func PredictUser(p Predictor, user int) []Prediction {
	_, nItems := p.Shape()
	predictions := make([]Prediction, nItems)
	for i := range predictions {
		predictions[i] = p.PredictOne(user, i)
	}
	return predictions
}

// Recommend returns up to n items the user has not rated in train, ordered by
// predicted rating from high to low. Unusable predictions are never recommended.
func Recommend(p Predictor, train *dataset.Ratings, user, n int) []int {
	filter := heap.NewTopKFilter[int, float64](n)
	for item, prediction := range p.PredictUser(user) {
		if prediction.Usable() && !train.Contains(user, item) {
			filter.Push(item, prediction.Value)
		}
	}
	items, _ := filter.PopAll()
	return items
}
