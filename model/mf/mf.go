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

package mf

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/c-bata/goptuna"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// MatrixFactorization predicts ratings by mean + biases + U·V. Hyper-parameters:
//
//	n_factors    - number of latent factors (default 8)
//	lr           - learning rate (default 0.005)
//	reg          - regularization strength (default 0.02)
//	threshold    - percent improvement of SSE below which training stops (default 2)
//	n_epochs     - maximum number of epochs (default 1000)
//	user_bias    - remove user biases (default false)
//	item_bias    - remove item biases (default false)
//	random_state - seed of factor initialization (default 0)
type MatrixFactorization struct {
	model.BaseModel
	saveTo   blob.Store
	loadFrom blob.Store
}

func NewMatrixFactorization(params model.Params) *MatrixFactorization {
	m := new(MatrixFactorization)
	m.SetParams(params)
	return m
}

// SaveMatrices makes every fit write its factors to a store.
func (m *MatrixFactorization) SaveMatrices(store blob.Store) {
	m.saveTo = store
}

// UseSavedMatrices makes every fit read factors from a store instead of training.
// Biases are still computed from the training matrix.
func (m *MatrixFactorization) UseSavedMatrices(store blob.Store) {
	m.loadFrom = store
}

// SuggestParams samples the number of factors, the learning rate and the
// regularization strength.
func (m *MatrixFactorization) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors: lo.Must(trial.SuggestInt(string(model.NFactors), 2, 32)),
		model.Lr:       lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.0005, 0.05)),
		model.Reg:      lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.001, 0.5)),
	}
}

func (m *MatrixFactorization) optimizer() Optimizer {
	return Optimizer{
		Factors:   m.Params.GetInt(model.NFactors, 8),
		LearnRate: m.Params.GetFloat64(model.Lr, 0.005),
		Reg:       m.Params.GetFloat64(model.Reg, 0.02),
		Threshold: m.Params.GetFloat64(model.Threshold, 2),
		MaxEpochs: m.Params.GetInt(model.NEpochs, 1000),
	}
}

// Fit trains a new predictor. The model itself is left unchanged.
func (m *MatrixFactorization) Fit(ctx context.Context, train *dataset.Ratings) (model.Predictor, error) {
	nUsers, nItems := train.Shape()
	userBias := m.Params.GetBool(model.UserBias, false)
	itemBias := m.Params.GetBool(model.ItemBias, false)
	opt := m.optimizer()
	log.Logger().Info("fit matrix factorization",
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", train.Count()),
		zap.Any("params", m.GetParams()))
	start := time.Now()

	biases, residual := Decompose(train, userBias, itemBias)
	var (
		factors *Factors
		err     error
	)
	if m.loadFrom != nil {
		factors, err = LoadFactors(ctx, m.loadFrom)
		if err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		factors, err = opt.Optimize(ctx, nUsers, nItems, residual, m.GetRandomGenerator())
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	fitted, err := NewFitted(biases, factors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if fittedUsers, fittedItems := fitted.Shape(); fittedUsers != nUsers || fittedItems != nItems {
		return nil, errors.NotValidf("factors of shape %dx%d for ratings of shape %dx%d",
			fittedUsers, fittedItems, nUsers, nItems)
	}
	for _, e := range residual {
		fitted.trainedUsers.Set(uint(e.User))
		fitted.trainedItems.Set(uint(e.Item))
	}
	if m.saveTo != nil {
		if err = SaveFactors(ctx, m.saveTo, factors); err != nil {
			return nil, errors.Trace(err)
		}
	}
	log.Logger().Info("fit matrix factorization complete",
		zap.Int("epochs", factors.Epochs()),
		zap.Bool("converged", factors.Converged),
		zap.Uint("cold_users", uint(nUsers)-fitted.trainedUsers.Count()),
		zap.Uint("cold_items", uint(nItems)-fitted.trainedItems.Count()),
		zap.Duration("duration", time.Since(start)))
	return fitted, nil
}

// Fitted is a trained matrix factorization. It is never modified after Fit.
type Fitted struct {
	Biases       Biases
	Factors      *Factors
	prediction   *mat.Dense
	trainedUsers *bitset.BitSet
	trainedItems *bitset.BitSet
}

// NewFitted builds the prediction matrix U·V + offsets.
func NewFitted(biases Biases, factors *Factors) (*Fitted, error) {
	nUsers, k := factors.U.Dims()
	kv, nItems := factors.V.Dims()
	if k != kv {
		return nil, errors.NotValidf("factors of %d and %d dimensions", k, kv)
	}
	if biases.User != nil && len(biases.User) != nUsers {
		return nil, errors.NotValidf("%d user biases for %d users", len(biases.User), nUsers)
	}
	if biases.Item != nil && len(biases.Item) != nItems {
		return nil, errors.NotValidf("%d item biases for %d items", len(biases.Item), nItems)
	}
	prediction := mat.NewDense(nUsers, nItems, nil)
	prediction.Mul(factors.U, factors.V)
	prediction.Apply(func(u, i int, v float64) float64 {
		return v + biases.Offset(u, i)
	}, prediction)
	return &Fitted{
		Biases:       biases,
		Factors:      factors,
		prediction:   prediction,
		trainedUsers: bitset.New(uint(nUsers)),
		trainedItems: bitset.New(uint(nItems)),
	}, nil
}

func (f *Fitted) Shape() (int, int) {
	return f.prediction.Dims()
}

func (f *Fitted) PredictOne(user, item int) model.Prediction {
	nUsers, nItems := f.prediction.Dims()
	if user < 0 || user >= nUsers || item < 0 || item >= nItems {
		return model.NotPredicted
	}
	return model.Predicted(f.prediction.At(user, item))
}

func (f *Fitted) PredictUser(user int) []model.Prediction {
	return model.PredictUser(f, user)
}

// PredictAll returns a copy of the prediction matrix.
func (f *Fitted) PredictAll() (*mat.Dense, error) {
	return mat.DenseCopyOf(f.prediction), nil
}

// IsColdUser reports whether the user had no training ratings. Predictions for
// cold users come from random factors and biases alone.
func (f *Fitted) IsColdUser(user int) bool {
	return !f.trainedUsers.Test(uint(user))
}

// IsColdItem reports whether the item had no training ratings.
func (f *Fitted) IsColdItem(item int) bool {
	return !f.trainedItems.Test(uint(item))
}
