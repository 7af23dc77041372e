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

	"github.com/gorse-io/socialrec/base"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/base/progress"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// MinEpochs is the number of epochs always run before convergence is checked.
const MinEpochs = 2

// Optimizer factorizes a sparse residual by stochastic gradient descent.
type Optimizer struct {
	Factors   int
	LearnRate float64
	Reg       float64
	// Threshold stops training once the percent improvement of SSE between two
	// consecutive epochs is no greater than it.
	Threshold float64
	MaxEpochs int
}

// Factors are the result of an optimization: residual ≈ U·V.
type Factors struct {
	U *mat.Dense // n_users × k
	V *mat.Dense // k × n_items
	// SSE holds the sum of squared errors of each epoch.
	SSE       []float64
	Converged bool
}

// Epochs returns the number of epochs run.
func (f *Factors) Epochs() int {
	return len(f.SSE)
}

func (opt Optimizer) validate() error {
	if opt.Factors <= 0 {
		return errors.NotValidf("number of factors %d", opt.Factors)
	}
	if opt.LearnRate <= 0 {
		return errors.NotValidf("learning rate %v", opt.LearnRate)
	}
	if opt.Reg < 0 {
		return errors.NotValidf("regularization %v", opt.Reg)
	}
	if opt.MaxEpochs < MinEpochs {
		return errors.NotValidf("max epochs %d (at least %d)", opt.MaxEpochs, MinEpochs)
	}
	return nil
}

// Optimize learns factors for the residual of an nUsers × nItems matrix. U is
// drawn before V, both uniformly in [-1, 1] and in row major order. Cells are
// visited in the order of residual.
func (opt Optimizer) Optimize(ctx context.Context, nUsers, nItems int, residual []dataset.Entry, rng base.RandomGenerator) (*Factors, error) {
	if err := opt.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if nUsers <= 0 || nItems <= 0 {
		return nil, errors.NotValidf("ratings matrix of shape %dx%d", nUsers, nItems)
	}
	k := opt.Factors
	factors := &Factors{
		U: rng.UniformMatrix(nUsers, k, -1, 1),
		V: rng.UniformMatrix(k, nItems, -1, 1),
	}
	u := factors.U.RawMatrix()
	v := factors.V.RawMatrix()
	saved := make([]float64, k)

	_, span := progress.Start(ctx, "Optimize", opt.MaxEpochs)
	defer span.End()
	prev := 0.0
	for epoch := 1; epoch <= opt.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			span.Fail(err)
			return nil, errors.Annotatef(err, "optimization stopped at epoch %d", epoch)
		}
		sse := 0.0
		for _, e := range residual {
			row := u.Data[e.User*u.Stride : e.User*u.Stride+k]
			dot := 0.0
			for f := 0; f < k; f++ {
				dot += row[f] * v.Data[f*v.Stride+e.Item]
			}
			diff := e.Rating - dot
			sse += diff * diff
			copy(saved, row)
			for f := 0; f < k; f++ {
				vf := v.Data[f*v.Stride+e.Item]
				row[f] += opt.LearnRate * (diff*vf - opt.Reg*saved[f])
				v.Data[f*v.Stride+e.Item] += opt.LearnRate * (diff*saved[f] - opt.Reg*vf)
			}
		}
		factors.SSE = append(factors.SSE, sse)
		span.Add(1)
		pct := 0.0
		if prev != 0 {
			pct = 100 * (prev - sse) / prev
		}
		if len(residual) > 0 {
			log.Logger().Debug("fit factors",
				zap.Int("epoch", epoch),
				zap.Float64("mse", sse/float64(len(residual))),
				zap.Float64("pct", pct))
		}
		if epoch >= MinEpochs && (prev == 0 || pct <= opt.Threshold) {
			factors.Converged = true
			break
		}
		prev = sse
	}
	if !factors.Converged {
		log.Logger().Warn("factors not converged",
			zap.Int("max_epochs", opt.MaxEpochs),
			zap.Float64("sse", prev))
	}
	return factors, nil
}
