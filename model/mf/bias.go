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
	"github.com/gorse-io/socialrec/dataset"
	"gonum.org/v1/gonum/stat"
)

// Biases are the additive corrections removed before factorization. User and
// Item are nil when the corresponding correction is disabled.
type Biases struct {
	Mean float64
	User []float64
	Item []float64
}

// Offset returns the bias part of a prediction.
func (b Biases) Offset(u, i int) float64 {
	offset := b.Mean
	if b.User != nil {
		offset += b.User[u]
	}
	if b.Item != nil {
		offset += b.Item[i]
	}
	return offset
}

// Decompose computes biases on a training matrix and returns them with the residual
// of every rated cell, in the order of train.Entries(). The global mean is removed
// first, then user biases, then item biases computed on what the user biases left.
// Rows or columns without ratings get a zero bias.
func Decompose(train *dataset.Ratings, userBias, itemBias bool) (Biases, []dataset.Entry) {
	nUsers, nItems := train.Shape()
	residual := train.Entries()
	var biases Biases
	if len(residual) > 0 {
		biases.Mean = stat.Mean(train.Values(), nil)
	}
	for j := range residual {
		residual[j].Rating -= biases.Mean
	}
	if userBias {
		biases.User = meanBy(residual, nUsers, func(e dataset.Entry) int { return e.User })
		for j := range residual {
			residual[j].Rating -= biases.User[residual[j].User]
		}
	}
	if itemBias {
		biases.Item = meanBy(residual, nItems, func(e dataset.Entry) int { return e.Item })
		for j := range residual {
			residual[j].Rating -= biases.Item[residual[j].Item]
		}
	}
	return biases, residual
}

func meanBy(entries []dataset.Entry, n int, key func(dataset.Entry) int) []float64 {
	sums := make([]float64, n)
	counts := make([]int, n)
	for _, e := range entries {
		sums[key(e)] += e.Rating
		counts[key(e)]++
	}
	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
	}
	return sums
}
