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
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var testParams = model.Params{
	model.NFactors:    2,
	model.Lr:          0.01,
	model.Reg:         0.02,
	model.Threshold:   1.0,
	model.UserBias:    true,
	model.ItemBias:    true,
	model.RandomState: 0,
}

func TestMatrixFactorization_Fit(t *testing.T) {
	train := newTestRatings(t)
	m := NewMatrixFactorization(testParams)
	p, err := m.Fit(context.Background(), train)
	require.NoError(t, err)
	fitted := p.(*Fitted)

	nUsers, nItems := fitted.Shape()
	assert.Equal(t, 4, nUsers)
	assert.Equal(t, 3, nItems)
	assert.Equal(t, model.NotPredicted, fitted.PredictOne(-1, 0))
	assert.Equal(t, model.NotPredicted, fitted.PredictOne(0, 3))
	assert.True(t, fitted.PredictOne(2, 2).Predicted)
	assert.Len(t, fitted.PredictUser(1), 3)

	// prediction = U·V + offsets
	var uv mat.Dense
	uv.Mul(fitted.Factors.U, fitted.Factors.V)
	assert.InDelta(t, uv.At(1, 2)+fitted.Biases.Offset(1, 2), fitted.PredictOne(1, 2).Value, 1e-12)

	// the prediction matrix is copied
	all, err := fitted.PredictAll()
	require.NoError(t, err)
	all.Set(0, 0, -100)
	assert.NotEqual(t, -100.0, fitted.PredictOne(0, 0).Value)

	assert.False(t, fitted.IsColdUser(3))
	assert.False(t, fitted.IsColdItem(2))
}

func TestMatrixFactorization_Reproducible(t *testing.T) {
	train := newTestRatings(t)
	m := NewMatrixFactorization(testParams)
	a, err := m.Fit(context.Background(), train)
	require.NoError(t, err)
	b, err := m.Fit(context.Background(), train)
	require.NoError(t, err)
	predA, _ := a.PredictAll()
	predB, _ := b.PredictAll()
	assert.True(t, mat.Equal(predA, predB))

	m.SetParams(testParams.Overwrite(model.Params{model.RandomState: 1}))
	c, err := m.Fit(context.Background(), train)
	require.NoError(t, err)
	predC, _ := c.PredictAll()
	assert.False(t, mat.Equal(predA, predC))
}

func TestMatrixFactorization_ColdStart(t *testing.T) {
	train := dataset.NewRatings(3, 3)
	require.NoError(t, train.Set(0, 0, 4))
	require.NoError(t, train.Set(1, 1, 2))
	p, err := NewMatrixFactorization(testParams).Fit(context.Background(), train)
	require.NoError(t, err)
	fitted := p.(*Fitted)
	assert.False(t, fitted.IsColdUser(0))
	assert.True(t, fitted.IsColdUser(2))
	assert.True(t, fitted.IsColdItem(2))
	assert.True(t, fitted.PredictOne(2, 2).Predicted)
}

func TestMatrixFactorization_Invalid(t *testing.T) {
	m := NewMatrixFactorization(testParams.Overwrite(model.Params{model.NFactors: 0}))
	_, err := m.Fit(context.Background(), newTestRatings(t))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestMatrixFactorization_SavedMatrices(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	train := newTestRatings(t)

	m := NewMatrixFactorization(testParams)
	m.SaveMatrices(store)
	p, err := m.Fit(ctx, train)
	require.NoError(t, err)
	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{UserFactorsFile, ItemFactorsFile}, names)
	expected, _ := p.PredictAll()

	// rebuild without training
	loaded, err := LoadFitted(ctx, store, p.(*Fitted).Biases)
	require.NoError(t, err)
	actual, _ := loaded.PredictAll()
	assert.True(t, mat.Equal(expected, actual))

	// fit with saved factors
	m = NewMatrixFactorization(testParams)
	m.UseSavedMatrices(store)
	p, err = m.Fit(ctx, train)
	require.NoError(t, err)
	actual, _ = p.PredictAll()
	assert.True(t, mat.Equal(expected, actual))
	assert.Zero(t, p.(*Fitted).Factors.Epochs())

	// saved factors must match the shape of the ratings
	_, err = m.Fit(ctx, dataset.NewRatings(5, 3))
	assert.True(t, errors.Is(err, errors.NotValid))

	// missing factors
	m.UseSavedMatrices(blob.NewPOSIX(t.TempDir()))
	_, err = m.Fit(ctx, train)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestFitted_Marshal(t *testing.T) {
	train := dataset.NewRatings(3, 3)
	require.NoError(t, train.Set(0, 0, 4))
	require.NoError(t, train.Set(1, 2, 2))
	p, err := NewMatrixFactorization(testParams).Fit(context.Background(), train)
	require.NoError(t, err)
	fitted := p.(*Fitted)

	data, err := fitted.MarshalBinary()
	require.NoError(t, err)
	var decoded Fitted
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, fitted.Biases, decoded.Biases)
	assert.Equal(t, fitted.Factors.SSE, decoded.Factors.SSE)
	assert.Equal(t, fitted.Factors.Converged, decoded.Factors.Converged)
	expected, _ := fitted.PredictAll()
	actual, _ := decoded.PredictAll()
	assert.True(t, mat.Equal(expected, actual))
	for u := 0; u < 3; u++ {
		assert.Equal(t, fitted.IsColdUser(u), decoded.IsColdUser(u))
		assert.Equal(t, fitted.IsColdItem(u), decoded.IsColdItem(u))
	}

	assert.Error(t, decoded.UnmarshalBinary(data[:len(data)/2]))
	err = decoded.UnmarshalBinary(append([]byte{3, 0, 0, 0}, "bad"...))
	assert.True(t, errors.Is(err, errors.NotValid))

	// corrupt length prefixes fail without allocating them
	corrupt := bytes.Clone(data)
	copy(corrupt, []byte{0xff, 0xff, 0xff, 0xff})
	assert.True(t, errors.Is(decoded.UnmarshalBinary(corrupt), errors.NotValid))
	corrupt = bytes.Clone(data)
	copy(corrupt[4+len(fittedFormat):], []byte{0xff, 0xff, 0xff, 0x7f})
	assert.True(t, errors.Is(decoded.UnmarshalBinary(corrupt), errors.NotValid))
}

func TestLoadFactors_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	w, done, err := store.Create(ctx, UserFactorsFile)
	require.NoError(t, err)
	_, err = w.Write([]byte{0, 0, 0, 0x40, 0, 0, 0, 0x40, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	<-done
	_, err = LoadFactors(ctx, store)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestNewFitted_Invalid(t *testing.T) {
	factors := &Factors{U: mat.NewDense(2, 2, nil), V: mat.NewDense(3, 2, nil)}
	_, err := NewFitted(Biases{}, factors)
	assert.True(t, errors.Is(err, errors.NotValid))
	factors = &Factors{U: mat.NewDense(2, 2, nil), V: mat.NewDense(2, 2, nil)}
	_, err = NewFitted(Biases{User: []float64{1}}, factors)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = NewFitted(Biases{Item: []float64{1, 2, 3}}, factors)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSaveFactors_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	var wg sync.WaitGroup
	for j := 1; j <= 8; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			u := mat.NewDense(64, 8, nil)
			v := mat.NewDense(8, 64, nil)
			u.Apply(func(_, _ int, _ float64) float64 { return float64(j) }, u)
			v.Apply(func(_, _ int, _ float64) float64 { return float64(j) }, v)
			assert.NoError(t, SaveFactors(ctx, store, &Factors{U: u, V: v}))
		}(j)
	}
	wg.Wait()
	factors, err := LoadFactors(ctx, store)
	require.NoError(t, err)
	// both files come from the same save
	j := factors.U.At(0, 0)
	assert.Equal(t, j, mat.Max(factors.U))
	assert.Equal(t, j, mat.Min(factors.U))
	assert.Equal(t, j, mat.Max(factors.V))
	assert.Equal(t, j, mat.Min(factors.V))
}

func TestMatrixFactorization_BiasedRoundTrip(t *testing.T) {
	train := dataset.NewRatings(3, 3)
	for u, row := range [][]float64{{5, 3, 1}, {4, 2, 5}, {1, 4, 3}} {
		for i, rating := range row {
			require.NoError(t, train.Set(u, i, rating))
		}
	}
	m := NewMatrixFactorization(model.Params{
		model.NFactors:    3,
		model.Lr:          0.02,
		model.Reg:         0.0,
		model.Threshold:   -100.0,
		model.NEpochs:     5000,
		model.UserBias:    true,
		model.ItemBias:    true,
		model.RandomState: 0,
	})
	p, err := m.Fit(context.Background(), train)
	require.NoError(t, err)
	fitted := p.(*Fitted)
	assert.Len(t, fitted.Biases.User, 3)
	assert.Len(t, fitted.Biases.Item, 3)

	// U·V + mean + user bias + item bias reproduces the training ratings
	var uv mat.Dense
	uv.Mul(fitted.Factors.U, fitted.Factors.V)
	train.Range(func(e dataset.Entry) bool {
		expected := uv.At(e.User, e.Item) + fitted.Biases.Mean +
			fitted.Biases.User[e.User] + fitted.Biases.Item[e.Item]
		assert.InDelta(t, expected, fitted.PredictOne(e.User, e.Item).Value, 1e-12)
		assert.InDelta(t, e.Rating, fitted.PredictOne(e.User, e.Item).Value, 1e-3)
		return true
	})
}
