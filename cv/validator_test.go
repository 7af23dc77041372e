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
	"testing"

	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/model/mf"
	"github.com/gorse-io/socialrec/model/social"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testMFParams = model.Params{
	model.NFactors:  2,
	model.Lr:        0.01,
	model.Reg:       0.02,
	model.Threshold: 1.0,
}

type ValidatorTestSuite struct {
	suite.Suite
	data *dataset.Dataset
}

func (suite *ValidatorTestSuite) SetupTest() {
	suite.data = &dataset.Dataset{Ratings: newTestRatings(suite.T())}
}

func (suite *ValidatorTestSuite) newValidator(opts ValidatorOptions) *Validator {
	v, err := NewValidator(suite.data, nil, opts)
	suite.Require().NoError(err)
	return v
}

func (suite *ValidatorTestSuite) TestValidate() {
	opts := ValidatorOptions{K: 2, Seed: 42, RunAll: true}
	v := suite.newValidator(opts)
	result, err := v.Validate(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	suite.Len(result.Scores, 2)
	var total int
	for _, score := range result.Scores {
		total += score.Total
		if score.Total > 0 {
			suite.True(score.Defined())
			suite.False(math.IsNaN(score.RMSE))
			suite.False(math.IsInf(score.RMSE, 0))
		}
	}
	suite.Equal(6, total)

	// same seed, same assignment and scores
	other := suite.newValidator(opts)
	for u := 0; u < 4; u++ {
		for i := 0; i < 3; i++ {
			suite.Equal(v.Folds().Assignment(u, i), other.Folds().Assignment(u, i))
		}
	}
	again, err := other.Validate(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	suite.Equal(result, again)
}

func (suite *ValidatorTestSuite) TestBaseline() {
	v := suite.newValidator(ValidatorOptions{K: 2, Seed: 42})
	values := []float64{5, 3, 4, 2, 4, 5}
	var mean, variance float64
	for _, x := range values {
		mean += x
	}
	mean /= float64(len(values))
	for _, x := range values {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(values))
	suite.InDelta(math.Sqrt(variance), v.Baseline(), 1e-9)
}

func (suite *ValidatorTestSuite) TestRunAll() {
	v := suite.newValidator(ValidatorOptions{K: 3, Seed: 1})
	result, err := v.Validate(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	suite.Len(result.Scores, 1)
}

func (suite *ValidatorTestSuite) TestJobs() {
	serial := suite.newValidator(ValidatorOptions{K: 3, Seed: 7, RunAll: true, Jobs: 1})
	concurrent := suite.newValidator(ValidatorOptions{K: 3, Seed: 7, RunAll: true, Jobs: 3})
	expected, err := serial.Validate(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	actual, err := concurrent.Validate(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	suite.Equal(expected, actual)
}

func (suite *ValidatorTestSuite) TestValidateAverage() {
	v := suite.newValidator(ValidatorOptions{K: 2, Seed: 42, RunAll: true})
	result, err := v.ValidateAverage(context.Background(), social.NewUsingFriends(v.Network(), model.Params{}))
	suite.NoError(err)
	suite.Len(result.Scores, 2)

	_, err = v.ValidateAverage(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.True(errors.Is(err, errors.NotSupported))
}

func (suite *ValidatorTestSuite) TestFindTestRMSE() {
	v := suite.newValidator(ValidatorOptions{K: 2, Seed: 42})
	score, err := v.FindTestRMSE(context.Background(), mf.NewMatrixFactorization(testMFParams))
	suite.NoError(err)
	// nothing is held out
	suite.False(score.Defined())
	suite.Zero(score.Total)
	suite.Equal(6, v.Train().Count())
}

func (suite *ValidatorTestSuite) TestCancel() {
	v := suite.newValidator(ValidatorOptions{K: 2, Seed: 42, RunAll: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Validate(ctx, mf.NewMatrixFactorization(testMFParams))
	suite.ErrorIs(err, context.Canceled)
}

func (suite *ValidatorTestSuite) TestInvalid() {
	_, err := NewValidator(suite.data, nil, ValidatorOptions{K: 1})
	suite.True(errors.Is(err, errors.NotValid))
	_, err = NewValidator(suite.data, nil, ValidatorOptions{K: 2, TestRatio: 1})
	suite.True(errors.Is(err, errors.NotValid))
}

func TestValidator(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func TestResult_MeanRMSE(t *testing.T) {
	result := Result{Scores: []Score{
		{RMSE: 1, Ratio: 1, Predicted: 2, Total: 2},
		{Total: 3},
		{RMSE: 2, Ratio: 0.5, Predicted: 1, Total: 2},
	}}
	mean, ok := result.MeanRMSE()
	require.True(t, ok)
	assert.InDelta(t, 1.5, mean, 1e-12)
	assert.Equal(t, "1.5000", result.FormatMeanRMSE())

	_, ok = Result{Scores: []Score{{Total: 1}}}.MeanRMSE()
	assert.False(t, ok)
	assert.Equal(t, "null", Result{}.FormatMeanRMSE())
}
