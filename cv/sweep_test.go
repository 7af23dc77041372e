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
	"strings"
	"testing"

	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/gorse-io/socialrec/model/mf"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadParamFile(t *testing.T) {
	file, err := ReadParamFile(strings.NewReader("Phoenix  Toronto\n2 4\n\n0.01\n0.02 0.1\nextra line\n"), CFParamLines)
	require.NoError(t, err)
	assert.Equal(t, []string{"Phoenix", "Toronto"}, file.Cities)
	assert.Equal(t, []model.ParamName{model.NFactors, model.Lr, model.Reg}, file.Order)
	assert.Equal(t, []interface{}{2, 4}, file.Grid[model.NFactors])
	assert.Equal(t, []interface{}{0.01}, file.Grid[model.Lr])
	assert.Equal(t, []interface{}{0.02, 0.1}, file.Grid[model.Reg])

	file, err = ReadParamFile(strings.NewReader("Phoenix\n3 5\n100\n"), NFParamLines)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3, 5}, file.Grid[model.LowerLimit1])
	assert.Equal(t, []interface{}{100}, file.Grid[model.UpperLimit1])
}

func TestReadParamFile_Invalid(t *testing.T) {
	_, err := ReadParamFile(strings.NewReader("Phoenix\n2\n0.01\n"), CFParamLines)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadParamFile(strings.NewReader("Phoenix\ntwo\n0.01\n0.02\n"), CFParamLines)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSweep(t *testing.T) {
	file, err := ReadParamFile(strings.NewReader("good missing\n2\n0.01 0.02\n0.02\n"), CFParamLines)
	require.NoError(t, err)
	sweep := &Sweep{
		File:  file,
		Fixed: model.Params{model.Threshold: 1.0, model.UserBias: true},
		Open: func(_ context.Context, city string) (*Validator, error) {
			if city == "missing" {
				return nil, errors.NotFoundf("city %s", city)
			}
			return NewValidator(&dataset.Dataset{Ratings: newTestRatings(t)}, nil,
				ValidatorOptions{K: 2, Seed: 42, RunAll: true})
		},
		Create: func(_ *Validator, params model.Params) model.Model {
			return mf.NewMatrixFactorization(params)
		},
	}
	var rows []SweepRow
	require.NoError(t, sweep.Run(context.Background(), func(row SweepRow) {
		rows = append(rows, row)
	}))
	require.Len(t, rows, 3)
	for j, lr := range []float64{0.01, 0.02} {
		assert.Equal(t, "good", rows[j].City)
		assert.NoError(t, rows[j].Err)
		assert.Equal(t, lr, rows[j].Params.GetFloat64(model.Lr, 0))
		assert.Equal(t, true, rows[j].Params.GetBool(model.UserBias, false))
		assert.Len(t, rows[j].Result.Scores, 2)
	}
	assert.Equal(t, "missing", rows[2].City)
	assert.True(t, errors.Is(rows[2].Err, errors.NotFound))

	// a failing combination does not stop the sweep
	sweep.UseAverage = true
	rows = rows[:0]
	require.NoError(t, sweep.Run(context.Background(), func(row SweepRow) {
		rows = append(rows, row)
	}))
	require.Len(t, rows, 3)
	assert.True(t, errors.Is(rows[0].Err, errors.NotSupported))
	assert.True(t, errors.Is(rows[1].Err, errors.NotSupported))
}
