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
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ParamFile is a sweep description. The first line lists cities and every other
// line lists the candidates of one parameter, separated by spaces.
type ParamFile struct {
	Cities []string
	Grid   model.ParamsGrid
	Order  []model.ParamName
}

// ParamKind converts a field of a parameter file.
type ParamKind func(s string) (interface{}, error)

func IntParam(s string) (interface{}, error) {
	v, err := strconv.Atoi(s)
	return v, errors.Trace(err)
}

func FloatParam(s string) (interface{}, error) {
	v, err := strconv.ParseFloat(s, 64)
	return v, errors.Trace(err)
}

// ParamLine is the name and kind of a line following the cities.
type ParamLine struct {
	Name model.ParamName
	Kind ParamKind
}

var (
	// CFParamLines describes parameter files of matrix factorization sweeps.
	CFParamLines = []ParamLine{
		{model.NFactors, IntParam},
		{model.Lr, FloatParam},
		{model.Reg, FloatParam},
	}
	// NFParamLines describes parameter files of friends sweeps.
	NFParamLines = []ParamLine{
		{model.LowerLimit1, IntParam},
		{model.UpperLimit1, IntParam},
	}
)

// ReadParamFile parses a parameter file. Blank lines are skipped; lines after
// the described ones are ignored.
func ReadParamFile(r io.Reader, lines []ParamLine) (*ParamFile, error) {
	var rows [][]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
			rows = append(rows, fields)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(rows) < len(lines)+1 {
		return nil, errors.NotValidf("parameter file with %d lines (expect %d)", len(rows), len(lines)+1)
	}
	file := &ParamFile{
		Cities: rows[0],
		Grid:   make(model.ParamsGrid),
	}
	for j, line := range lines {
		for _, field := range rows[j+1] {
			value, err := line.Kind(field)
			if err != nil {
				return nil, errors.NewNotValid(err, "parameter "+string(line.Name))
			}
			file.Grid[line.Name] = append(file.Grid[line.Name], value)
		}
		file.Order = append(file.Order, line.Name)
	}
	return file, nil
}

// SweepRow is the outcome of one combination on one city. Err is set if the city
// could not be loaded or the combination failed.
type SweepRow struct {
	City   string
	Params model.Params
	Result Result
	Err    error
}

// Sweep validates every combination of a grid on every city.
type Sweep struct {
	File *ParamFile
	// Fixed parameters applied under every combination.
	Fixed model.Params
	// Open builds the validator of a city.
	Open func(ctx context.Context, city string) (*Validator, error)
	// Create builds a model for a validator.
	Create func(v *Validator, params model.Params) model.Model
	// UseAverage scores average predictions.
	UseAverage bool
}

// Run emits a row per city and combination. Failures are reported through rows
// and never stop the sweep, except context cancellation.
func (s *Sweep) Run(ctx context.Context, emit func(SweepRow)) error {
	combinations := s.File.Grid.Combinations(s.File.Order...)
	for _, city := range s.File.Cities {
		v, err := s.Open(ctx, city)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			log.Logger().Error("failed to load city", zap.String("city", city), zap.Error(err))
			emit(SweepRow{City: city, Err: err})
			continue
		}
		for _, combination := range combinations {
			params := s.Fixed.Overwrite(combination)
			m := s.Create(v, params)
			var result Result
			if s.UseAverage {
				result, err = v.ValidateAverage(ctx, m)
			} else {
				result, err = v.Validate(ctx, m)
			}
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			if err != nil {
				log.Logger().Error("failed to validate", zap.String("city", city),
					zap.String("params", params.ToString()), zap.Error(err))
			}
			emit(SweepRow{City: city, Params: params, Result: result, Err: err})
		}
	}
	return nil
}
