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
	"encoding/json"
	"reflect"
	"slices"

	"github.com/gorse-io/socialrec/base/log"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

const (
	Lr          ParamName = "lr"           // learning rate
	Reg         ParamName = "reg"          // regularization strength
	NFactors    ParamName = "n_factors"    // number of latent factors
	NEpochs     ParamName = "n_epochs"     // maximum number of epochs
	Threshold   ParamName = "threshold"    // stop when the percent improvement of SSE falls to this value
	UserBias    ParamName = "user_bias"    // subtract user bias before factorization
	ItemBias    ParamName = "item_bias"    // subtract item bias before factorization
	RandomState ParamName = "random_state" // random state (seed)

	LowerLimit1  ParamName = "lower_limit1"  // minimum ratings from friends
	UpperLimit1  ParamName = "upper_limit1"  // maximum ratings from friends
	LowerLimit2  ParamName = "lower_limit2"  // minimum ratings from friends of friends
	UpperLimit2  ParamName = "upper_limit2"  // maximum ratings from friends of friends
	WeightDepth2 ParamName = "weight_depth2" // weight of ratings from friends of friends
	IfAverage    ParamName = "if_average"    // fall back to the item average
)

// Params stores hyper-parameters for a model. For example, matrix factorization
// is configured by:
//
//	model.Params{
//		model.NFactors: 8,
//		model.Lr:       0.005,
//		model.Reg:      0.02,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params, len(parameters))
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets an integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "int"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetInt64 gets an int64 parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "int64"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "bool"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// GetFloat64 gets a float parameter by name. Integers are converted.
func (parameters Params) GetFloat64(name ParamName, _default float64) float64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int:
			return float64(val)
		default:
			log.Logger().Error("type mismatch", zap.String("param", string(name)),
				zap.String("expect", "float64"), zap.Stringer("actual", reflect.TypeOf(val)))
		}
	}
	return _default
}

// Overwrite returns a copy with params applied on top.
func (parameters Params) Overwrite(params Params) Params {
	merged := parameters.Copy()
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to marshal params", zap.Error(err))
	}
	return string(b)
}

// ParamsGrid contains candidates for grid search.
type ParamsGrid map[ParamName][]interface{}

func (grid ParamsGrid) Len() int {
	return len(grid)
}

func (grid ParamsGrid) Fill(_default ParamsGrid) {
	for param, values := range _default {
		if _, exist := grid[param]; !exist {
			grid[param] = values
		}
	}
}

// Combinations enumerates every assignment of the grid. Names vary in the order
// given; later names vary fastest. Names missing from the grid are skipped
// and names absent from order follow in alphabetical order.
func (grid ParamsGrid) Combinations(order ...ParamName) []Params {
	names := lo.Filter(order, func(name ParamName, _ int) bool {
		_, exist := grid[name]
		return exist
	})
	var rest []ParamName
	for name := range grid {
		if !slices.Contains(names, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	names = append(names, rest...)
	combinations := []Params{{}}
	for _, name := range names {
		var next []Params
		for _, prefix := range combinations {
			for _, value := range grid[name] {
				params := prefix.Copy()
				params[name] = value
				next = append(next, params)
			}
		}
		combinations = next
	}
	return combinations
}
