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

// Package social predicts ratings from the ratings of friends in a social network.
package social

import (
	"context"
	"slices"

	"github.com/c-bata/goptuna"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/socialrec/base"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// UsingFriends averages the ratings given to an item by friends (depth 1) and
// by friends of friends (depth 2). Hyper-parameters:
//
//	lower_limit1  - minimum raters of the item and minimum friend ratings (default 3)
//	upper_limit1  - maximum friend ratings used, 0 disables friends (default 100)
//	lower_limit2  - minimum ratings from friends of friends (default 10)
//	upper_limit2  - maximum ratings from friends of friends, 0 disables them (default 100)
//	weight_depth2 - weight of a rating from a friend of a friend (default 0.5)
//	if_average    - fall back to the item mean (default false)
//	random_state  - seed used to pick ratings beyond the upper limits (default 789)
type UsingFriends struct {
	model.BaseModel
	network *dataset.Network
}

func NewUsingFriends(network *dataset.Network, params model.Params) *UsingFriends {
	m := &UsingFriends{network: network}
	m.SetParams(params)
	return m
}

func (m *UsingFriends) SetParams(params model.Params) {
	params = params.Copy()
	if _, exist := params[model.RandomState]; !exist {
		params[model.RandomState] = int64(789)
	}
	m.BaseModel.SetParams(params)
}

func (m *UsingFriends) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.LowerLimit1:  lo.Must(trial.SuggestInt(string(model.LowerLimit1), 1, 10)),
		model.UpperLimit1:  lo.Must(trial.SuggestInt(string(model.UpperLimit1), 10, 200)),
		model.LowerLimit2:  lo.Must(trial.SuggestInt(string(model.LowerLimit2), 1, 20)),
		model.WeightDepth2: lo.Must(trial.SuggestUniform(string(model.WeightDepth2), 0, 1)),
	}
}

// Fit indexes friends and raters. Users absent from the network have no friends.
func (m *UsingFriends) Fit(ctx context.Context, train *dataset.Ratings) (model.Predictor, error) {
	nUsers, nItems := train.Shape()
	if nUsers <= 0 || nItems <= 0 {
		return nil, errors.NotValidf("ratings matrix of shape %dx%d", nUsers, nItems)
	}
	f := &Fitted{
		ratings:      train.Clone(),
		lowerLimit1:  m.Params.GetInt(model.LowerLimit1, 3),
		upperLimit1:  m.Params.GetInt(model.UpperLimit1, 100),
		lowerLimit2:  m.Params.GetInt(model.LowerLimit2, 10),
		upperLimit2:  m.Params.GetInt(model.UpperLimit2, 100),
		weightDepth2: m.Params.GetFloat64(model.WeightDepth2, 0.5),
		ifAverage:    m.Params.GetBool(model.IfAverage, false),
		seed:         m.Params.GetInt64(model.RandomState, 789),
		friends1:     make(map[int]mapset.Set[int]),
		friends2:     make(map[int]mapset.Set[int]),
	}
	if f.upperLimit1 < 0 || f.upperLimit2 < 0 || f.lowerLimit1 < 0 || f.lowerLimit2 < 0 {
		return nil, errors.NotValidf("negative limits")
	}
	log.Logger().Info("fit using friends",
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", train.Count()),
		zap.Int("n_network_users", m.network.Len()),
		zap.Any("params", m.GetParams()))

	var nFriends1, nFriends2 int
	for _, user := range m.network.Users() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		friends := m.network.Friends(user)
		depth1 := mapset.NewThreadUnsafeSet[int]()
		if f.upperLimit1 > 0 {
			depth1.Append(friends...)
		}
		depth2 := mapset.NewThreadUnsafeSet[int]()
		if f.upperLimit2 > 0 {
			seen := mapset.NewThreadUnsafeSet[int](friends...)
			seen.Add(user)
			for _, friend := range friends {
				for _, friend2 := range m.network.Friends(friend) {
					if seen.Add(friend2) {
						depth2.Add(friend2)
					}
				}
			}
		}
		f.friends1[user] = depth1
		f.friends2[user] = depth2
		nFriends1 += depth1.Cardinality()
		nFriends2 += depth2.Cardinality()
	}
	log.Logger().Info("fit using friends complete",
		zap.Int("n_friends", nFriends1),
		zap.Int("n_friends_of_friends", nFriends2))
	return f, nil
}

// Fitted predicts from an indexed network. It is never modified after Fit, so
// predictions may run concurrently.
type Fitted struct {
	ratings      *dataset.Ratings
	lowerLimit1  int
	upperLimit1  int
	lowerLimit2  int
	upperLimit2  int
	weightDepth2 float64
	ifAverage    bool
	seed         int64
	friends1     map[int]mapset.Set[int]
	friends2     map[int]mapset.Set[int]
}

func (f *Fitted) Shape() (int, int) {
	return f.ratings.Shape()
}

// Friends returns the depth 1 and depth 2 sets of a user in ascending order.
func (f *Fitted) Friends(user int) (depth1, depth2 []int) {
	if set, ok := f.friends1[user]; ok {
		depth1 = set.ToSlice()
		slices.Sort(depth1)
	}
	if set, ok := f.friends2[user]; ok {
		depth2 = set.ToSlice()
		slices.Sort(depth2)
	}
	return
}

// PredictOne returns the stored rating of a rated cell. Otherwise it returns the
// weighted mean of friend ratings, or NotPredicted (or the item mean when
// if_average is set) if there are too few of them.
func (f *Fitted) PredictOne(user, item int) model.Prediction {
	nUsers, nItems := f.ratings.Shape()
	if user < 0 || user >= nUsers || item < 0 || item >= nItems {
		return model.NotPredicted
	}
	if r := f.ratings.Get(user, item); r != 0 {
		return model.Predicted(r)
	}
	raters := f.ratings.ItemUsers(item)
	if len(raters) < f.lowerLimit1 {
		return f.fallback(item)
	}
	var ratings1, ratings2 []float64
	depth1, depth2 := f.friends1[user], f.friends2[user]
	for _, rater := range raters {
		if depth1 != nil && depth1.Contains(rater) {
			ratings1 = append(ratings1, f.ratings.Get(rater, item))
		} else if depth2 != nil && depth2.Contains(rater) {
			ratings2 = append(ratings2, f.ratings.Get(rater, item))
		}
	}
	ratings1 = f.choose(ratings1, f.upperLimit1)
	ratings2 = f.choose(ratings2, f.upperLimit2)
	if len(ratings1) < f.lowerLimit1 && len(ratings2) < f.lowerLimit2 {
		return f.fallback(item)
	}
	var sum, count float64
	for _, r := range ratings1 {
		sum += r
		count++
	}
	for _, r := range ratings2 {
		sum += r * f.weightDepth2
		count += f.weightDepth2
	}
	if count == 0 {
		return f.fallback(item)
	}
	return model.Predicted(sum / count)
}

// choose samples limit ratings with a generator seeded by random_state. The
// generator is only built when there are more ratings than the limit.
func (f *Fitted) choose(ratings []float64, limit int) []float64 {
	if len(ratings) <= limit {
		return ratings
	}
	return base.Choose(base.NewRandomGenerator(f.seed), ratings, limit)
}

func (f *Fitted) fallback(item int) model.Prediction {
	if f.ifAverage {
		if mean, ok := f.ratings.ItemMean(item); ok {
			return model.Predicted(mean)
		}
	}
	return model.NotPredicted
}

func (f *Fitted) PredictUser(user int) []model.Prediction {
	return model.PredictUser(f, user)
}

func (f *Fitted) PredictAll() (*mat.Dense, error) {
	return nil, model.ErrNotImplemented
}

// PredictAverage predicts every cell by the mean rating of its item. Unrated
// items are predicted as 0.
func (f *Fitted) PredictAverage() *mat.Dense {
	nUsers, nItems := f.ratings.Shape()
	means := make([]float64, nItems)
	for i := range means {
		means[i], _ = f.ratings.ItemMean(i)
	}
	prediction := mat.NewDense(nUsers, nItems, nil)
	for u := 0; u < nUsers; u++ {
		prediction.SetRow(u, means)
	}
	return prediction
}
