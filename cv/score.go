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
	"math"
	"strconv"

	"github.com/gorse-io/socialrec/dataset"
	"github.com/gorse-io/socialrec/model"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// Score is the accuracy of predictions on a set of ratings. Only usable
// predictions are scored; Ratio is the share of ratings that got one.
type Score struct {
	RMSE      float64
	Ratio     float64
	Predicted int
	Total     int
}

// Defined is false if nothing was predicted, including an empty set.
func (s Score) Defined() bool {
	return s.Predicted > 0
}

// FormatRMSE returns the RMSE or null if the score is undefined.
func (s Score) FormatRMSE() string {
	if !s.Defined() {
		return "null"
	}
	return strconv.FormatFloat(s.RMSE, 'f', 4, 64)
}

// FormatRatio returns the ratio or null if the score is undefined.
func (s Score) FormatRatio() string {
	if !s.Defined() {
		return "null"
	}
	return strconv.FormatFloat(s.Ratio, 'f', 4, 64)
}

// FindRMSE scores a predictor on ratings. Ratings outside the shape of the
// predictor are a NotValid error.
func FindRMSE(p model.Predictor, ratings *dataset.Ratings) (Score, error) {
	nUsers, nItems := p.Shape()
	return findRMSE(ratings, nUsers, nItems, p.PredictOne)
}

// FindRMSEPrediction scores a prediction matrix on ratings. Values at or below
// model.Epsilon count as missing.
func FindRMSEPrediction(prediction mat.Matrix, ratings *dataset.Ratings) (Score, error) {
	nUsers, nItems := prediction.Dims()
	return findRMSE(ratings, nUsers, nItems, func(u, i int) model.Prediction {
		return model.Predicted(prediction.At(u, i))
	})
}

func findRMSE(ratings *dataset.Ratings, nUsers, nItems int, predict func(u, i int) model.Prediction) (Score, error) {
	var (
		score      Score
		squaredSum float64
		err        error
	)
	ratings.Range(func(e dataset.Entry) bool {
		if e.User >= nUsers || e.Item >= nItems {
			err = errors.NotValidf("rating (%d, %d) outside predictions of shape %dx%d", e.User, e.Item, nUsers, nItems)
			return false
		}
		score.Total++
		if prediction := predict(e.User, e.Item); prediction.Usable() {
			diff := e.Rating - prediction.Value
			squaredSum += diff * diff
			score.Predicted++
		}
		return true
	})
	if err != nil {
		return Score{}, err
	}
	if score.Predicted > 0 {
		score.RMSE = math.Sqrt(squaredSum / float64(score.Predicted))
		score.Ratio = float64(score.Predicted) / float64(score.Total)
	}
	return score, nil
}
