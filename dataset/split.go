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

package dataset

import (
	"github.com/gorse-io/socialrec/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	// TestFold marks cells held out for the final test.
	TestFold = -1
	// Unrated marks cells that were not rated at all.
	Unrated = -2
)

// Fold pairs a validation matrix with the training matrix made of every other fold.
type Fold struct {
	Val  *Ratings
	Rest *Ratings
}

// Folds is the result of Split. All matrices share the shape of the source.
type Folds struct {
	Train      *Ratings
	Test       *Ratings
	folds      []Fold
	assignment map[cell]int
}

// Split assigns every rated cell independently: to the test set with probability
// testRatio, otherwise uniformly to one of k folds. Cells are visited in row major
// order so the assignment only depends on the generator state.
func Split(ratings *Ratings, k int, testRatio float64, rng base.RandomGenerator) (*Folds, error) {
	if k < 2 {
		return nil, errors.NotValidf("number of folds %d", k)
	}
	if testRatio < 0 || testRatio >= 1 {
		return nil, errors.NotValidf("test ratio %v", testRatio)
	}
	nUsers, nItems := ratings.Shape()
	folds := &Folds{
		Train:      NewRatings(nUsers, nItems),
		Test:       NewRatings(nUsers, nItems),
		folds:      make([]Fold, k),
		assignment: make(map[cell]int, ratings.Count()),
	}
	for j := range folds.folds {
		folds.folds[j] = Fold{Val: NewRatings(nUsers, nItems), Rest: NewRatings(nUsers, nItems)}
	}
	ratings.Range(func(e Entry) bool {
		fold := TestFold
		if rng.Float64() >= testRatio {
			fold = rng.Intn(k)
		}
		folds.assignment[cell{e.User, e.Item}] = fold
		if fold == TestFold {
			lo.Must0(folds.Test.Set(e.User, e.Item, e.Rating))
			return true
		}
		lo.Must0(folds.Train.Set(e.User, e.Item, e.Rating))
		for j := range folds.folds {
			if j == fold {
				lo.Must0(folds.folds[j].Val.Set(e.User, e.Item, e.Rating))
			} else {
				lo.Must0(folds.folds[j].Rest.Set(e.User, e.Item, e.Rating))
			}
		}
		return true
	})
	return folds, nil
}

// K returns the number of folds.
func (f *Folds) K() int {
	return len(f.folds)
}

// Fold returns fold j.
func (f *Folds) Fold(j int) Fold {
	return f.folds[j]
}

// Assignment returns the fold of a cell, TestFold for test cells and Unrated otherwise.
func (f *Folds) Assignment(u, i int) int {
	if fold, ok := f.assignment[cell{u, i}]; ok {
		return fold
	}
	return Unrated
}
