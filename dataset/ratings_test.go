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
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRatings(t *testing.T) *Ratings {
	ratings := NewRatings(4, 3)
	for _, e := range []Entry{{0, 0, 5}, {0, 1, 3}, {1, 0, 4}, {1, 2, 2}, {2, 1, 4}, {3, 2, 5}} {
		require.NoError(t, ratings.Set(e.User, e.Item, e.Rating))
	}
	return ratings
}

func TestRatings(t *testing.T) {
	ratings := newTestRatings(t)
	nUsers, nItems := ratings.Shape()
	assert.Equal(t, 4, nUsers)
	assert.Equal(t, 3, nItems)
	assert.Equal(t, 6, ratings.Count())
	assert.Equal(t, 5.0, ratings.Get(0, 0))
	assert.Equal(t, 0.0, ratings.Get(0, 2))
	assert.Equal(t, 0.0, ratings.Get(10, 10))
	assert.True(t, ratings.Contains(3, 2))
	assert.False(t, ratings.Contains(3, 1))
	assert.Equal(t, []int{0, 2}, ratings.UserItems(1))
	assert.Equal(t, []int{1, 3}, ratings.ItemUsers(2))
	assert.Nil(t, ratings.UserItems(4))
	assert.Nil(t, ratings.ItemUsers(-1))

	// row major order
	assert.Equal(t, []Entry{{0, 0, 5}, {0, 1, 3}, {1, 0, 4}, {1, 2, 2}, {2, 1, 4}, {3, 2, 5}}, ratings.Entries())
	assert.Equal(t, []float64{5, 3, 4, 2, 4, 5}, ratings.Values())

	// early stop
	var visited int
	ratings.Range(func(e Entry) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestRatingsSet(t *testing.T) {
	ratings := newTestRatings(t)
	// update
	assert.NoError(t, ratings.Set(0, 0, 1))
	assert.Equal(t, 1.0, ratings.Get(0, 0))
	assert.Equal(t, 6, ratings.Count())
	// insert keeps order
	assert.NoError(t, ratings.Set(3, 0, 2))
	assert.Equal(t, []int{0, 2}, ratings.UserItems(3))
	assert.Equal(t, []int{0, 1, 3}, ratings.ItemUsers(0))
	// remove
	assert.NoError(t, ratings.Set(1, 0, 0))
	assert.False(t, ratings.Contains(1, 0))
	assert.Equal(t, []int{2}, ratings.UserItems(1))
	assert.Equal(t, []int{0, 3}, ratings.ItemUsers(0))
	assert.NoError(t, ratings.Set(2, 2, 0))
	assert.Equal(t, 6, ratings.Count())
	// out of range
	err := ratings.Set(4, 0, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
	err = ratings.Set(0, -1, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
	// invalid value
	assert.True(t, errors.Is(ratings.Set(0, 0, -1), errors.NotValid))
	assert.True(t, errors.Is(ratings.Set(0, 0, math.NaN()), errors.NotValid))
}

func TestRatingsStatistics(t *testing.T) {
	ratings := newTestRatings(t)
	assert.InDelta(t, 23.0/6, ratings.Mean(), 1e-12)
	mean := 23.0 / 6
	var ss float64
	for _, v := range []float64{5, 3, 4, 2, 4, 5} {
		ss += (v - mean) * (v - mean)
	}
	assert.InDelta(t, math.Sqrt(ss/6), ratings.StdDev(), 1e-12)

	m, ok := ratings.UserMean(0)
	assert.True(t, ok)
	assert.Equal(t, 4.0, m)
	m, ok = ratings.ItemMean(2)
	assert.True(t, ok)
	assert.Equal(t, 3.5, m)

	empty := NewRatings(2, 2)
	assert.Zero(t, empty.Mean())
	assert.Zero(t, empty.StdDev())
	_, ok = empty.UserMean(0)
	assert.False(t, ok)
	_, ok = empty.ItemMean(1)
	assert.False(t, ok)
}

func TestRatingsClone(t *testing.T) {
	ratings := newTestRatings(t)
	clone := ratings.Clone()
	assert.Equal(t, ratings.Entries(), clone.Entries())
	assert.NoError(t, clone.Set(0, 2, 1))
	assert.NoError(t, clone.Set(0, 0, 0))
	assert.False(t, ratings.Contains(0, 2))
	assert.True(t, ratings.Contains(0, 0))
	assert.Equal(t, []int{0, 1}, ratings.UserItems(0))
}
