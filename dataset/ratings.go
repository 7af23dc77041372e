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
	"slices"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/stat"
)

// Entry is a rated cell.
type Entry struct {
	User   int
	Item   int
	Rating float64
}

type cell struct {
	user int
	item int
}

// Ratings is a sparse user-item rating matrix. A zero value means unrated, so
// ratings are expected to be strictly positive. Both row and column adjacency
// are kept sorted, which makes iteration order row major and deterministic.
type Ratings struct {
	nUsers    int
	nItems    int
	values    map[cell]float64
	userItems [][]int
	itemUsers [][]int
}

// NewRatings creates an empty matrix of nUsers rows and nItems columns.
func NewRatings(nUsers, nItems int) *Ratings {
	return &Ratings{
		nUsers:    nUsers,
		nItems:    nItems,
		values:    make(map[cell]float64),
		userItems: make([][]int, nUsers),
		itemUsers: make([][]int, nItems),
	}
}

// Shape returns (n_users, n_items).
func (r *Ratings) Shape() (int, int) {
	return r.nUsers, r.nItems
}

// Count returns the number of rated cells.
func (r *Ratings) Count() int {
	return len(r.values)
}

func (r *Ratings) inRange(u, i int) bool {
	return u >= 0 && u < r.nUsers && i >= 0 && i < r.nItems
}

// Get returns the rating of a cell, or 0 if the cell is unrated or out of range.
func (r *Ratings) Get(u, i int) float64 {
	return r.values[cell{u, i}]
}

// Contains reports whether the cell is rated.
func (r *Ratings) Contains(u, i int) bool {
	_, ok := r.values[cell{u, i}]
	return ok
}

// Set stores a rating. Setting 0 removes the cell.
func (r *Ratings) Set(u, i int, rating float64) error {
	if !r.inRange(u, i) {
		return errors.NotValidf("cell (%d, %d) outside %dx%d ratings", u, i, r.nUsers, r.nItems)
	}
	if rating < 0 || math.IsNaN(rating) || math.IsInf(rating, 0) {
		return errors.NotValidf("rating %v of cell (%d, %d)", rating, u, i)
	}
	key := cell{u, i}
	if _, exist := r.values[key]; exist {
		if rating == 0 {
			delete(r.values, key)
			r.userItems[u] = remove(r.userItems[u], i)
			r.itemUsers[i] = remove(r.itemUsers[i], u)
		} else {
			r.values[key] = rating
		}
		return nil
	}
	if rating == 0 {
		return nil
	}
	r.values[key] = rating
	r.userItems[u] = insert(r.userItems[u], i)
	r.itemUsers[i] = insert(r.itemUsers[i], u)
	return nil
}

func insert(a []int, v int) []int {
	pos, _ := slices.BinarySearch(a, v)
	return slices.Insert(a, pos, v)
}

func remove(a []int, v int) []int {
	pos, found := slices.BinarySearch(a, v)
	if !found {
		return a
	}
	return slices.Delete(a, pos, pos+1)
}

// Range calls f for every rated cell in row major order until f returns false.
func (r *Ratings) Range(f func(e Entry) bool) {
	for u, items := range r.userItems {
		for _, i := range items {
			if !f(Entry{User: u, Item: i, Rating: r.values[cell{u, i}]}) {
				return
			}
		}
	}
}

// Entries returns all rated cells in row major order.
func (r *Ratings) Entries() []Entry {
	entries := make([]Entry, 0, len(r.values))
	r.Range(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// Values returns the ratings in the order of Entries.
func (r *Ratings) Values() []float64 {
	values := make([]float64, 0, len(r.values))
	r.Range(func(e Entry) bool {
		values = append(values, e.Rating)
		return true
	})
	return values
}

// UserItems returns the items rated by a user in ascending order. The slice must not be modified.
func (r *Ratings) UserItems(u int) []int {
	if u < 0 || u >= r.nUsers {
		return nil
	}
	return r.userItems[u]
}

// ItemUsers returns the users who rated an item in ascending order. The slice must not be modified.
func (r *Ratings) ItemUsers(i int) []int {
	if i < 0 || i >= r.nItems {
		return nil
	}
	return r.itemUsers[i]
}

// Mean returns the mean of all ratings, 0 if empty.
func (r *Ratings) Mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return stat.Mean(r.Values(), nil)
}

// StdDev returns the population standard deviation of all ratings, 0 if empty.
func (r *Ratings) StdDev() float64 {
	if len(r.values) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(r.Values(), nil)
	return std
}

// UserMean returns the mean rating of a user. ok is false if the user rated nothing.
func (r *Ratings) UserMean(u int) (mean float64, ok bool) {
	items := r.UserItems(u)
	if len(items) == 0 {
		return 0, false
	}
	var sum float64
	for _, i := range items {
		sum += r.values[cell{u, i}]
	}
	return sum / float64(len(items)), true
}

// ItemMean returns the mean rating of an item. ok is false if nobody rated it.
func (r *Ratings) ItemMean(i int) (mean float64, ok bool) {
	users := r.ItemUsers(i)
	if len(users) == 0 {
		return 0, false
	}
	var sum float64
	for _, u := range users {
		sum += r.values[cell{u, i}]
	}
	return sum / float64(len(users)), true
}

// Clone returns a deep copy.
func (r *Ratings) Clone() *Ratings {
	c := &Ratings{
		nUsers:    r.nUsers,
		nItems:    r.nItems,
		values:    make(map[cell]float64, len(r.values)),
		userItems: make([][]int, r.nUsers),
		itemUsers: make([][]int, r.nItems),
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	for u, items := range r.userItems {
		c.userItems[u] = slices.Clone(items)
	}
	for i, users := range r.itemUsers {
		c.itemUsers[i] = slices.Clone(users)
	}
	return c
}
