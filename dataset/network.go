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
	"encoding/csv"
	"io"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// RawNetwork is a friendship network keyed by external user ids.
type RawNetwork struct {
	users   []string
	friends map[string][]string
}

// LoadNetwork reads one record per user: "2,1,3,4" means user 2 has friends 1, 3 and 4.
// A user listed twice keeps the union of both friend lists.
func LoadNetwork(r io.Reader) (*RawNetwork, error) {
	network := &RawNetwork{friends: make(map[string][]string)}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	for lineNumber := 1; ; lineNumber++ {
		record, err := reader.Read()
		if err == io.EOF {
			return network, nil
		} else if err != nil {
			return nil, errors.Annotatef(err, "read network line %d", lineNumber)
		}
		user := strings.TrimSpace(record[0])
		if user == "" {
			continue
		}
		if _, exist := network.friends[user]; !exist {
			network.users = append(network.users, user)
			network.friends[user] = nil
		}
		for _, friend := range record[1:] {
			if friend = strings.TrimSpace(friend); friend != "" {
				network.friends[user] = append(network.friends[user], friend)
			}
		}
	}
}

// Len returns the number of users with a record.
func (n *RawNetwork) Len() int {
	return len(n.users)
}

// Reindex maps external ids to rows of the ratings matrix. Ids absent from users
// are dropped; the number of distinct dropped ids is returned.
func (n *RawNetwork) Reindex(users *FreqDict) (*Network, int) {
	notCounted := mapset.NewThreadUnsafeSet[string]()
	network := NewNetwork()
	for _, user := range n.users {
		u, ok := users.Lookup(user)
		if !ok {
			notCounted.Add(user)
			continue
		}
		friends := make([]int, 0, len(n.friends[user]))
		for _, friend := range n.friends[user] {
			if f, ok := users.Lookup(friend); ok {
				friends = append(friends, f)
			} else {
				notCounted.Add(friend)
			}
		}
		network.Add(u, friends...)
	}
	return network, notCounted.Cardinality()
}

// Network is a friendship network over dense user ids. Friend lists are kept
// sorted without duplicates or self loops. Links are directed as listed.
type Network struct {
	friends map[int][]int
}

func NewNetwork() *Network {
	return &Network{friends: make(map[int][]int)}
}

// Add links user to friends.
func (n *Network) Add(user int, friends ...int) {
	merged := append(slices.Clone(n.friends[user]), friends...)
	merged = lo.Filter(merged, func(f int, _ int) bool { return f != user })
	slices.Sort(merged)
	n.friends[user] = slices.Compact(merged)
}

// Friends returns the friends of a user. The slice must not be modified.
func (n *Network) Friends(user int) []int {
	return n.friends[user]
}

// Contains reports whether the user has a record.
func (n *Network) Contains(user int) bool {
	_, ok := n.friends[user]
	return ok
}

// Users returns users with a record in ascending order.
func (n *Network) Users() []int {
	users := lo.Keys(n.friends)
	slices.Sort(users)
	return users
}

// Len returns the number of users with a record.
func (n *Network) Len() int {
	return len(n.friends)
}
