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
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Dataset is a ratings matrix together with the maps from external ids to rows and columns.
type Dataset struct {
	Users   *FreqDict
	Items   *FreqDict
	Ratings *Ratings
	// Records is the number of raw records before duplicates were merged.
	Records int
}

// Builder accumulates raw (user, item, rating) records. Repeated pairs are averaged.
type Builder struct {
	users   *FreqDict
	items   *FreqDict
	sums    map[cell]float64
	counts  map[cell]int
	records int
}

func NewBuilder() *Builder {
	return &Builder{
		users:  NewFreqDict(),
		items:  NewFreqDict(),
		sums:   make(map[cell]float64),
		counts: make(map[cell]int),
	}
}

// Add appends a record. Ratings must be positive since zero means unrated.
func (b *Builder) Add(userId, itemId string, rating float64) error {
	if rating <= 0 || math.IsNaN(rating) || math.IsInf(rating, 0) {
		return errors.NotValidf("rating %v of user %q on item %q", rating, userId, itemId)
	}
	key := cell{user: b.users.Id(userId), item: b.items.Id(itemId)}
	b.sums[key] += rating
	b.counts[key]++
	b.records++
	return nil
}

// Records returns the number of records added so far.
func (b *Builder) Records() int {
	return b.records
}

// Build creates the dataset. The builder must not be reused.
func (b *Builder) Build() *Dataset {
	ratings := NewRatings(b.users.Count(), b.items.Count())
	for key, sum := range b.sums {
		// indices come from the dictionaries, so Set cannot fail
		lo.Must0(ratings.Set(key.user, key.item, sum/float64(b.counts[key])))
	}
	return &Dataset{
		Users:   b.users,
		Items:   b.items,
		Ratings: ratings,
		Records: b.records,
	}
}

// LoadOptions controls parsing of delimited ratings.
type LoadOptions struct {
	// Sep is the field delimiter, ',' if zero.
	Sep rune
	// Filter is an optional boolean expression over user, item and rating.
	// Records evaluating to false are skipped.
	Filter string
}

// RecordFilter is a compiled LoadOptions.Filter.
type RecordFilter struct {
	program *vm.Program
}

// NewRecordFilter compiles a filter expression. An empty expression keeps every record.
func NewRecordFilter(filter string) (*RecordFilter, error) {
	if filter == "" {
		return &RecordFilter{}, nil
	}
	program, err := expr.Compile(filter, expr.Env(map[string]any{
		"user":   "",
		"item":   "",
		"rating": 0.0,
	}))
	if err != nil {
		return nil, errors.Annotatef(err, "compile filter %q", filter)
	}
	if program.Node().Type().Kind() != reflect.Bool {
		return nil, errors.NotValidf("filter %q must return bool", filter)
	}
	return &RecordFilter{program: program}, nil
}

// Keep evaluates the filter on a record.
func (f *RecordFilter) Keep(userId, itemId string, rating float64) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	result, err := expr.Run(f.program, map[string]any{
		"user":   userId,
		"item":   itemId,
		"rating": rating,
	})
	if err != nil {
		return false, errors.Trace(err)
	}
	return result.(bool), nil
}

// ReadRatings parses delimited (user, item, rating) records without header into a builder.
func ReadRatings(r io.Reader, opts LoadOptions, builder *Builder) error {
	filter, err := NewRecordFilter(opts.Filter)
	if err != nil {
		return err
	}
	reader := csv.NewReader(r)
	if opts.Sep != 0 {
		reader.Comma = opts.Sep
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
	for lineNumber := 1; ; lineNumber++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Annotatef(err, "read ratings line %d", lineNumber)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < 3 {
			return errors.NotValidf("line %d has %d fields", lineNumber, len(record))
		}
		userId, itemId := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		rating, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return errors.NotValidf("rating %q on line %d", record[2], lineNumber)
		}
		if keep, err := filter.Keep(userId, itemId, rating); err != nil {
			return errors.Annotatef(err, "filter line %d", lineNumber)
		} else if !keep {
			continue
		}
		if err = builder.Add(userId, itemId, rating); err != nil {
			return errors.Annotatef(err, "line %d", lineNumber)
		}
	}
}

// LoadRatings builds a dataset from delimited (user, item, rating) records.
func LoadRatings(r io.Reader, opts LoadOptions) (*Dataset, error) {
	builder := NewBuilder()
	if err := ReadRatings(r, opts, builder); err != nil {
		return nil, err
	}
	return builder.Build(), nil
}
