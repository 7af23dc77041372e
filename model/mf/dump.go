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

package mf

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/socialrec/base/encoding"
	"github.com/gorse-io/socialrec/base/log"
	"github.com/gorse-io/socialrec/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	UserFactorsFile = "u.mat"
	ItemFactorsFile = "v.mat"
)

// factorsMu keeps u.mat and v.mat of one fit together when folds save or load
// concurrently.
var factorsMu sync.Mutex

// SaveFactors writes U and V to a store as u.mat and v.mat. Concurrent saves are
// serialized, so the files always hold the factors of the same fit.
func SaveFactors(ctx context.Context, store blob.Store, factors *Factors) error {
	factorsMu.Lock()
	defer factorsMu.Unlock()
	if err := saveDense(ctx, store, UserFactorsFile, factors.U); err != nil {
		return errors.Trace(err)
	}
	if err := saveDense(ctx, store, ItemFactorsFile, factors.V); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save factors", zap.Strings("files", []string{UserFactorsFile, ItemFactorsFile}))
	return nil
}

func saveDense(ctx context.Context, store blob.Store, name string, m *mat.Dense) error {
	w, done, err := store.Create(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "failed to create %s", name)
	}
	if err = encoding.WriteDense(w, m); err != nil {
		_ = w.Close()
		<-done
		return errors.Annotatef(err, "failed to write %s", name)
	}
	if err = w.Close(); err != nil {
		return errors.Trace(err)
	}
	<-done
	return nil
}

// LoadFactors reads factors written by SaveFactors. The loaded factors count as
// converged after zero epochs.
func LoadFactors(ctx context.Context, store blob.Store) (*Factors, error) {
	factorsMu.Lock()
	defer factorsMu.Unlock()
	u, err := loadDense(ctx, store, UserFactorsFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v, err := loadDense(ctx, store, ItemFactorsFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Factors{U: u, V: v, Converged: true}, nil
}

func loadDense(ctx context.Context, store blob.Store, name string) (*mat.Dense, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", name)
	}
	defer r.Close()
	m, err := encoding.ReadDense(r)
	return m, errors.Annotatef(err, "failed to read %s", name)
}

// LoadFitted rebuilds a predictor from saved factors and biases without training.
func LoadFitted(ctx context.Context, store blob.Store, biases Biases) (*Fitted, error) {
	factors, err := LoadFactors(ctx, store)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewFitted(biases, factors)
}

// fittedFormat tags encoded predictors.
const fittedFormat = "mf.Fitted/1"

type fittedHeader struct {
	Mean      float64
	UserBias  bool
	ItemBias  bool
	SSE       []float64
	Converged bool
}

// MarshalBinary encodes biases, factors and the set of trained users and items.
func (f *Fitted) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.marshal(&buf); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

func (f *Fitted) marshal(w io.Writer) error {
	if err := encoding.WriteString(w, fittedFormat); err != nil {
		return errors.Trace(err)
	}
	header := fittedHeader{
		Mean:      f.Biases.Mean,
		UserBias:  f.Biases.User != nil,
		ItemBias:  f.Biases.Item != nil,
		SSE:       f.Factors.SSE,
		Converged: f.Factors.Converged,
	}
	if err := encoding.WriteGob(w, header); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, f.Biases.User); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, f.Biases.Item); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteDense(w, f.Factors.U); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteDense(w, f.Factors.V); err != nil {
		return errors.Trace(err)
	}
	for _, set := range []*bitset.BitSet{f.trainedUsers, f.trainedItems} {
		data, err := set.MarshalBinary()
		if err != nil {
			return errors.Trace(err)
		}
		if err = encoding.WriteBytes(w, data); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// UnmarshalBinary decodes data written by MarshalBinary.
func (f *Fitted) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	format, err := encoding.ReadString(r)
	if err != nil {
		return errors.Trace(err)
	}
	if format != fittedFormat {
		return errors.NotValidf("predictor format %q", format)
	}
	var header fittedHeader
	if err = encoding.ReadGob(r, &header); err != nil {
		return errors.Trace(err)
	}
	biases := Biases{Mean: header.Mean}
	userBias, err := encoding.ReadVector(r)
	if err != nil {
		return errors.Trace(err)
	}
	itemBias, err := encoding.ReadVector(r)
	if err != nil {
		return errors.Trace(err)
	}
	if header.UserBias {
		biases.User = userBias
	}
	if header.ItemBias {
		biases.Item = itemBias
	}
	factors := &Factors{SSE: header.SSE, Converged: header.Converged}
	if factors.U, err = encoding.ReadDense(r); err != nil {
		return errors.Trace(err)
	}
	if factors.V, err = encoding.ReadDense(r); err != nil {
		return errors.Trace(err)
	}
	fitted, err := NewFitted(biases, factors)
	if err != nil {
		return errors.Trace(err)
	}
	for _, set := range []*bitset.BitSet{fitted.trainedUsers, fitted.trainedItems} {
		data, err := encoding.ReadBytes(r)
		if err != nil {
			return errors.Trace(err)
		}
		if err = set.UnmarshalBinary(data); err != nil {
			return errors.Trace(err)
		}
	}
	*f = *fitted
	return nil
}
