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

package encoding

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestWriteDense(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	buf := bytes.NewBuffer(nil)
	err := WriteDense(buf, a)
	assert.NoError(t, err)
	assert.Equal(t, 8+6*8, buf.Len())
	b, err := ReadDense(buf)
	assert.NoError(t, err)
	assert.True(t, mat.Equal(a, b))

	// truncated stream
	buf.Reset()
	assert.NoError(t, WriteDense(buf, a))
	_, err = ReadDense(bytes.NewReader(buf.Bytes()[:20]))
	assert.Error(t, err)

	// corrupted header
	_, err = ReadDense(bytes.NewReader(make([]byte, 8)))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestWriteVector(t *testing.T) {
	a := []float64{0.5, -1, 3}
	buf := bytes.NewBuffer(nil)
	err := WriteVector(buf, a)
	assert.NoError(t, err)
	b, err := ReadVector(buf)
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	buf.Reset()
	assert.NoError(t, WriteVector(buf, nil))
	b, err = ReadVector(buf)
	assert.NoError(t, err)
	assert.Empty(t, b)
}

func TestWriteString(t *testing.T) {
	a := "abc"
	buf := bytes.NewBuffer(nil)
	err := WriteString(buf, a)
	assert.NoError(t, err)
	var b string
	b, err = ReadString(buf)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWriteGob(t *testing.T) {
	a := map[string]float64{"lr": 0.005}
	buf := bytes.NewBuffer(nil)
	err := WriteGob(buf, a)
	assert.NoError(t, err)
	var b map[string]float64
	err = ReadGob(buf, &b)
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCorruptLength(t *testing.T) {
	negative := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := ReadString(bytes.NewReader(negative))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadVector(bytes.NewReader(negative))
	assert.True(t, errors.Is(err, errors.NotValid))

	// length beyond the remaining bytes
	_, err = ReadBytes(bytes.NewReader([]byte{0xe8, 0x03, 0, 0, 'a', 'b', 'c'}))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadVector(bytes.NewReader([]byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.True(t, errors.Is(err, errors.NotValid))

	// 2^30 x 2^30 matrix
	huge := []byte{0, 0, 0, 0x40, 0, 0, 0, 0x40}
	_, err = ReadDense(bytes.NewReader(huge))
	assert.True(t, errors.Is(err, errors.NotValid))
	// readers without a length are bounded by MaxBytes
	_, err = ReadDense(iotest.OneByteReader(bytes.NewReader(huge)))
	assert.True(t, errors.Is(err, errors.NotValid))
	// and read in chunks until the stream ends
	_, err = ReadDense(iotest.OneByteReader(bytes.NewReader([]byte{0, 4, 0, 0, 0, 4, 0, 0, 1, 2, 3})))
	assert.Error(t, err)
	_, err = ReadBytes(iotest.OneByteReader(bytes.NewReader([]byte{0, 0, 0, 0x10, 'a'})))
	assert.Error(t, err)
}
