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
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// MaxBytes bounds payloads read from streams of unknown length.
const MaxBytes = 1 << 32

const chunkSize = 1 << 16

// checkLength rejects a length prefix of n elements of size bytes that is negative
// or larger than what remains in r. Readers that do not report their length are
// bounded by MaxBytes.
func checkLength(r io.Reader, n, size int64) error {
	if n < 0 {
		return errors.NotValidf("length %d", n)
	}
	limit := int64(MaxBytes)
	if lr, ok := r.(interface{ Len() int }); ok {
		limit = int64(lr.Len())
	}
	if n > limit/size {
		return errors.NotValidf("length %d with %d bytes left", n, limit)
	}
	return nil
}

// readFloats reads n floats in chunks so that memory grows with the input.
func readFloats(r io.Reader, n int) ([]float64, error) {
	data := make([]float64, 0, min(n, chunkSize))
	for len(data) < n {
		chunk := make([]float64, min(n-len(data), chunkSize))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Trace(err)
		}
		data = append(data, chunk...)
	}
	return data, nil
}

// WriteDense writes the dimensions of a dense matrix followed by its rows.
func WriteDense(w io.Writer, m *mat.Dense) error {
	r, c := m.Dims()
	if err := binary.Write(w, binary.LittleEndian, [2]int32{int32(r), int32(c)}); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < r; i++ {
		if err := binary.Write(w, binary.LittleEndian, m.RawRowView(i)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadDense reads a dense matrix written by WriteDense.
func ReadDense(r io.Reader) (*mat.Dense, error) {
	var dims [2]int32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, errors.Trace(err)
	}
	if dims[0] <= 0 || dims[1] <= 0 {
		return nil, errors.NotValidf("matrix dimensions %dx%d", dims[0], dims[1])
	}
	n := int64(dims[0]) * int64(dims[1])
	if err := checkLength(r, n, 8); err != nil {
		return nil, errors.Annotatef(err, "matrix dimensions %dx%d", dims[0], dims[1])
	}
	data, err := readFloats(r, int(n))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return mat.NewDense(int(dims[0]), int(dims[1]), data), nil
}

// WriteVector writes a length-prefixed vector to byte stream.
func WriteVector(w io.Writer, v []float64) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(v))); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, v))
}

// ReadVector reads a vector written by WriteVector.
func ReadVector(r io.Reader) ([]float64, error) {
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkLength(r, int64(length), 8); err != nil {
		return nil, errors.Annotate(err, "vector")
	}
	return readFloats(r, int(length))
}

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = checkLength(r, int64(length), 1); err != nil {
		return nil, errors.Annotate(err, "bytes")
	}
	var buf bytes.Buffer
	if _, err = io.CopyN(&buf, r, int64(length)); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v interface{}) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(v)
	if err != nil {
		return errors.Trace(err)
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v interface{}) error {
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)
	return errors.Trace(decoder.Decode(v))
}
