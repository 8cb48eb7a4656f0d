// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package chunked

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Class uint8

const (
	ClassInt Class = iota + 1
	ClassUint
	ClassFloat
	ClassOpaque
)

func (c Class) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassUint:
		return "uint"
	case ClassFloat:
		return "float"
	case ClassOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// Datatype describes one dataset element.  Numeric values are stored
// little-endian.
type Datatype struct {
	Class Class
	Size  int
}

var (
	Int8    = Datatype{ClassInt, 1}
	Int16   = Datatype{ClassInt, 2}
	Int32   = Datatype{ClassInt, 4}
	Int64   = Datatype{ClassInt, 8}
	Uint8   = Datatype{ClassUint, 1}
	Uint16  = Datatype{ClassUint, 2}
	Uint32  = Datatype{ClassUint, 4}
	Uint64  = Datatype{ClassUint, 8}
	Float32 = Datatype{ClassFloat, 4}
	Float64 = Datatype{ClassFloat, 8}
)

// Opaque is an uninterpreted element of n bytes.
func Opaque(n int) Datatype {
	return Datatype{ClassOpaque, n}
}

func (d Datatype) Valid() error {
	switch d.Class {
	case ClassInt, ClassUint:
		if d.Size == 1 || d.Size == 2 || d.Size == 4 || d.Size == 8 {
			return nil
		}
	case ClassFloat:
		if d.Size == 4 || d.Size == 8 {
			return nil
		}
	case ClassOpaque:
		if d.Size >= 1 && d.Size <= math.MaxUint16 {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported datatype %s", ErrConfig, d)
}

func (d Datatype) String() string {
	if d.Class == ClassOpaque {
		return fmt.Sprintf("opaque(%d)", d.Size)
	}
	return fmt.Sprintf("%s%d", d.Class, d.Size*8)
}

// ParseDatatype accepts the names produced by Datatype.String.
func ParseDatatype(name string) (Datatype, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if rest, ok := strings.CutPrefix(name, "opaque("); ok {
		n, err := strconv.Atoi(strings.TrimSuffix(rest, ")"))
		if err != nil || !strings.HasSuffix(rest, ")") {
			return Datatype{}, fmt.Errorf("%w: bad datatype %q", ErrConfig, name)
		}
		d := Opaque(n)
		return d, d.Valid()
	}
	for _, d := range []Datatype{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64} {
		if d.String() == name {
			return d, nil
		}
	}
	switch name {
	case "float", "float4":
		return Float32, nil
	case "double", "float8":
		return Float64, nil
	case "byte":
		return Uint8, nil
	}
	return Datatype{}, fmt.Errorf("%w: unknown datatype %q", ErrConfig, name)
}

func (d Datatype) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Datatype) UnmarshalText(text []byte) error {
	parsed, err := ParseDatatype(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseValue encodes s as one element.  Opaque values are hex.
func (d Datatype) ParseValue(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	buf := make([]byte, d.Size)
	switch d.Class {
	case ClassInt:
		v, err := strconv.ParseInt(s, 0, d.Size*8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value %q: %w", ErrConfig, d, s, err)
		}
		putUint(buf, uint64(v))
	case ClassUint:
		v, err := strconv.ParseUint(s, 0, d.Size*8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value %q: %w", ErrConfig, d, s, err)
		}
		putUint(buf, v)
	case ClassFloat:
		v, err := strconv.ParseFloat(s, d.Size*8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value %q: %w", ErrConfig, d, s, err)
		}
		if d.Size == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		}
	case ClassOpaque:
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil || len(b) != d.Size {
			return nil, fmt.Errorf("%w: %s value %q must be %d hex bytes", ErrConfig, d, s, d.Size)
		}
		copy(buf, b)
	default:
		return nil, d.Valid()
	}
	return buf, nil
}

// FormatValue renders one element, the inverse of ParseValue.
func (d Datatype) FormatValue(b []byte) string {
	if len(b) != d.Size {
		return "?"
	}
	switch d.Class {
	case ClassInt:
		v := getUint(b)
		// sign-extend
		shift := 64 - uint(d.Size*8)
		return strconv.FormatInt(int64(v<<shift)>>shift, 10)
	case ClassUint:
		return strconv.FormatUint(getUint(b), 10)
	case ClassFloat:
		if d.Size == 4 {
			return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 'g', -1, 32)
		}
		return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(b)), 'g', -1, 64)
	}
	return hex.EncodeToString(b)
}

func putUint(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint(b []byte) uint64 {
	var v uint64
	for i := range b {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
