// Copyright 2024 The chunked Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"errors"
	"fmt"
	"strings"
)

// MaxStages is the most stages a pipeline can have: one bit per stage in a Mask.
const MaxStages = 32

var (
	ErrConfig  = errors.New("invalid codec configuration")
	ErrCorrupt = errors.New("corrupt chunk data")
)

// Kind identifies which of the fixed set of stage types a stage is.
type Kind uint8

const (
	KindIdentity Kind = iota + 1
	KindShuffle
	KindChecksum
	KindCompressor
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindShuffle:
		return "shuffle"
	case KindChecksum:
		return "checksum"
	case KindCompressor:
		return "compressor"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// StageConfig names a stage and its parameters.  Parameters that don't apply
// to a stage are ignored.
type StageConfig struct {
	// Name is one of identity, shuffle, checksum, deflate, zstd or s2.
	Name string `mapstructure:"name" yaml:"name"`
	// Level is the compression level; 0 selects the compressor's default.
	Level int `mapstructure:"level" yaml:"level,omitempty"`
	// ElementSize is the shuffle width in bytes; 0 uses the dataset element size.
	ElementSize int `mapstructure:"element_size" yaml:"element_size,omitempty"`
	// Algorithm selects the checksum: xxhash (default) or farm.
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm,omitempty"`
}

func (c StageConfig) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	if c.Level != 0 {
		fmt.Fprintf(&sb, "(level=%d)", c.Level)
	}
	if c.ElementSize != 0 {
		fmt.Fprintf(&sb, "(element_size=%d)", c.ElementSize)
	}
	if c.Algorithm != "" {
		fmt.Fprintf(&sb, "(%s)", c.Algorithm)
	}
	return sb.String()
}

// Mask records, per chunk, which stages were skipped: bit i set means stage i
// did not transform the data and must not be reversed on decode.
type Mask uint32

func (m Mask) Skipped(i int) bool {
	return m&(1<<uint(i)) != 0
}

func (m Mask) Applied(i int) bool {
	return !m.Skipped(i)
}

// stage is implemented by the fixed set of stage kinds in this package.
type stage interface {
	kind() Kind
	// encode transforms src.  If the stage declines, it returns ok == false and
	// the caller keeps using src.
	encode(src []byte) (dst []byte, ok bool, err error)
	// decode reverses encode.  limit bounds the size of the output.
	decode(src []byte, limit int) ([]byte, error)
}

// Pipeline is an immutable, validated list of stages.  It is safe for
// concurrent use.
type Pipeline struct {
	configs []StageConfig
	stages  []stage
	// overhead is the most bytes stages can add (checksum trailers)
	overhead int
}

// New validates configs and builds a Pipeline.  elementSize is the size of one
// dataset element, used as the default shuffle width.
func New(configs []StageConfig, elementSize int) (*Pipeline, error) {
	if len(configs) > MaxStages {
		return nil, fmt.Errorf("%w: %d stages (max %d)", ErrConfig, len(configs), MaxStages)
	}
	if elementSize <= 0 {
		return nil, fmt.Errorf("%w: element size %d", ErrConfig, elementSize)
	}

	p := &Pipeline{
		configs: append([]StageConfig(nil), configs...),
		stages:  make([]stage, 0, len(configs)),
	}
	for i, cfg := range configs {
		s, err := newStage(cfg, elementSize)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if s.kind() == KindChecksum {
			p.overhead += checksumLen
		}
		p.stages = append(p.stages, s)
	}

	return p, nil
}

func newStage(cfg StageConfig, elementSize int) (stage, error) {
	switch strings.ToLower(cfg.Name) {
	case "identity", "none":
		return identity{}, nil
	case "shuffle":
		if cfg.ElementSize < 0 {
			return nil, fmt.Errorf("%w: shuffle element size %d", ErrConfig, cfg.ElementSize)
		}
		width := cfg.ElementSize
		if width == 0 {
			width = elementSize
		}
		return shuffle{width: width}, nil
	case "checksum":
		return newChecksum(cfg.Algorithm)
	case "deflate", "gzip":
		return newDeflate(cfg.Level)
	case "zstd":
		return newZstd(cfg.Level)
	case "s2":
		return newS2(cfg.Level)
	}
	return nil, fmt.Errorf("%w: unknown stage %q", ErrConfig, cfg.Name)
}

// Validate reports whether configs would build a Pipeline without keeping it.
func Validate(configs []StageConfig, elementSize int) error {
	p, err := New(configs, elementSize)
	if err != nil {
		return err
	}
	p.Close()
	return nil
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Empty is true for a pipeline that never transforms anything.
func (p *Pipeline) Empty() bool {
	return len(p.stages) == 0
}

// Configs returns a copy of the stage configuration this pipeline was built from.
func (p *Pipeline) Configs() []StageConfig {
	return append([]StageConfig(nil), p.configs...)
}

// Stages returns the kind of each stage, in encode order.
func (p *Pipeline) Stages() []Kind {
	kinds := make([]Kind, len(p.stages))
	for i, s := range p.stages {
		kinds[i] = s.kind()
	}
	return kinds
}

// Encode runs raw through every stage in configured order.  raw is never
// modified.  The returned mask has a bit set for each stage that declined.
func (p *Pipeline) Encode(raw []byte) ([]byte, Mask, error) {
	var mask Mask
	applied := false
	data := raw
	for i, s := range p.stages {
		out, ok, err := s.encode(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%s encode: %w", s.kind(), err)
		}
		if !ok {
			mask |= 1 << uint(i)
			continue
		}
		data = out
		applied = true
	}
	if !applied {
		// don't hand back the caller's buffer
		data = append([]byte(nil), data...)
	}
	return data, mask, nil
}

// Decode reverses Encode.  rawLen is the uncompressed chunk size; the output
// must be exactly that long.
func (p *Pipeline) Decode(stored []byte, mask Mask, rawLen int) ([]byte, error) {
	if rawLen < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrCorrupt, rawLen)
	}
	if len(p.stages) < MaxStages && mask>>uint(len(p.stages)) != 0 {
		return nil, fmt.Errorf("%w: filter mask %#x names stages beyond %d", ErrCorrupt, uint32(mask), len(p.stages))
	}

	limit := rawLen + p.overhead
	applied := false
	data := stored
	for i := len(p.stages) - 1; i >= 0; i-- {
		if mask.Skipped(i) {
			continue
		}
		s := p.stages[i]
		out, err := s.decode(data, limit)
		if err != nil {
			return nil, fmt.Errorf("%s decode: %w", s.kind(), err)
		}
		data = out
		applied = true
	}

	if len(data) != rawLen {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrCorrupt, len(data), rawLen)
	}
	if !applied {
		data = append([]byte(nil), data...)
	}
	return data, nil
}

// Close releases compressor resources.  The pipeline must not be used afterwards.
func (p *Pipeline) Close() {
	for _, s := range p.stages {
		if c, ok := s.(interface{ close() }); ok {
			c.close()
		}
	}
}

type identity struct{}

func (identity) kind() Kind { return KindIdentity }

func (identity) encode(src []byte) ([]byte, bool, error) {
	return src, false, nil
}

func (identity) decode(src []byte, _ int) ([]byte, error) {
	return src, nil
}
