package checkpoints

import (
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/spiking-gan/training"
)

// Field numbers of the protobuf wire layout.
//
//	Checkpoint:      1 training_state, 2 generator (repeated), 3 discriminator (repeated),
//	                 4 generator_optimizer, 5 discriminator_optimizer, 6 metadata
//	TrainingState:   1 epoch, 2 step, 3 learning_rate_g (double), 4 learning_rate_d (double)
//	WeightTensor:    1 name, 2 shape (packed), 3 data (packed fixed32), 4 layer, 5 type
//	OptimizerState:  1 type, 2 parameters (repeated {1 key, 2 double}), 3 step, 4 state_data (repeated)
//	OptimizerTensor: 1 name, 2 shape (packed), 3 data (packed fixed32), 4 state_type
//	Metadata:        1 version, 2 framework, 3 created_at (unix nanos), 4 run_id,
//	                 5 name, 6 dataset, 7 description, 8 tags (repeated)
const (
	fieldTrainingState protowire.Number = iota + 1
	fieldGenerator
	fieldDiscriminator
	fieldGeneratorOptimizer
	fieldDiscriminatorOptimizer
	fieldMetadata
)

func marshalCheckpoint(c *Checkpoint) []byte {
	var b []byte
	b = appendMessage(b, fieldTrainingState, marshalTrainingState(c.TrainingState))
	for _, w := range c.Generator {
		b = appendMessage(b, fieldGenerator, marshalWeight(w))
	}
	for _, w := range c.Discriminator {
		b = appendMessage(b, fieldDiscriminator, marshalWeight(w))
	}
	if c.GeneratorOptimizer != nil {
		b = appendMessage(b, fieldGeneratorOptimizer, marshalOptimizer(c.GeneratorOptimizer))
	}
	if c.DiscriminatorOptimizer != nil {
		b = appendMessage(b, fieldDiscriminatorOptimizer, marshalOptimizer(c.DiscriminatorOptimizer))
	}
	b = appendMessage(b, fieldMetadata, marshalMetadata(c.Metadata))
	return b
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldTrainingState:
			return message(typ, b, func(m []byte) (err error) {
				c.TrainingState, err = unmarshalTrainingState(m)
				return err
			})
		case fieldGenerator, fieldDiscriminator:
			return message(typ, b, func(m []byte) error {
				w, err := unmarshalWeight(m)
				if err != nil {
					return err
				}
				if num == fieldGenerator {
					c.Generator = append(c.Generator, w)
				} else {
					c.Discriminator = append(c.Discriminator, w)
				}
				return nil
			})
		case fieldGeneratorOptimizer, fieldDiscriminatorOptimizer:
			return message(typ, b, func(m []byte) error {
				state, err := unmarshalOptimizer(m)
				if err != nil {
					return err
				}
				if num == fieldGeneratorOptimizer {
					c.GeneratorOptimizer = state
				} else {
					c.DiscriminatorOptimizer = state
				}
				return nil
			})
		case fieldMetadata:
			return message(typ, b, func(m []byte) (err error) {
				c.Metadata, err = unmarshalMetadata(m)
				return err
			})
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func marshalTrainingState(s TrainingState) []byte {
	var b []byte
	b = appendInt(b, 1, int64(s.Epoch))
	b = appendInt(b, 2, int64(s.Step))
	b = appendDouble(b, 3, s.LearningRateG)
	b = appendDouble(b, 4, s.LearningRateD)
	return b
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var s TrainingState
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return varint(typ, b, func(v uint64) { s.Epoch = int(int64(v)) })
		case 2:
			return varint(typ, b, func(v uint64) { s.Step = int(int64(v)) })
		case 3:
			return double(typ, b, &s.LearningRateG)
		case 4:
			return double(typ, b, &s.LearningRateD)
		}
		return 0, nil
	})
	return s, err
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, 1, w.Name)
	b = appendShape(b, 2, w.Shape)
	b = appendFloats(b, 3, w.Data)
	b = appendString(b, 4, w.Layer)
	b = appendString(b, 5, w.Type)
	return b
}

func unmarshalWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return str(typ, b, &w.Name)
		case 2:
			return shape(typ, b, &w.Shape)
		case 3:
			return floats(typ, b, &w.Data)
		case 4:
			return str(typ, b, &w.Layer)
		case 5:
			return str(typ, b, &w.Type)
		}
		return 0, nil
	})
	return w, err
}

func marshalOptimizer(s *training.OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, s.Type)

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendDouble(entry, 2, s.Parameters[k])
		b = appendMessage(b, 2, entry)
	}

	b = appendInt(b, 3, s.Step)
	for _, t := range s.StateData {
		var m []byte
		m = appendString(m, 1, t.Name)
		m = appendShape(m, 2, t.Shape)
		m = appendFloats(m, 3, t.Data)
		m = appendString(m, 4, t.StateType)
		b = appendMessage(b, 4, m)
	}
	return b
}

func unmarshalOptimizer(b []byte) (*training.OptimizerState, error) {
	s := &training.OptimizerState{Parameters: make(map[string]float64)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return str(typ, b, &s.Type)
		case 2:
			return message(typ, b, func(m []byte) error {
				var key string
				var value float64
				err := walkFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return str(typ, b, &key)
					case 2:
						return double(typ, b, &value)
					}
					return 0, nil
				})
				s.Parameters[key] = value
				return err
			})
		case 3:
			return varint(typ, b, func(v uint64) { s.Step = int64(v) })
		case 4:
			return message(typ, b, func(m []byte) error {
				var t training.OptimizerTensor
				err := walkFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return str(typ, b, &t.Name)
					case 2:
						return shape(typ, b, &t.Shape)
					case 3:
						return floats(typ, b, &t.Data)
					case 4:
						return str(typ, b, &t.StateType)
					}
					return 0, nil
				})
				s.StateData = append(s.StateData, t)
				return err
			})
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func marshalMetadata(m CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendInt(b, 3, m.CreatedAt.UnixNano())
	}
	b = appendString(b, 4, m.RunID)
	b = appendString(b, 5, m.Name)
	b = appendString(b, 6, m.Dataset)
	b = appendString(b, 7, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var m CheckpointMetadata
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return str(typ, b, &m.Version)
		case 2:
			return str(typ, b, &m.Framework)
		case 3:
			return varint(typ, b, func(v uint64) { m.CreatedAt = time.Unix(0, int64(v)).UTC() })
		case 4:
			return str(typ, b, &m.RunID)
		case 5:
			return str(typ, b, &m.Name)
		case 6:
			return str(typ, b, &m.Dataset)
		case 7:
			return str(typ, b, &m.Description)
		case 8:
			var tag string
			n, err := str(typ, b, &tag)
			if err == nil {
				m.Tags = append(m.Tags, tag)
			}
			return n, err
		}
		return 0, nil
	})
	return m, err
}

// Encoding helpers. Empty strings and zero numbers are omitted, as proto3 does.

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendShape(b []byte, num protowire.Number, dims []int) []byte {
	if len(dims) == 0 {
		return b
	}
	var packed []byte
	for _, d := range dims {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	return appendMessage(b, num, packed)
}

func appendFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

// Decoding helpers. Each returns the number of bytes consumed from b.

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields calls fn for every field in b. A field fn does not consume
// (returns 0) is skipped.
func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func wantType(got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("wire type %d, expected %d", got, want)
	}
	return nil
}

func message(typ protowire.Type, b []byte, fn func([]byte) error) (int, error) {
	if err := wantType(typ, protowire.BytesType); err != nil {
		return 0, err
	}
	m, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, fn(m)
}

func str(typ protowire.Type, b []byte, out *string) (int, error) {
	return message(typ, b, func(m []byte) error {
		*out = string(m)
		return nil
	})
}

func varint(typ protowire.Type, b []byte, set func(uint64)) (int, error) {
	if err := wantType(typ, protowire.VarintType); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	set(v)
	return n, nil
}

func double(typ protowire.Type, b []byte, out *float64) (int, error) {
	if err := wantType(typ, protowire.Fixed64Type); err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*out = math.Float64frombits(v)
	return n, nil
}

func shape(typ protowire.Type, b []byte, out *[]int) (int, error) {
	return message(typ, b, func(m []byte) error {
		for len(m) > 0 {
			v, n := protowire.ConsumeVarint(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			*out = append(*out, int(v))
			m = m[n:]
		}
		return nil
	})
}

func floats(typ protowire.Type, b []byte, out *[]float32) (int, error) {
	return message(typ, b, func(m []byte) error {
		if len(m)%4 != 0 {
			return fmt.Errorf("packed float32 payload of %d bytes", len(m))
		}
		values := make([]float32, 0, len(*out)+len(m)/4)
		values = append(values, *out...)
		for len(m) > 0 {
			v, n := protowire.ConsumeFixed32(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			values = append(values, math.Float32frombits(v))
			m = m[n:]
		}
		*out = values
		return nil
	})
}
