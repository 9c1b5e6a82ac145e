package offchain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var ErrInvalidPayload = errors.New("offchain: payload does not match shape")

type FieldKind string

const (
	FieldString  FieldKind = "string"
	FieldNumber  FieldKind = "number"
	FieldBoolean FieldKind = "boolean"
)

// SolidityType maps a field kind to its EIP-712 type. Unknown kinds are typed as strings.
func (k FieldKind) SolidityType() string {
	switch k {
	case FieldNumber:
		return "uint256"
	case FieldBoolean:
		return "bool"
	default:
		return "string"
	}
}

type Field struct {
	Name string
	Kind FieldKind
}

// Shape is the ordered field list of a JSON object payload.
type Shape []Field

// DecodePayload parses a single JSON object, keeping numbers exact.
func DecodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not a json object", ErrInvalidPayload)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrInvalidPayload)
	}
	return obj, nil
}

// Validate checks that every declared field is present with the declared kind.
// Fields outside the shape are tolerated and ignored.
func (s Shape) Validate(obj map[string]any) error {
	_, err := s.messageValues(obj)
	return err
}

// Project validates obj and returns a copy holding only the shape's fields, which are
// the only ones a payload signature covers.
func (s Shape) Project(obj map[string]any) (map[string]any, error) {
	if err := s.Validate(obj); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(s))
	for _, f := range s {
		out[f.Name] = obj[f.Name]
	}
	return out, nil
}

// messageValues projects obj onto the shape in the value forms the EIP-712 encoder expects.
func (s Shape) messageValues(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s))
	for _, f := range s {
		v, ok := obj[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidPayload, f.Name)
		}
		switch f.Kind {
		case FieldNumber:
			n, err := toUint256(v)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidPayload, f.Name, err)
			}
			out[f.Name] = n
		case FieldBoolean:
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: field %q must be a boolean", ErrInvalidPayload, f.Name)
			}
			out[f.Name] = b
		default:
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: field %q must be a string", ErrInvalidPayload, f.Name)
			}
			out[f.Name] = str
		}
	}
	return out, nil
}

func toUint256(v any) (*big.Int, error) {
	var n *big.Int
	switch t := v.(type) {
	case json.Number:
		parsed, ok := new(big.Int).SetString(t.String(), 10)
		if !ok {
			return nil, fmt.Errorf("%s is not an integer", t)
		}
		n = parsed
	case float64:
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("%v is not an integer", t)
		}
		n = big.NewInt(int64(t))
	default:
		return nil, errors.New("must be a number")
	}
	if n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("%s is outside uint256", n)
	}
	return n, nil
}
