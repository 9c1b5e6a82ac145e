// Package schemas gives typed access to offchain data: JSON payloads signed field by
// field, and payloads encrypted to a set of recipients.
package schemas

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/pkg/result"
)

// Schema stores values of T as JSON at a fixed path. shape lists the fields that are
// validated and signed.
type Schema[T any] struct {
	wrapper *offchain.Wrapper
	path    string
	shape   offchain.Shape
}

func NewSchema[T any](w *offchain.Wrapper, dataPath string, shape offchain.Shape) *Schema[T] {
	return &Schema[T]{wrapper: w, path: dataPath, shape: shape}
}

func (s *Schema[T]) Path() string { return s.path }

func (s *Schema[T]) Write(ctx context.Context, data T) error {
	raw, obj, err := s.encode(data)
	if err != nil {
		return err
	}
	td, err := offchain.BuildTypedDataForPayload(s.wrapper.ChainID(), s.path, s.shape, obj)
	if err != nil {
		return invalidData(err)
	}
	sig, err := s.wrapper.SignTypedData(ctx, td)
	if err != nil {
		return fmt.Errorf("sign %s: %w", s.path, err)
	}
	return classify(s.wrapper.WriteDataTo(ctx, raw, sig, s.path))
}

func (s *Schema[T]) WriteAsResult(ctx context.Context, data T) result.Result[struct{}] {
	return result.From(struct{}{}, s.Write(ctx, data))
}

func (s *Schema[T]) ReadAsResult(ctx context.Context, from common.Address) result.Result[T] {
	raw, err := s.wrapper.ReadDataFrom(ctx, from, s.path, offchain.PayloadBuilder(s.wrapper.ChainID(), s.path, s.shape))
	if err != nil {
		return result.Err[T](classify(err))
	}
	return result.From(s.decode(raw))
}

func (s *Schema[T]) Read(ctx context.Context, from common.Address) (T, error) {
	return s.ReadAsResult(ctx, from).Unwrap()
}

// encode returns the stored bytes of data and the object form the signature covers.
// Fields of T outside the shape are dropped so every stored field is signed.
func (s *Schema[T]) encode(data T) ([]byte, map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, invalidData(err)
	}
	obj, err := s.project(raw)
	if err != nil {
		return nil, nil, err
	}
	stored, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, invalidData(err)
	}
	return stored, obj, nil
}

// decode ignores stored fields outside the shape; the signature does not cover them.
func (s *Schema[T]) decode(raw []byte) (T, error) {
	var zero T
	obj, err := s.project(raw)
	if err != nil {
		return zero, err
	}
	signed, err := json.Marshal(obj)
	if err != nil {
		return zero, invalidData(err)
	}
	var out T
	if err := json.Unmarshal(signed, &out); err != nil {
		return zero, invalidData(err)
	}
	return out, nil
}

func (s *Schema[T]) project(raw []byte) (map[string]any, error) {
	obj, err := offchain.DecodePayload(raw)
	if err != nil {
		return nil, invalidData(err)
	}
	obj, err = s.shape.Project(obj)
	if err != nil {
		return nil, invalidData(err)
	}
	return obj, nil
}
