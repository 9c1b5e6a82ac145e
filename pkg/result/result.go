// Package result carries the outcome of an operation that can fail without
// panicking across goroutine or package boundaries.
package result

// Result is either a value (OK) or an error.
type Result[T any] struct {
	OK    bool
	Value T
	Err   error
}

func Ok[T any](value T) Result[T] {
	return Result[T]{OK: true, Value: value}
}

func Err[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// From converts a conventional (value, error) pair.
func From[T any](value T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(value)
}

// Unwrap returns the pair form. A zero Result reports no value and no error.
func (r Result[T]) Unwrap() (T, error) {
	if !r.OK {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}
