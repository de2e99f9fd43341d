package provider

import "context"

// Static always returns the same value.
type Static[T any] struct {
	Label string
	Value T
}

func (s Static[T]) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s Static[T]) Poll(ctx context.Context) (T, error) {
	return s.Value, nil
}

// Func adapts a function to Provider.
type Func[T any] struct {
	Label string
	Fn    func(ctx context.Context) (T, error)
}

func (f Func[T]) Name() string {
	return f.Label
}

func (f Func[T]) Poll(ctx context.Context) (T, error) {
	return f.Fn(ctx)
}
