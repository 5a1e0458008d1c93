package nlu

import (
	"context"
	"errors"
	"fmt"
)

// ErrChainExhausted is returned when no step in a chain succeeded
var ErrChainExhausted = errors.New("every strategy failed")

// Step is one strategy in an ordered fallback chain
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// FirstSuccess runs steps in order and returns the first successful value
// together with the name of the step that produced it.
func FirstSuccess[T any](ctx context.Context, steps ...Step[T]) (T, string, error) {
	var zero T
	errs := []error{ErrChainExhausted}
	for _, step := range steps {
		v, err := step.Run(ctx)
		if err == nil {
			return v, step.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
	}
	return zero, "", errors.Join(errs...)
}
