// Package embedding defines the external embedding provider boundary. The
// provider is a swappable black box mapping text to a fixed-width vector;
// everything downstream treats the vector as opaque numbers.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable wraps any provider failure (network, model, malformed
// input). Callers match it with errors.Is; the session runner collects it
// per note instead of aborting the run.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider maps text to a dense numeric vector of fixed, provider-defined
// width. Implementations must honor ctx cancellation and deadlines.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// unavailable tags err as an ErrUnavailable while keeping the cause visible.
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
