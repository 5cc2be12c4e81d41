package output

import (
	"context"

	"github.com/crimson-sun/tre/internal/model"
)

// Output defines the interface for run event destinations.
type Output interface {
	Write(ctx context.Context, event model.Event) error
	Close() error
}
