// Package evaluator defines the port interface for external source-reliability
// evaluation services.
package evaluator

import (
	"context"

	"github.com/tracefact/evidenced/internal/domain/reliability"
)

// Evaluator rates the trustworthiness of a normalized domain.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, domain string) (reliability.Evaluation, error)
}
