// Package sink fans evaluation results out to one or more destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Named is a result sink with a label for logs and metrics.
type Named struct {
	Name string
	domain.ResultSink
}

// Multi writes every run to all sinks concurrently.
type Multi struct {
	sinks   []Named
	metrics *metrics.Metrics
}

// NewMulti creates a fan-out sink. m may be nil.
func NewMulti(m *metrics.Metrics, sinks ...Named) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

// SaveEvaluationRun writes to every sink and joins their failures.
// One failing sink does not stop the others.
func (s *Multi) SaveEvaluationRun(ctx context.Context, run *domain.EvaluationRun, logs []domain.APICallLog) error {
	errs := make([]error, len(s.sinks))
	var g errgroup.Group
	for i, named := range s.sinks {
		g.Go(func() error {
			if err := named.SaveEvaluationRun(ctx, run, logs); err != nil {
				s.metrics.IncSinkFailure(named.Name)
				slog.Error("sink write failed",
					"sink", named.Name,
					"tenant_id", run.TenantID,
					"request_id", run.RequestID,
					"error", err,
				)
				errs[i] = fmt.Errorf("%s: %w", named.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
