package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Each class binds to a containment boundary:
//   - configuration errors abort startup and are never evaluated per transaction
//   - data-access errors are retried at the aggregator boundary and degrade to
//     an incomplete snapshot on exhaustion
//   - rule-evaluation errors stay contained to the offending rule
//   - evaluation-incomplete escalates to a fail-closed manual review
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrDataAccess           = errors.New("data access error")
	ErrRuleEvaluation       = errors.New("rule evaluation error")
	ErrEvaluationIncomplete = errors.New("evaluation incomplete")
	ErrNotFound             = errors.New("record not found")
)

// ConfigErrorf wraps a fatal configuration problem.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// DataAccessErrorf wraps a transient store failure.
func DataAccessErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataAccess, fmt.Sprintf(format, args...))
}

// IsTransient reports whether an error should be retried: data-access
// failures, timeouts, and cancellations from deadline expiry. Logical and
// validation errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDataAccess) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
