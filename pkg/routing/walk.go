package routing

import (
	"context"
	"errors"
	"net/http"

	"mercator-hq/conclave/pkg/providers"
)

// ErrNoCandidates is returned by Walk when there is nothing to try.
var ErrNoCandidates = errors.New("no usable model candidates")

// Plan is one walk over a candidate list.
type Plan struct {
	// Requested is the model the caller asked for.
	Requested string

	// Candidates is the resolved list, tried in order.
	Candidates []string

	// MaxAttempts caps how many candidates are tried. Zero tries them all.
	MaxAttempts int
}

// AttemptFunc tries one model. A nil error ends the walk successfully.
type AttemptFunc func(ctx context.Context, model string) error

// Outcome is the result of a walk.
type Outcome struct {
	// Requested is the model the caller asked for.
	Requested string

	// ModelUsed is the model that succeeded, or the last model tried when
	// every attempt failed.
	ModelUsed string

	// FallbackFrom is Requested when ModelUsed differs from it, else "".
	FallbackFrom string

	// Tried lists the models attempted, in order.
	Tried []string

	// Err is the last failure, nil on success.
	Err error
}

// Succeeded reports whether some candidate succeeded.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Walk tries plan.Candidates in order until attempt succeeds, a failure
// does not qualify for advancing, the attempt budget is spent, or ctx ends.
func Walk(ctx context.Context, plan Plan, attempt AttemptFunc) Outcome {
	out := Outcome{Requested: plan.Requested}

	limit := len(plan.Candidates)
	if plan.MaxAttempts > 0 && plan.MaxAttempts < limit {
		limit = plan.MaxAttempts
	}
	if limit == 0 {
		out.Err = ErrNoCandidates
		return out
	}

	for _, model := range plan.Candidates[:limit] {
		if err := ctx.Err(); err != nil && len(out.Tried) > 0 {
			break
		}

		out.Tried = append(out.Tried, model)
		out.ModelUsed = model
		out.Err = attempt(ctx, model)

		if out.Err == nil || !ShouldAdvance(out.Err) {
			break
		}
	}

	if out.ModelUsed != plan.Requested {
		out.FallbackFrom = plan.Requested
	}
	return out
}

// ShouldAdvance reports whether err justifies trying the next candidate.
func ShouldAdvance(err error) bool {
	f, ok := providers.AsFailure(err)
	if !ok {
		return false
	}
	if f.AuthRejected() {
		return false
	}

	switch f.Code {
	case providers.CodeInvalidResponse,
		providers.CodeTimeout,
		providers.CodeUnavailable,
		providers.CodeRateLimited:
		return true
	case providers.CodeCanceled:
		return false
	}

	if f.StatusCode >= http.StatusInternalServerError {
		return true
	}
	return f.ModelUnavailable
}
