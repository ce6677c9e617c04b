package extensions

import (
	"time"

	atomo "github.com/atomo-fn/atomo-go"
)

// RetryExtension retries failing atom factories a bounded number of times
// with a fixed backoff between attempts. Flow execution is left alone; flows
// carry their own error semantics.
type RetryExtension struct {
	atomo.BaseExtension
	attempts int
	backoff  time.Duration
}

// NewRetryExtension creates a retry extension. attempts is the total number
// of factory invocations allowed, minimum 1.
func NewRetryExtension(attempts int, backoff time.Duration) *RetryExtension {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryExtension{
		BaseExtension: atomo.NewBaseExtension("retry"),
		attempts:      attempts,
		backoff:       backoff,
	}
}

func (e *RetryExtension) WrapResolve(next func() (any, error), _ *atomo.ResolveInfo) (any, error) {
	var result any
	var err error
	for i := 0; i < e.attempts; i++ {
		if i > 0 && e.backoff > 0 {
			time.Sleep(e.backoff)
		}
		result, err = next()
		if err == nil {
			return result, nil
		}
	}
	return result, err
}
