package agent

import (
	"context"
	"errors"

	"github.com/haasonsaas/steward/internal/tools"
)

// errorKind buckets a tool fault for the failure log so recurring
// problems group together regardless of their exact message text.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, tools.ErrInvalidArguments):
		return "invalid_arguments"
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return "timeout"
	}
	return "execution_error"
}
