package backend

import (
	"fmt"

	"github.com/vango-go/vai-interview/internal/redact"
)

// TransportError represents HTTP transport-level failures (DNS, timeouts,
// connection reset) while talking to the interview backend. It is wrapped in
// a network_failure *core.Error.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redact.URL(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
