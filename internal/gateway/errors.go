package gateway

import "fmt"

// UnparsablePayloadError means a webhook payload matched none of the
// known provider shapes. It is logged and acknowledged, never retried.
type UnparsablePayloadError struct {
	Reason string
}

func (e *UnparsablePayloadError) Error() string {
	return "unparsable webhook payload: " + e.Reason
}

// GatewayUnavailableError wraps outbound timeouts and provider 5xx
// responses after retries are exhausted.
type GatewayUnavailableError struct {
	StatusCode int
	Err        error
}

func (e *GatewayUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
	}
	return fmt.Sprintf("payment gateway unavailable: status %d", e.StatusCode)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }
