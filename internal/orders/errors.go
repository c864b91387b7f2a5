package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPaymentState       = errors.New("payment state does not allow this operation")
	ErrConcurrentUpdate   = errors.New("concurrent update")
	ErrGateway            = errors.New("payment gateway error")
)

// GatewayError describes a failed call to the payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Err} }

// IsRetryable reports whether err is a gateway failure worth retrying later.
func IsRetryable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable
}
