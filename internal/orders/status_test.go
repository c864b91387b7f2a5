package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusPending, StatusCancelled, true},
		{StatusShipped, StatusReturned, true},

		{StatusPending, StatusShipped, false},
		{StatusProcessing, StatusDelivered, false},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusShipped, false},
		{StatusDelivered, StatusReturned, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusReturned, StatusPending, false},
		{Status("lost"), StatusPending, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusReturned} {
		assert.True(t, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusShipped, StatusOutForDelivery} {
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, Status("lost").Valid())
	assert.False(t, Status("lost").Terminal())
}

func TestConsistent(t *testing.T) {
	assert.True(t, Consistent(StatusPending, PaymentCreated))
	assert.True(t, Consistent(StatusCancelled, PaymentFailed))
	assert.True(t, Consistent(StatusShipped, PaymentCaptured))
	assert.True(t, Consistent(StatusReturned, PaymentRefunded))

	assert.False(t, Consistent(StatusProcessing, PaymentCreated))
	assert.False(t, Consistent(StatusCancelled, PaymentCaptured))
	assert.False(t, Consistent(StatusReturned, PaymentCaptured))
	assert.False(t, Consistent(StatusPending, PaymentFailed))
}
