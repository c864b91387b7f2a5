package orders

type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
)

// forward edges plus cancelled/returned from every non-terminal state
var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusProcessing: true, StatusCancelled: true, StatusReturned: true},
	StatusProcessing:     {StatusShipped: true, StatusCancelled: true, StatusReturned: true},
	StatusShipped:        {StatusOutForDelivery: true, StatusCancelled: true, StatusReturned: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusCancelled: true, StatusReturned: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusReturned:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Order statuses that may coexist with each payment status.
var paymentAllows = map[PaymentStatus]map[Status]bool{
	PaymentCreated:    {StatusPending: true, StatusCancelled: true},
	PaymentAuthorized: {StatusPending: true, StatusCancelled: true},
	PaymentFailed:     {StatusCancelled: true},
	PaymentCaptured: {
		StatusProcessing:     true,
		StatusShipped:        true,
		StatusOutForDelivery: true,
		StatusDelivered:      true,
	},
	PaymentRefunded: {StatusReturned: true},
}

// Consistent reports whether an order may sit in status s while its payment is in p.
func Consistent(s Status, p PaymentStatus) bool {
	return paymentAllows[p][s]
}

type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodUPI        PaymentMethod = "upi"
	MethodNetbanking PaymentMethod = "netbanking"
	MethodWallet     PaymentMethod = "wallet"
)
