package domain

var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusRefunded, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Fulfilled orders have left the warehouse and can no longer be cancelled.
func (s Status) Fulfilled() bool {
	return s == StatusShipped || s == StatusDelivered
}

// Receiptable reports whether a payment receipt can be issued in status s.
func (s Status) Receiptable() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusRefunded:
		return true
	}
	return false
}
