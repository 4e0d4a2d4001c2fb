package core

// OutcomeStatus is the terminal state of one record
type OutcomeStatus string

const (
	OutcomeDelivered    OutcomeStatus = "delivered"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeNotDelivered OutcomeStatus = "not_delivered"
)

// Outcome is what happened to one record. Err is nil only when the record was delivered.
type Outcome struct {
	Status      OutcomeStatus
	Attempts    int // HTTP attempts made for the request carrying the record
	Err         error
	Destination string
}

// Report holds one Outcome per input record, in input order
type Report struct {
	Outcomes []Outcome
}

// Err returns the error of the first record that was not delivered, or nil
func (r Report) Err() error {
	for _, o := range r.Outcomes {
		if o.Status != OutcomeDelivered {
			return o.Err
		}
	}
	return nil
}

// DeliveredPrefix is the number of leading records that were delivered. Offsets up to this point
// can be acknowledged upstream.
func (r Report) DeliveredPrefix() int {
	for i, o := range r.Outcomes {
		if o.Status != OutcomeDelivered {
			return i
		}
	}
	return len(r.Outcomes)
}

// Count returns how many records ended with status
func (r Report) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
