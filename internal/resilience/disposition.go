package resilience

// Disposition tells a queue consumer what to do with a message whose
// processing failed.
type Disposition int

const (
	// Drop acknowledges the message without redelivery.
	Drop Disposition = iota
	// Redeliver asks the broker to deliver the message again later.
	Redeliver
)

func (d Disposition) String() string {
	if d == Redeliver {
		return "redeliver"
	}
	return "drop"
}

// Classify maps a processing error to a disposition. Transient failures are
// redelivered; everything else is dropped so a poison message cannot wedge
// the consumer.
func Classify(err error) Disposition {
	if IsTransient(err) {
		return Redeliver
	}
	return Drop
}
