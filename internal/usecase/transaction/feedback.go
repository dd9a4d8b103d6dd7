package transaction

// Feedback receives human readable status lines while a transaction progresses.
// Implementations must be safe to call from the goroutine running the action.
type Feedback interface {
	Report(status string)
}

type FeedbackFunc func(status string)

func (f FeedbackFunc) Report(status string) { f(status) }

// Discard drops every status line.
var Discard Feedback = FeedbackFunc(func(string) {})

func orDiscard(fb Feedback) Feedback {
	if fb == nil {
		return Discard
	}
	return fb
}
