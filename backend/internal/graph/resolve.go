package graph

// ThreadResolution is the outcome of deciding where an exchange is written
type ThreadResolution int

const (
	// NoThread is the starting state before a decision is made
	NoThread ThreadResolution = iota
	// ExistingThread appends to the thread the client supplied
	ExistingThread
	// NewThread mints a thread for the exchange
	NewThread
)

func (r ThreadResolution) String() string {
	switch r {
	case ExistingThread:
		return "existing_thread"
	case NewThread:
		return "new_thread"
	default:
		return "no_thread"
	}
}

// ResolveThread decides whether an exchange starts a new thread. A missing
// thread ID or a topic shift both start one; otherwise the exchange stays put.
func ResolveThread(threadID *int64, topicShift bool) ThreadResolution {
	if threadID == nil {
		return NewThread
	}
	if topicShift {
		return NewThread
	}
	return ExistingThread
}
