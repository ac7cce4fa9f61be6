package syncengine

import "fmt"

// State is the coarse phase reported to observers.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the last drain outcome. Message is set only for StateError.
type Status struct {
	State   State
	Message string
}

func (s Status) String() string {
	if s.State == StateError {
		return fmt.Sprintf("%s: %s", s.State, s.Message)
	}
	return string(s.State)
}

// Snapshot is what subscribers receive after every status or pending-count change.
type Snapshot struct {
	Status       Status
	PendingCount int
}

func errorStatus(msg string) Status {
	return Status{State: StateError, Message: msg}
}

func failedMessage(n int) string {
	return fmt.Sprintf("%d item(s) failed to sync", n)
}

func pendingMessage(n int) string {
	return fmt.Sprintf("%d item(s) pending retry", n)
}
