// Package watcher drives one job: it computes safe block windows, fetches
// and extracts them, dispatches the messages and commits the cursor.
package watcher

// State is the phase of a scheduler loop.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateDispatching State = "dispatching"
	StateCommitting  State = "committing"
	StateBackoff     State = "backoff"
	// StateStopped is terminal and only reached on a configuration error.
	StateStopped State = "stopped"
)

// IsTerminal reports whether the loop will never run again.
func (s State) IsTerminal() bool {
	return s == StateStopped
}
