// Package providers holds the normalized contract shared by the three
// provider client families.
package providers

// TaskStatus is the three-state model every provider's vocabulary is
// collapsed into (plus queued, which callers treat like running).
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status ends the polling loop.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Poll is one status observation for an in-flight task. OutputURL is set only
// on StatusCompleted; Message carries the provider's failure text.
type Poll struct {
	Status    TaskStatus
	OutputURL string
	Message   string
}
