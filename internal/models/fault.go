package models

// FaultKind classifies a user-visible failure.
type FaultKind string

const (
	FaultAuthentication FaultKind = "authentication"
	FaultSubscription   FaultKind = "subscription"
	FaultWrite          FaultKind = "write"
)

// Fault is the single user-visible error surface. The app keeps at most one;
// the latest fault replaces any prior one, and navigation clears it. A zero
// Fault means "no error".
type Fault struct {
	Kind    FaultKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

func NewFault(kind FaultKind, message string) Fault {
	return Fault{Kind: kind, Message: message}
}

func (f Fault) Present() bool {
	return f.Message != ""
}
