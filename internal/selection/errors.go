// Package selection groups, materializes and balances candidate meals for the exploration
// and recommendation stages.
package selection

import "fmt"

// Error represents an error that occurs while resolving selected meals against a pool
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}
