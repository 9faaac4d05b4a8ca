package gateway

import (
	"errors"
	"fmt"
)

// Class is the user-facing classification of a gateway fault
type Class string

// Fault classes
const (
	ClassAPI           Class = "API Error"
	ClassParse         Class = "Parse Error"
	ClassEngine        Class = "Engine Fault"
	ClassStructure     Class = "Structure Error"
	ClassConsolidation Class = "Consolidation Error"
	ClassTimeout       Class = "Timed Out"
)

// ResolveError is the terminal failure of a gateway call
type ResolveError struct {
	Class   Class
	Message string
	Cause   error
}

func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// ClassOf returns the class of err, or "" when err is not a ResolveError
func ClassOf(err error) Class {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}
