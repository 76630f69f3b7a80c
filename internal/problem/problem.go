// Package problem renders the RFC 7807 Problem Details documents spec.md
// §6 specifies: {type, title, instance, traceId, errors?}. It is the only
// place in this module that knows that shape; internal/httpapi calls into
// it rather than constructing the JSON inline.
package problem

import uuid "github.com/satori/go.uuid"

// Document is an RFC 7807 problem document as shaped by spec.md §6.
// Errors is present only for 400 validation responses.
type Document struct {
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Instance string              `json:"instance"`
	TraceID  string              `json:"traceId"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

// NewTraceID mints a fresh trace identifier for a single request, using the
// same uuid package the teacher uses for its own instance identity.
func NewTraceID() string {
	return uuid.NewV4().String()
}

// Validation builds the 400 document for a field-keyed set of validation
// failures.
func Validation(instance string, traceID string, errs map[string][]string) Document {
	return Document{
		Type:     "https://mitsu.internal/problems/validation-error",
		Title:    "Validation Failed",
		Instance: instance,
		TraceID:  traceID,
		Errors:   errs,
	}
}

// ServiceUnavailable builds the 503 document for an exhausted quota or a
// contended lock; detail distinguishes the two in the title so operators
// can tell them apart without parsing traceId-correlated logs.
func ServiceUnavailable(instance string, traceID string, detail string) Document {
	return Document{
		Type:     "https://mitsu.internal/problems/service-unavailable",
		Title:    "Service Temporarily Unavailable: " + detail,
		Instance: instance,
		TraceID:  traceID,
	}
}
