package models

// Envelope is the response wrapper the gateway puts around every payload.
type Envelope[T any] struct {
	Content   T      `json:"content"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}
