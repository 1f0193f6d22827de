package tools

import "fmt"

// Result is the uniform outcome of a tool call. Message is user-facing
// and localized; it is what the agent relays to the sender. Data
// carries structured details for the engine.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func failf(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func ok(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}
