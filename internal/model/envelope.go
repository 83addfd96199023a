package model

// Envelope is the JSON body shape of every response.
// Failures carry only success=false and a message.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
