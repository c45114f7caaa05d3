// Package constants provides shared constants used across the codebase.
package constants

// Handler pagination constants
const (
	// DefaultMatchEventLimit is the default number of match events returned by the API
	DefaultMatchEventLimit = 50

	// MaxMatchEventLimit caps the limit query parameter of the match events endpoint
	MaxMatchEventLimit = 500
)

// Upload constants
const (
	// MaxEnrollBodySize is the maximum request body size for enrollment (1MB)
	MaxEnrollBodySize = 1 << 20
)

// Stream constants
const (
	// ConnectionEstablishedMessage is sent to every client right after the websocket opens
	ConnectionEstablishedMessage = "Connected to FacePay real-time service"
)
