package constants

// Extraction limits
const (
	// MaxSecondaryNodes caps the non-ROOT nodes written for a single exchange
	MaxSecondaryNodes = 11

	// MaxCitations caps the citations attached to one assistant turn.
	// It never exceeds MaxSecondaryNodes so every citation fits as EVIDENCE.
	MaxCitations = 8

	// SeedTextLength is how many characters of the reply seed a new thread
	SeedTextLength = 500

	// MaxThreadTitleLength bounds titles derived from user messages
	MaxThreadTitleLength = 80
)

// Prompt limits
const (
	// MaxHistoryMessages is how many prior turns are forwarded to the model
	MaxHistoryMessages = 20

	// MaxSourceChars bounds the text of each fetched web source in the prompt
	MaxSourceChars = 6000

	// MaxNodeContextChars bounds the viewed node's content in the prompt
	MaxNodeContextChars = 4000
)

// Counter kinds
const (
	CounterThread = "thread"
	CounterNode   = "node"
)
