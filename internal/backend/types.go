package backend

// Message represents a message sent to the backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response represents a response from the backend.
type Response struct {
	Content   string
	SessionID string
	Error     string // Set when the CLI ran but reported a failure
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string   // "claude" or "command"
	Command      string   // Binary to run; "claude" when empty for the claude type
	Args         []string // Extra args placed before the generated ones
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
}
