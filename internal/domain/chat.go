package domain

// Chat roles as they appear on the wire and in storage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and the generation backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Principal is the opaque, stable identifier of the authenticated caller.
// Resolved from a server-verified credential, never from the request body.
type Principal string
