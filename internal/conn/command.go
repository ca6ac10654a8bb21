package conn

import (
	"encoding/json"
	"fmt"

	"github.com/dcadea/eventfabric/internal/id"
)

// Command is the parsed inbound frame grammar of spec §4.10.
type Command struct {
	Type string `json:"type"`

	// Auth
	Token string `json:"token,omitempty"`

	// CreateMessage
	TalkID id.ID  `json:"talkId,omitempty"`
	Text   string `json:"text,omitempty"`

	// UpdateMessage / DeleteMessage / MarkSeenMessage
	ID id.ID `json:"id,omitempty"`
}

const (
	TypeAuth            = "auth"
	TypeCreateMessage   = "createMessage"
	TypeUpdateMessage   = "updateMessage"
	TypeDeleteMessage   = "deleteMessage"
	TypeMarkSeenMessage = "markSeenMessage"
)

// ParseCommand decodes one inbound text frame into a Command. An unknown
// type is not itself an error here — spec §6 says unknown types are
// "logged and ignored (not fatal)" by the caller, not rejected at parse
// time — so this only fails on malformed JSON.
func ParseCommand(raw []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, fmt.Errorf("conn: malformed frame: %w", err)
	}
	return c, nil
}

// Known reports whether c.Type is a recognized Command variant.
func (c Command) Known() bool {
	switch c.Type {
	case TypeAuth, TypeCreateMessage, TypeUpdateMessage, TypeDeleteMessage, TypeMarkSeenMessage:
		return true
	default:
		return false
	}
}
