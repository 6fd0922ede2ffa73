package core

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type (
	// TableDraft is a proposed table that has not been given identities yet.
	// Rows hold cells only; row ids are assigned when the draft is accepted.
	TableDraft struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Columns     []Column `json:"columns"`
		Rows        []Cells  `json:"rows"`
		ThemeColor  string   `json:"themeColor,omitempty"`
	}

	ChatMessage struct {
		Role    Role        `json:"role"`
		Content string      `json:"content"`
		Draft   *TableDraft `json:"draft,omitempty"`
		SentAt  time.Time   `json:"sentAt"`
	}
)

// IDGenerator produces identifiers. Implementations must be safe for
// concurrent use.
type IDGenerator interface {
	NewID() string
}
