package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"finai/internal/core"
	applog "finai/internal/log"
	"finai/internal/ports"
)

// DraftKeywords route a chat prompt to table drafting when any of them
// appears in it.
var DraftKeywords = []string{
	"crie", "tabela", "planilha", "monte", "faca", "faça", "gerar",
	"create", "table", "spreadsheet",
}

// Greeting opens every chat history.
const Greeting = "Hi! I am your finance assistant. I can build tables with checkboxes, currency columns and colors for you, or answer questions about the tables you already have."

// maxHistory bounds the messages kept per owner.
const maxHistory = 200

// IsDraftRequest reports whether prompt asks for a new table.
func IsDraftRequest(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range DraftKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// TableReader is the part of TableService the assistant needs.
type TableReader interface {
	Tables(ctx context.Context, ownerID string) ([]core.Table, error)
	CreateFromDraft(ctx context.Context, ownerID string, d core.TableDraft) (TableState, error)
}

type chat struct {
	busy     bool
	messages []core.ChatMessage
}

// AssistantService runs the chat: it routes prompts to drafting or advice,
// allows one request in flight per owner and keeps each owner's history.
type AssistantService struct {
	assistant ports.Assistant
	tables    TableReader
	timeout   time.Duration
	logger    *applog.Logger
	now       func() time.Time

	mu    sync.Mutex
	chats map[string]*chat
}

// NewAssistantService builds the chat service. A nil assistant makes every
// prompt fail with core.ErrAssistantUnavailable.
func NewAssistantService(assistant ports.Assistant, tables TableReader, timeout time.Duration, logger *applog.Logger) *AssistantService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &AssistantService{
		assistant: assistant,
		tables:    tables,
		timeout:   timeout,
		logger:    logger.WithComponent(applog.ComponentAssistant),
		now:       time.Now,
		chats:     map[string]*chat{},
	}
}

// Enabled reports whether an assistant backend is configured.
func (s *AssistantService) Enabled() bool { return s.assistant != nil }

func (s *AssistantService) chatFor(ownerID string) *chat {
	c, ok := s.chats[ownerID]
	if !ok {
		c = &chat{messages: []core.ChatMessage{{
			Role:    core.RoleAssistant,
			Content: Greeting,
			SentAt:  s.now().UTC(),
		}}}
		s.chats[ownerID] = c
	}
	return c
}

// History returns a copy of the owner's messages, oldest first.
func (s *AssistantService) History(ownerID string) []core.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chatFor(ownerID)
	return append([]core.ChatMessage(nil), c.messages...)
}

func (s *AssistantService) appendLocked(c *chat, m core.ChatMessage) {
	c.messages = append(c.messages, m)
	if over := len(c.messages) - maxHistory; over > 0 {
		c.messages = append([]core.ChatMessage(nil), c.messages[over:]...)
	}
}

func (s *AssistantService) append(ownerID string, m core.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(s.chatFor(ownerID), m)
}

// begin claims the owner's chat for one request.
func (s *AssistantService) begin(ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chatFor(ownerID)
	if c.busy {
		return core.ErrRequestInFlight
	}
	c.busy = true
	return nil
}

func (s *AssistantService) end(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatFor(ownerID).busy = false
}

// Send records the user's prompt and returns the assistant reply. A prompt
// with a creation keyword yields a reply carrying a draft; any other prompt
// is answered with advice over the owner's tables. A second prompt while
// one is pending fails with core.ErrRequestInFlight and is not recorded.
func (s *AssistantService) Send(ctx context.Context, ownerID, prompt string) (core.ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return core.ChatMessage{}, core.ErrEmptyPrompt
	}
	if s.assistant == nil {
		return core.ChatMessage{}, core.ErrAssistantUnavailable
	}
	if err := s.begin(ownerID); err != nil {
		return core.ChatMessage{}, err
	}
	defer s.end(ownerID)

	s.append(ownerID, core.ChatMessage{Role: core.RoleUser, Content: prompt, SentAt: s.now().UTC()})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		reply core.ChatMessage
		err   error
	)
	if IsDraftRequest(prompt) {
		reply, err = s.draft(ctx, prompt)
	} else {
		reply, err = s.advise(ctx, ownerID, prompt)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Assistant request failed",
			applog.NewFields().WithOwner(ownerID).WithError(err).WithErrorType(applog.ErrorTypeUpstream).ToSlice()...)
		s.append(ownerID, core.ChatMessage{
			Role:    core.RoleAssistant,
			Content: "Sorry, I ran into a problem with that request. Could you describe it another way?",
			SentAt:  s.now().UTC(),
		})
		return core.ChatMessage{}, err
	}

	reply.SentAt = s.now().UTC()
	s.append(ownerID, reply)
	return reply, nil
}

func (s *AssistantService) draft(ctx context.Context, prompt string) (core.ChatMessage, error) {
	d, err := s.assistant.DraftTable(ctx, prompt)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("draft table: %w", err)
	}
	s.logger.InfoContext(ctx, "Table drafted",
		applog.FieldOperation, applog.OpDraft,
		applog.FieldTableName, d.Name)
	return core.ChatMessage{
		Role:    core.RoleAssistant,
		Content: fmt.Sprintf("I prepared a structure for %q. Accept it to save it to your tables.", d.Name),
		Draft:   &d,
	}, nil
}

func (s *AssistantService) advise(ctx context.Context, ownerID, prompt string) (core.ChatMessage, error) {
	tables, err := s.tables.Tables(ctx, ownerID)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("load tables for advice: %w", err)
	}
	text, err := s.assistant.Advise(ctx, tables, prompt)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("advise: %w", err)
	}
	return core.ChatMessage{Role: core.RoleAssistant, Content: text}, nil
}

// Accept persists a draft as a new table and records the outcome in the
// chat. It shares the in-flight guard with Send.
func (s *AssistantService) Accept(ctx context.Context, ownerID string, d core.TableDraft) (TableState, error) {
	if err := s.begin(ownerID); err != nil {
		return TableState{}, err
	}
	defer s.end(ownerID)

	st, err := s.tables.CreateFromDraft(ctx, ownerID, d)
	if err != nil {
		return TableState{}, err
	}
	msg := fmt.Sprintf("Done! The table %q was saved to your tables.", st.Table.Name)
	if st.Sync.Status == SyncStatusUnsynced {
		msg = fmt.Sprintf("The table %q was created but could not be saved yet: %s", st.Table.Name, st.Sync.Error)
	}
	s.append(ownerID, core.ChatMessage{Role: core.RoleAssistant, Content: msg, SentAt: s.now().UTC()})
	return st, nil
}
