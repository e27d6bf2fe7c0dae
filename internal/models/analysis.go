package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// TriggerSource identifies which entry point produced a trigger
type TriggerSource string

const (
	SourcePoller  TriggerSource = "poller"
	SourceWebhook TriggerSource = "webhook"
)

// Metadata is best-effort account information about the target
type Metadata struct {
	Joined    string `json:"joined"`
	Followers int    `json:"followers"`
}

// DefaultMetadata is used when the platform does not report account details
func DefaultMetadata() Metadata {
	return Metadata{Joined: "unknown", Followers: 0}
}

// Trigger is one event that starts an analysis run. It is never persisted.
type Trigger struct {
	TriggerID      string        `json:"trigger_id"`
	Mentioner      string        `json:"mentioner,omitempty"`
	RawText        string        `json:"raw_text,omitempty"`
	TargetUsername string        `json:"target_username"`
	Metadata       Metadata      `json:"metadata"`
	Source         TriggerSource `json:"source"`
}

// Post is a single entry from the target's timeline
type Post struct {
	Body string `json:"body"`
}

// VerdictStatus describes how the analyzer finished
type VerdictStatus string

const (
	VerdictOK                  VerdictStatus = "ok"
	VerdictTokenBudgetExceeded VerdictStatus = "token_budget_exceeded"
)

// Verdict is the analyzer output
type Verdict struct {
	Text     string        `json:"text"`
	Length   int           `json:"length"`
	Status   VerdictStatus `json:"status"`
	Attempts int           `json:"attempts"`
}

// NewVerdict builds a verdict and fills in its character length
func NewVerdict(text string, status VerdictStatus, attempts int) *Verdict {
	return &Verdict{
		Text:     text,
		Length:   utf8.RuneCountInString(text),
		Status:   status,
		Attempts: attempts,
	}
}

// StringList is stored as a JSON array column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// LedgerEntry marks a trigger as handled. One per trigger ID, never updated.
type LedgerEntry struct {
	TriggerID       string        `json:"trigger_id" db:"trigger_id"`
	TargetUsername  string        `json:"target_username" db:"target_username"`
	ProcessedAt     time.Time     `json:"processed_at" db:"processed_at"`
	PostsSnapshot   StringList    `json:"posts_snapshot,omitempty" db:"posts_snapshot"`
	VerdictSnapshot *string       `json:"verdict_snapshot,omitempty" db:"verdict_snapshot"`
	Source          TriggerSource `json:"source" db:"source"`
}

// PostBodies returns the post texts in order
func PostBodies(posts []Post) []string {
	bodies := make([]string, len(posts))
	for i, p := range posts {
		bodies[i] = p.Body
	}
	return bodies
}

// ChatMessage is one turn of an LLM conversation
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
