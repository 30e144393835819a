package domain

import (
	"encoding/json"
	"time"
)

type TriggerType string

const (
	TriggerGeneric     TriggerType = "generic"
	TriggerGmail       TriggerType = "gmail"
	TriggerListStorage TriggerType = "list-storage"
)

// Webhook is an inbound integration endpoint definition. It is created by the
// webhook-builder flow and is read-only here, except for list-storage
// sub-webhooks which the dispatcher creates on demand.
type Webhook struct {
	ID            string
	WebhookID     string // external path token
	UserID        string
	TriggerType   TriggerType
	IsActive      *bool   // nil when the column is NULL
	Status        *string // nil when the column is NULL
	ActionConfig  []byte  // raw JSON, parsed lazily by the dispatcher
	TriggerConfig []byte  // raw JSON, gmail-trigger filters
	URL           string
	CreatedAt     time.Time
}

// Active applies the dual-flag activity rule: every flag that is present must
// agree the webhook is on, and a webhook with no flags at all is off.
func (w Webhook) Active() bool {
	if w.IsActive == nil && w.Status == nil {
		return false
	}
	if w.IsActive != nil && !*w.IsActive {
		return false
	}
	if w.Status != nil && *w.Status != "active" {
		return false
	}
	return true
}

// WebhookData is one raw receipt event, persisted before any processing runs.
type WebhookData struct {
	ID        string
	WebhookID string
	Payload   []byte
	Processed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DecodedPayload returns the stored body as a generic map; a row whose body is
// not a JSON object decodes to an empty map rather than failing the read.
func (d WebhookData) DecodedPayload() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(d.Payload, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// ContactFields is the normalized view of an arbitrary payload. Derived, never
// persisted directly.
type ContactFields struct {
	Email   string
	Name    string
	Phone   string
	Company string
	Message string
	Custom  map[string]string // custom_<key> passthrough
}

func (f ContactFields) Empty() bool {
	return f.Email == "" && f.Name == ""
}

type Contact struct {
	ID        string
	UserID    string
	ListID    string
	FullName  string
	Email     string
	Phone     string
	Company   string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type List struct {
	ID           string
	UserID       string
	Name         string
	ContactCount int
}

// DispatchOutcome is the per-branch result collected by the dispatcher. Branch
// failures live here and nowhere else; they never escalate past the branch.
type DispatchOutcome struct {
	Branch        ActionType
	Skipped       bool
	SkipReason    string
	Success       bool
	ProviderMsgID string
	Err           string
}

type CaptureResult struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhookId"`
	CapturedData map[string]any `json:"capturedData"`
	Timestamp    time.Time      `json:"timestamp"`
}
