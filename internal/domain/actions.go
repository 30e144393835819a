package domain

import (
	"encoding/json"
	"strings"
)

type ActionType string

const (
	ActionGmail    ActionType = "gmail-service"
	ActionLists    ActionType = "lists"
	ActionCampaign ActionType = "outbound-campaign"
	ActionText     ActionType = "text-webhook"
)

// ActionConfig is the parsed form of a webhook's actionConfiguration column.
// Builder versions differ: newer ones write action cards, older ones a
// workflowConfig block, and some write both.
type ActionConfig struct {
	Actions  []ActionCard    `json:"actions"`
	Workflow *WorkflowConfig `json:"workflowConfig,omitempty"`
}

// ActionCard is one configured side effect. SelectedApp.ID discriminates the
// four action types; IsConnected gates firing regardless of config presence.
type ActionCard struct {
	SelectedApp    SelectedApp     `json:"selectedApp"`
	IsConnected    bool            `json:"isConnected"`
	GmailConfig    *GmailConfig    `json:"gmailConfig,omitempty"`
	SelectedListID FlexID          `json:"selectedListId,omitempty"`
	CampaignConfig *CampaignConfig `json:"campaignConfig,omitempty"`
	TextConfig     *TextConfig     `json:"textConfig,omitempty"`
}

type SelectedApp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Type maps a card onto its action type. Text cards are also matched by a
// case-insensitive app name containing "text webhook", which older builders
// emitted instead of the id.
func (c ActionCard) Type() (ActionType, bool) {
	switch c.SelectedApp.ID {
	case string(ActionGmail):
		return ActionGmail, true
	case string(ActionLists):
		return ActionLists, true
	case string(ActionCampaign):
		return ActionCampaign, true
	case string(ActionText):
		return ActionText, true
	}
	if strings.Contains(strings.ToLower(c.SelectedApp.Name), "text webhook") {
		return ActionText, true
	}
	return "", false
}

type GmailConfig struct {
	To      string `json:"to"`
	CC      string `json:"cc,omitempty"`
	BCC     string `json:"bcc,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type CampaignConfig struct {
	Name          string `json:"name,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	AssistantID   string `json:"assistantId,omitempty"`
	WorkflowID    string `json:"workflowId,omitempty"`
}

type TextConfig struct {
	Message    string `json:"message"`
	FromNumber string `json:"fromNumber,omitempty"`
}

// WorkflowConfig is the legacy action layout still seen on older webhooks.
type WorkflowConfig struct {
	Actions []WorkflowAction `json:"actions"`
}

type WorkflowAction struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// FlexID tolerates ids written as either a JSON string or a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// ParseActionConfig decodes the raw column. A NULL or malformed column decodes
// to an empty config, which disables every branch.
func ParseActionConfig(raw []byte) ActionConfig {
	var cfg ActionConfig
	if len(raw) == 0 {
		return cfg
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ActionConfig{}
	}
	return cfg
}

// ConnectedCard returns the first connected card of the given type.
func (c ActionConfig) ConnectedCard(t ActionType) (ActionCard, bool) {
	for _, card := range c.Actions {
		ct, ok := card.Type()
		if !ok || ct != t {
			continue
		}
		if card.IsConnected {
			return card, true
		}
	}
	return ActionCard{}, false
}

// GmailTriggerConfig holds the poller's per-webhook search filters.
type GmailTriggerConfig struct {
	Label             string   `json:"label,omitempty"`
	From              string   `json:"from,omitempty"`
	Subject           string   `json:"subject,omitempty"`
	BodyKeyword       string   `json:"bodyKeyword,omitempty"`
	HasAttachment     bool     `json:"hasAttachment,omitempty"`
	Starred           bool     `json:"starred,omitempty"`
	Important         bool     `json:"important,omitempty"`
	ExcludeCategories []string `json:"excludeCategories,omitempty"`
	After             string   `json:"after,omitempty"`  // YYYY/MM/DD
	Before            string   `json:"before,omitempty"` // YYYY/MM/DD
	MaxResults        int      `json:"maxResults,omitempty"`
}

// ParseGmailTriggerConfig decodes the trigger column; malformed JSON yields the
// zero config, which matches unread mail only.
func ParseGmailTriggerConfig(raw []byte) GmailTriggerConfig {
	var cfg GmailTriggerConfig
	if len(raw) == 0 {
		return cfg
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GmailTriggerConfig{}
	}
	return cfg
}
