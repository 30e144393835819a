package store

import "time"

type PayloadInsert struct {
	ID        string
	WebhookID string
	Payload   []byte
	Now       time.Time
}

type ContactInsert struct {
	ID       string
	UserID   string
	ListID   string
	FullName string
	Email    string
	Phone    string
	Company  string
	Source   string
	Now      time.Time
}

// ContactUpdate carries merge-semantics updates: empty fields leave the stored
// value untouched.
type ContactUpdate struct {
	ID       string
	FullName string
	Phone    string
	Company  string
	Source   string
	Now      time.Time
}

type ListInsert struct {
	ID     string
	UserID string
	Name   string
	Now    time.Time
}

// SubWebhookInsert creates the list-storage sub-webhook attached to a source
// webhook, once per (source, list) pair.
type SubWebhookInsert struct {
	ID        string
	WebhookID string // "<sourceWebhookID>_list_<listID>" token
	UserID    string
	ListID    string
	URL       string
	Now       time.Time
}

// TriggeredKey is the poller's de-dup triple.
type TriggeredKey struct {
	UserID    string
	MessageID string
	WebhookID string
}

type GmailMessageInsert struct {
	UserID         string
	WebhookID      string
	MessageID      string
	FromAddr       string
	ToAddr         string
	Subject        string
	Snippet        string
	Body           string
	Headers        []byte
	HasAttachments bool
	Now            time.Time
}
