// Package poller sweeps Gmail inboxes for webhooks with a gmail trigger and
// feeds matching messages through the same action dispatch as HTTP captures.
// Sweeps run on a fixed interval; push notifications narrow the next sweep to
// a single mailbox via PollEmail.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"hookrelay/internal/domain"
	"hookrelay/internal/extract"
	"hookrelay/internal/observability"
	"hookrelay/internal/providers/gmailer"
	"hookrelay/internal/service"
	"hookrelay/internal/store"
)

type Store interface {
	GmailWebhooks(ctx context.Context) ([]domain.Webhook, error)
	GmailWebhooksForEmail(ctx context.Context, email string) ([]domain.Webhook, error)
	GmailToken(ctx context.Context, userID string) (string, bool, error)
	HasTriggeredMessage(ctx context.Context, key store.TriggeredKey) (bool, error)
	InsertTriggeredMessage(ctx context.Context, key store.TriggeredKey, now time.Time) error
	InsertGmailMessage(ctx context.Context, in store.GmailMessageInsert) error
	InsertWebhookData(ctx context.Context, in store.PayloadInsert) error
}

// Mailbox is the read side of one user's Gmail account.
type Mailbox interface {
	ListMessages(ctx context.Context, query string, max int) ([]gmailer.MessageRef, error)
	GetMessage(ctx context.Context, id string) (gmailer.Message, error)
}

// MailboxOpener builds a Mailbox from a user's OAuth token.
// gmailer.Client.User satisfies it.
type MailboxOpener func(token string) Mailbox

type Poller struct {
	Store      Store
	Open       MailboxOpener
	Dispatcher *service.Dispatcher
	IDGen      func() string

	Interval   time.Duration // sweep period, default 2m
	MaxResults int           // per-webhook list cap, default 25
}

const (
	defaultInterval   = 2 * time.Minute
	defaultMaxResults = 25
)

// Start runs one sweep immediately, then sweeps on every tick until the
// context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll sweeps every active gmail-trigger webhook. Failures are per-webhook;
// one broken mailbox never stops the sweep.
func (p *Poller) PollAll(ctx context.Context) {
	observability.PollRuns.Inc()
	whs, err := p.Store.GmailWebhooks(ctx)
	if err != nil {
		slog.Error("gmail poll: load webhooks", "error", err)
		return
	}
	p.pollWebhooks(ctx, whs)
}

// PollEmail sweeps only the webhooks owned by the given mailbox address. The
// push-notification consumer calls this so a notification converges on the
// same path as the periodic sweep.
func (p *Poller) PollEmail(ctx context.Context, email string) error {
	whs, err := p.Store.GmailWebhooksForEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load webhooks for %s: %w", email, err)
	}
	if len(whs) == 0 {
		slog.Info("gmail poll: no active webhooks for mailbox", "email", email)
		return nil
	}
	p.pollWebhooks(ctx, whs)
	return nil
}

func (p *Poller) pollWebhooks(ctx context.Context, whs []domain.Webhook) {
	for _, wh := range whs {
		if !wh.Active() {
			continue
		}
		if err := p.pollWebhook(ctx, wh); err != nil {
			slog.Error("gmail poll: webhook sweep failed", "webhook_id", wh.WebhookID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Poller) pollWebhook(ctx context.Context, wh domain.Webhook) error {
	token, found, err := p.Store.GmailToken(ctx, wh.UserID)
	if err != nil {
		return fmt.Errorf("gmail token: %w", err)
	}
	if !found || token == "" {
		slog.Info("gmail poll: no token, skipping", "webhook_id", wh.WebhookID, "user_id", wh.UserID)
		return nil
	}

	cfg := domain.ParseGmailTriggerConfig(wh.TriggerConfig)
	query := BuildQuery(cfg)
	max := cfg.MaxResults
	if max <= 0 || max > p.maxResults() {
		max = p.maxResults()
	}

	mb := p.Open(token)
	refs, err := mb.ListMessages(ctx, query, max)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, ref := range refs {
		key := store.TriggeredKey{UserID: wh.UserID, MessageID: ref.ID, WebhookID: wh.WebhookID}
		seen, err := p.Store.HasTriggeredMessage(ctx, key)
		if err != nil {
			slog.Error("gmail poll: de-dup check failed", "message_id", ref.ID, "error", err)
			observability.PollMessages.WithLabelValues("error").Inc()
			continue
		}
		if seen {
			observability.PollMessages.WithLabelValues("duplicate").Inc()
			continue
		}
		if err := p.processMessage(ctx, wh, mb, ref.ID); err != nil {
			slog.Error("gmail poll: message failed", "webhook_id", wh.WebhookID, "message_id", ref.ID, "error", err)
			observability.PollMessages.WithLabelValues("error").Inc()
			continue
		}
		observability.PollMessages.WithLabelValues("triggered").Inc()
	}
	return nil
}

func (p *Poller) processMessage(ctx context.Context, wh domain.Webhook, mb Mailbox, msgID string) error {
	msg, err := mb.GetMessage(ctx, msgID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	fromName, fromAddr := splitAddress(msg.HeaderValue("From"))
	body := msg.PlainBody()
	now := time.Now().UTC()

	headers, _ := json.Marshal(msg.Payload.Headers)
	if err := p.Store.InsertGmailMessage(ctx, store.GmailMessageInsert{
		UserID:         wh.UserID,
		WebhookID:      wh.WebhookID,
		MessageID:      msgID,
		FromAddr:       fromAddr,
		ToAddr:         msg.HeaderValue("To"),
		Subject:        msg.HeaderValue("Subject"),
		Snippet:        msg.Snippet,
		Body:           body,
		Headers:        headers,
		HasAttachments: msg.HasAttachments(),
		Now:            now,
	}); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	// Record the triple before dispatching so a crash mid-dispatch cannot
	// re-fire the message on the next sweep.
	key := store.TriggeredKey{UserID: wh.UserID, MessageID: msgID, WebhookID: wh.WebhookID}
	if err := p.Store.InsertTriggeredMessage(ctx, key, now); err != nil {
		return fmt.Errorf("record trigger: %w", err)
	}

	payload := map[string]any{
		"name":       fromName,
		"email":      fromAddr,
		"subject":    msg.HeaderValue("Subject"),
		"message":    body,
		"messageId":  msgID,
		"snippet":    msg.Snippet,
		"source":     "gmail",
		"receivedAt": now.Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	payloadID := p.IDGen()
	if err := p.Store.InsertWebhookData(ctx, store.PayloadInsert{
		ID:        payloadID,
		WebhookID: wh.ID,
		Payload:   raw,
		Now:       now,
	}); err != nil {
		return fmt.Errorf("store payload: %w", err)
	}

	fields := extract.Extract(payload)
	outcomes := p.Dispatcher.Dispatch(ctx, wh, payloadID, payload, fields)
	for _, o := range outcomes {
		if o.Err != "" {
			slog.Warn("gmail poll: action failed", "webhook_id", wh.WebhookID, "branch", o.Branch, "error", o.Err)
		}
	}
	return nil
}

func (p *Poller) maxResults() int {
	if p.MaxResults > 0 {
		return p.MaxResults
	}
	return defaultMaxResults
}

// splitAddress parses an RFC 5322 From header into display name and address.
// Unparseable headers fall back to the raw value as the address.
func splitAddress(raw string) (name, addr string) {
	if raw == "" {
		return "", ""
	}
	a, err := mail.ParseAddress(raw)
	if err != nil {
		return "", raw
	}
	return a.Name, a.Address
}
