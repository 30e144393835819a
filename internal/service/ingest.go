package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hookrelay/internal/domain"
	"hookrelay/internal/extract"
	"hookrelay/internal/store"
	"hookrelay/internal/util"
)

var ErrBadListStorageID = errors.New("malformed list-storage webhook id")

type IngestStore interface {
	InsertWebhookData(ctx context.Context, in store.PayloadInsert) error
	ListWebhookData(ctx context.Context, webhookID string, limit, offset int) ([]domain.WebhookData, error)
	CountWebhookData(ctx context.Context, webhookID string) (int, error)
	MarkWebhookDataProcessed(ctx context.Context, id string, now time.Time) error
}

// Ingest ties the capture pipeline together: resolve, store, extract, upsert,
// dispatch. Acceptance is decided by resolve+store alone; everything after
// the store is best effort.
type Ingest struct {
	Registry   *Registry
	Store      IngestStore
	Contacts   *Contacts
	Dispatcher *Dispatcher
	IDGen      func() string
}

func (s *Ingest) Capture(ctx context.Context, token string, payload map[string]any, raw []byte) (domain.CaptureResult, error) {
	wh, err := s.Registry.Resolve(ctx, token)
	if err != nil {
		return domain.CaptureResult{}, err
	}

	id := s.IDGen()
	now := util.NowUTC()
	if len(raw) == 0 {
		raw, _ = json.Marshal(payload)
	}
	if err := s.Store.InsertWebhookData(ctx, store.PayloadInsert{
		ID: id, WebhookID: wh.ID, Payload: raw, Now: now,
	}); err != nil {
		return domain.CaptureResult{}, fmt.Errorf("payload store: %w", err)
	}

	fields := extract.Extract(payload)

	// Direct-scope contact storage runs only when no list card claims the
	// contact; otherwise the list branch owns storage and we'd double-write.
	cfg := domain.ParseActionConfig(wh.ActionConfig)
	if _, hasList := cfg.ConnectedCard(domain.ActionLists); !hasList {
		if err := s.Contacts.UpsertDirect(ctx, wh.UserID, fields); err != nil {
			slog.Error("direct contact upsert failed", "webhook_id", wh.WebhookID, "err", err)
		}
	}

	s.Dispatcher.Dispatch(ctx, wh, id, payload, fields)

	return domain.CaptureResult{
		ID:           id,
		WebhookID:    wh.WebhookID,
		CapturedData: payload,
		Timestamp:    now,
	}, nil
}

// ParseListStorageToken splits "<sourceWebhookId>_list_<listId>".
func ParseListStorageToken(token string) (sourceID, listID string, err error) {
	idx := strings.LastIndex(token, "_list_")
	if idx <= 0 || idx+len("_list_") >= len(token) {
		return "", "", ErrBadListStorageID
	}
	return token[:idx], token[idx+len("_list_"):], nil
}

// ListStorage handles deliveries addressed directly to a list-storage
// sub-webhook.
func (s *Ingest) ListStorage(ctx context.Context, token string, payload map[string]any, raw []byte) error {
	sourceID, listID, err := ParseListStorageToken(token)
	if err != nil {
		return err
	}
	wh, err := s.Registry.Resolve(ctx, sourceID)
	if err != nil {
		return err
	}

	id := s.IDGen()
	now := util.NowUTC()
	if len(raw) == 0 {
		raw, _ = json.Marshal(payload)
	}
	if err := s.Store.InsertWebhookData(ctx, store.PayloadInsert{
		ID: id, WebhookID: wh.ID, Payload: raw, Now: now,
	}); err != nil {
		return fmt.Errorf("payload store: %w", err)
	}

	fields := extract.Extract(payload)
	if fields.Email == "" && fields.Phone == "" {
		slog.Info("list-storage delivery without email or phone, skipping",
			"webhook_id", wh.WebhookID, "list_id", listID)
		return nil
	}
	if _, err := s.Contacts.UpsertListScope(ctx, wh.UserID, listID, fields); err != nil {
		// Contact storage is best effort relative to the 200 response.
		slog.Error("list-scope contact upsert failed", "webhook_id", wh.WebhookID, "list_id", listID, "err", err)
		return nil
	}
	if err := s.Store.MarkWebhookDataProcessed(ctx, id, util.NowUTC()); err != nil {
		slog.Warn("mark payload processed failed", "payload_id", id, "err", err)
	}
	return nil
}

type HistoryItem struct {
	ID        string         `json:"id"`
	WebhookID string         `json:"webhookId"`
	Data      map[string]any `json:"data"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"createdAt"`
}

type HistoryPage struct {
	Items []HistoryItem `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

func (s *Ingest) History(ctx context.Context, token string, page, limit int) (HistoryPage, error) {
	wh, err := s.Registry.Resolve(ctx, token)
	if err != nil {
		return HistoryPage{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.Store.ListWebhookData(ctx, wh.ID, limit, (page-1)*limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("history list: %w", err)
	}
	total, err := s.Store.CountWebhookData(ctx, wh.ID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("history count: %w", err)
	}

	items := make([]HistoryItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, HistoryItem{
			ID:        row.ID,
			WebhookID: wh.WebhookID,
			Data:      row.DecodedPayload(),
			Processed: row.Processed,
			CreatedAt: row.CreatedAt,
		})
	}
	return HistoryPage{Items: items, Page: page, Limit: limit, Total: total}, nil
}
