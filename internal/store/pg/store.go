package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hookrelay/internal/domain"
	"hookrelay/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const retryAttempts = 3

// retry re-runs an operation on transient connection errors with exponential
// backoff. Only errors pgx marks safe to retry are retried; everything else
// surfaces immediately.
func (s *Store) retry(ctx context.Context, op func() error) error {
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = op()
		if err == nil || !pgconn.SafeToRetry(err) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 3
	}
	return err
}

const webhookCols = `id, webhook_id, user_id, trigger_type, is_active, status,
	COALESCE(action_config, 'null'::jsonb), COALESCE(trigger_config, 'null'::jsonb), COALESCE(url,''), created_at`

func (s *Store) scanWebhook(row pgx.Row) (domain.Webhook, bool, error) {
	var w domain.Webhook
	var trigger string
	err := row.Scan(&w.ID, &w.WebhookID, &w.UserID, &trigger, &w.IsActive, &w.Status,
		&w.ActionConfig, &w.TriggerConfig, &w.URL, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Webhook{}, false, nil
		}
		return domain.Webhook{}, false, err
	}
	w.TriggerType = domain.TriggerType(trigger)
	return w, true, nil
}

func (s *Store) FindWebhookByToken(ctx context.Context, token string) (domain.Webhook, bool, error) {
	var w domain.Webhook
	var found bool
	err := s.retry(ctx, func() error {
		var err error
		w, found, err = s.scanWebhook(s.DB.QueryRow(ctx, `
			SELECT `+webhookCols+` FROM webhooks WHERE webhook_id=$1
		`, token))
		return err
	})
	return w, found, err
}

func (s *Store) FindWebhookByID(ctx context.Context, id string) (domain.Webhook, bool, error) {
	var w domain.Webhook
	var found bool
	err := s.retry(ctx, func() error {
		var err error
		w, found, err = s.scanWebhook(s.DB.QueryRow(ctx, `
			SELECT `+webhookCols+` FROM webhooks WHERE id=$1
		`, id))
		return err
	})
	return w, found, err
}

func (s *Store) InsertSubWebhook(ctx context.Context, in store.SubWebhookInsert) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO webhooks (id, webhook_id, user_id, trigger_type, is_active, status, list_id, url, created_at)
			VALUES ($1,$2,$3,'list-storage',true,'active',$4,$5,$6)
			ON CONFLICT (webhook_id) DO NOTHING
		`, in.ID, in.WebhookID, in.UserID, in.ListID, in.URL, in.Now)
		return err
	})
}

func (s *Store) InsertWebhookData(ctx context.Context, in store.PayloadInsert) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO webhook_data (id, webhook_id, payload, processed, created_at, updated_at)
			VALUES ($1,$2,$3,false,$4,$4)
		`, in.ID, in.WebhookID, in.Payload, in.Now)
		return err
	})
}

func (s *Store) MarkWebhookDataProcessed(ctx context.Context, id string, now time.Time) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			UPDATE webhook_data SET processed=true, updated_at=$2 WHERE id=$1
		`, id, now)
		return err
	})
}

func (s *Store) ListWebhookData(ctx context.Context, webhookID string, limit, offset int) ([]domain.WebhookData, error) {
	var out []domain.WebhookData
	err := s.retry(ctx, func() error {
		rows, err := s.DB.Query(ctx, `
			SELECT id, webhook_id, payload, processed, created_at, updated_at
			FROM webhook_data WHERE webhook_id=$1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, webhookID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var d domain.WebhookData
			if err := rows.Scan(&d.ID, &d.WebhookID, &d.Payload, &d.Processed, &d.CreatedAt, &d.UpdatedAt); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) CountWebhookData(ctx context.Context, webhookID string) (int, error) {
	var n int
	err := s.retry(ctx, func() error {
		return s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_data WHERE webhook_id=$1`, webhookID).Scan(&n)
	})
	return n, err
}

const contactCols = `id, user_id, COALESCE(list_id,''), COALESCE(full_name,''), COALESCE(email,''),
	COALESCE(phone_number,''), COALESCE(company,''), COALESCE(source,''), created_at, updated_at`

func scanContact(row pgx.Row) (domain.Contact, bool, error) {
	var c domain.Contact
	err := row.Scan(&c.ID, &c.UserID, &c.ListID, &c.FullName, &c.Email,
		&c.Phone, &c.Company, &c.Source, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contact{}, false, nil
		}
		return domain.Contact{}, false, err
	}
	return c, true, nil
}

func (s *Store) FindContactByUser(ctx context.Context, email, userID string) (domain.Contact, bool, error) {
	var c domain.Contact
	var found bool
	err := s.retry(ctx, func() error {
		var err error
		c, found, err = scanContact(s.DB.QueryRow(ctx, `
			SELECT `+contactCols+` FROM contacts WHERE email=$1 AND user_id=$2
		`, email, userID))
		return err
	})
	return c, found, err
}

func (s *Store) FindContactByList(ctx context.Context, email, listID string) (domain.Contact, bool, error) {
	var c domain.Contact
	var found bool
	err := s.retry(ctx, func() error {
		var err error
		c, found, err = scanContact(s.DB.QueryRow(ctx, `
			SELECT `+contactCols+` FROM contacts WHERE email=$1 AND list_id=$2
		`, email, listID))
		return err
	})
	return c, found, err
}

// InsertContact reports whether a row was written. The contact identity
// indexes are the backstop for concurrent deliveries of the same lead: a
// loser of that race gets inserted=false and no error, and decides itself
// whether to merge or skip.
func (s *Store) InsertContact(ctx context.Context, in store.ContactInsert) (bool, error) {
	var inserted bool
	err := s.retry(ctx, func() error {
		tag, err := s.DB.Exec(ctx, `
			INSERT INTO contacts (id, user_id, list_id, full_name, email, phone_number, company, source, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
			ON CONFLICT DO NOTHING
		`, in.ID, in.UserID, nullIfEmpty(in.ListID), nullIfEmpty(in.FullName), nullIfEmpty(in.Email),
			nullIfEmpty(in.Phone), nullIfEmpty(in.Company), nullIfEmpty(in.Source), in.Now)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() > 0
		return nil
	})
	return inserted, err
}

// UpdateContactMerge never overwrites a stored value with an empty one.
func (s *Store) UpdateContactMerge(ctx context.Context, in store.ContactUpdate) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			UPDATE contacts SET
				full_name   = COALESCE(NULLIF($2,''), full_name),
				phone_number= COALESCE(NULLIF($3,''), phone_number),
				company     = COALESCE(NULLIF($4,''), company),
				source      = COALESCE(NULLIF($5,''), source),
				updated_at  = $6
			WHERE id=$1
		`, in.ID, in.FullName, in.Phone, in.Company, in.Source, in.Now)
		return err
	})
}

func (s *Store) DefaultListForUser(ctx context.Context, userID string) (domain.List, bool, error) {
	var l domain.List
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `
			SELECT id, user_id, name, contact_count FROM lists
			WHERE user_id=$1 ORDER BY created_at ASC LIMIT 1
		`, userID).Scan(&l.ID, &l.UserID, &l.Name, &l.ContactCount)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return l, found, err
}

func (s *Store) InsertList(ctx context.Context, in store.ListInsert) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO lists (id, user_id, name, contact_count, created_at, updated_at)
			VALUES ($1,$2,$3,0,$4,$4)
		`, in.ID, in.UserID, in.Name, in.Now)
		return err
	})
}

func (s *Store) IncrementListContactCount(ctx context.Context, listID string) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			UPDATE lists SET contact_count = contact_count + 1, updated_at=now() WHERE id=$1
		`, listID)
		return err
	})
}

// LatestPhoneNumberID prefers the owner's most recently created stored number
// over any statically configured default.
func (s *Store) LatestPhoneNumberID(ctx context.Context, userID string) (string, bool, error) {
	var id string
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `
			SELECT id FROM phone_numbers WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1
		`, userID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return id, found, err
}

func (s *Store) LatestAssistantID(ctx context.Context, userID string) (string, bool, error) {
	var id string
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `
			SELECT id FROM assistants WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1
		`, userID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return id, found, err
}

func (s *Store) UserEmail(ctx context.Context, userID string) (string, bool, error) {
	var email string
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `SELECT email FROM users WHERE id=$1`, userID).Scan(&email)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return email, found, err
}

// GmailToken returns the user's OAuth access token. Each caller builds its own
// short-lived client from it; tokens are never cached process-wide.
func (s *Store) GmailToken(ctx context.Context, userID string) (string, bool, error) {
	var token string
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `
			SELECT COALESCE(gmail_access_token,'') FROM users WHERE id=$1
		`, userID).Scan(&token)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err == nil {
			found = token != ""
		}
		return err
	})
	return token, found, err
}

// GmailWebhooks returns every gmail-trigger webhook; the caller applies the
// activity rule, which lives in one place on domain.Webhook.
func (s *Store) GmailWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	return s.gmailWebhooks(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE trigger_type='gmail'`)
}

func (s *Store) GmailWebhooksForEmail(ctx context.Context, email string) ([]domain.Webhook, error) {
	return s.gmailWebhooks(ctx, `
		SELECT `+whPrefixedCols+` FROM webhooks w
		JOIN users u ON u.id = w.user_id
		WHERE w.trigger_type='gmail' AND u.email=$1
	`, email)
}

const whPrefixedCols = `w.id, w.webhook_id, w.user_id, w.trigger_type, w.is_active, w.status,
	COALESCE(w.action_config, 'null'::jsonb), COALESCE(w.trigger_config, 'null'::jsonb), COALESCE(w.url,''), w.created_at`

func (s *Store) gmailWebhooks(ctx context.Context, query string, args ...any) ([]domain.Webhook, error) {
	var out []domain.Webhook
	err := s.retry(ctx, func() error {
		rows, err := s.DB.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var w domain.Webhook
			var trigger string
			if err := rows.Scan(&w.ID, &w.WebhookID, &w.UserID, &trigger, &w.IsActive, &w.Status,
				&w.ActionConfig, &w.TriggerConfig, &w.URL, &w.CreatedAt); err != nil {
				return err
			}
			w.TriggerType = domain.TriggerType(trigger)
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) HasTriggeredMessage(ctx context.Context, key store.TriggeredKey) (bool, error) {
	var one int
	var found bool
	err := s.retry(ctx, func() error {
		err := s.DB.QueryRow(ctx, `
			SELECT 1 FROM gmail_triggered WHERE user_id=$1 AND message_id=$2 AND webhook_id=$3
		`, key.UserID, key.MessageID, key.WebhookID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	return found, err
}

func (s *Store) InsertTriggeredMessage(ctx context.Context, key store.TriggeredKey, now time.Time) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO gmail_triggered (user_id, message_id, webhook_id, created_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (user_id, message_id, webhook_id) DO NOTHING
		`, key.UserID, key.MessageID, key.WebhookID, now)
		return err
	})
}

func (s *Store) InsertGmailMessage(ctx context.Context, in store.GmailMessageInsert) error {
	return s.retry(ctx, func() error {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO gmail_messages (user_id, webhook_id, message_id, from_addr, to_addr, subject, snippet, body, headers, has_attachments, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (user_id, message_id) DO NOTHING
		`, in.UserID, in.WebhookID, in.MessageID, nullIfEmpty(in.FromAddr), nullIfEmpty(in.ToAddr),
			nullIfEmpty(in.Subject), nullIfEmpty(in.Snippet), nullIfEmpty(in.Body), in.Headers, in.HasAttachments, in.Now)
		return err
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
