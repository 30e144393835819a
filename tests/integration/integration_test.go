//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hookrelay/internal/service"
	"hookrelay/internal/store"
	"hookrelay/internal/store/pg"
	"hookrelay/internal/util"
)

func newIngest(st *pg.Store) *service.Ingest {
	contacts := &service.Contacts{Store: st, Source: "webhook"}
	return &service.Ingest{
		Registry: &service.Registry{Store: st},
		Store:    st,
		Contacts: contacts,
		Dispatcher: &service.Dispatcher{
			Store:    st,
			Contacts: contacts,
			Defaults: service.DispatchDefaults{CountryCode: "1"},
		},
		IDGen: util.NewPayloadID,
	}
}

func TestCaptureStoresPayloadAndContact(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedWebhook(t, db, "wh-1", "tok-1", "u1", nil)

	svc := newIngest(st)
	payload := map[string]any{"email": "lead@example.com", "name": "Ada", "phone": "555-123-4567"}

	res, err := svc.Capture(ctx, "tok-1", payload, nil)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if res.WebhookID != "tok-1" {
		t.Fatalf("result webhook id = %q", res.WebhookID)
	}

	var stored int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM webhook_data WHERE webhook_id = 'wh-1'`).Scan(&stored); err != nil {
		t.Fatalf("count payloads: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected 1 payload row, got %d", stored)
	}

	var fullName, phone, listID string
	err = db.QueryRow(ctx, `
		SELECT full_name, phone_number, list_id FROM contacts
		WHERE email = 'lead@example.com' AND user_id = 'u1'
	`).Scan(&fullName, &phone, &listID)
	if err != nil {
		t.Fatalf("select contact: %v", err)
	}
	if fullName != "Ada" || phone != "555-123-4567" {
		t.Fatalf("contact = %q / %q", fullName, phone)
	}

	var listName string
	if err := db.QueryRow(ctx, `SELECT name FROM lists WHERE id = $1`, listID).Scan(&listName); err != nil {
		t.Fatalf("select list: %v", err)
	}
	if listName != "My Contacts" {
		t.Fatalf("default list name = %q", listName)
	}
}

func TestCaptureMergesExistingContact(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedWebhook(t, db, "wh-1", "tok-1", "u1", nil)

	svc := newIngest(st)
	if _, err := svc.Capture(ctx, "tok-1", map[string]any{"email": "lead@example.com", "name": "Ada"}, nil); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if _, err := svc.Capture(ctx, "tok-1", map[string]any{"email": "lead@example.com", "company": "Acme"}, nil); err != nil {
		t.Fatalf("second capture: %v", err)
	}

	var count int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE email = 'lead@example.com'`).Scan(&count); err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected contact merge, got %d rows", count)
	}

	var fullName, company string
	err := db.QueryRow(ctx, `SELECT full_name, company FROM contacts WHERE email = 'lead@example.com'`).Scan(&fullName, &company)
	if err != nil {
		t.Fatalf("select contact: %v", err)
	}
	if fullName != "Ada" || company != "Acme" {
		t.Fatalf("merge kept %q / filled %q", fullName, company)
	}
}

func TestInactiveWebhookLooksMissing(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	inactive := false
	seedWebhook(t, db, "wh-1", "tok-1", "u1", &inactive)

	svc := newIngest(st)
	_, err := svc.Capture(ctx, "tok-1", map[string]any{"email": "lead@example.com"}, nil)
	if !errors.Is(err, service.ErrWebhookNotFound) {
		t.Fatalf("expected not-found for inactive webhook, got %v", err)
	}

	var stored int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM webhook_data`).Scan(&stored); err != nil {
		t.Fatalf("count payloads: %v", err)
	}
	if stored != 0 {
		t.Fatalf("rejected capture must not store a payload, got %d", stored)
	}
}

func TestListCardCreatesSubWebhookAndListContact(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedList(t, db, "list-1", "u1", "Leads")

	actionConfig := `{"actions":[{"selectedApp":{"id":"lists","name":"Lists"},"isConnected":true,"selectedListId":"list-1"}]}`
	seedWebhookWithConfig(t, db, "wh-1", "tok-1", "u1", actionConfig)

	svc := newIngest(st)
	payload := map[string]any{"email": "lead@example.com", "name": "Ada"}

	if _, err := svc.Capture(ctx, "tok-1", payload, nil); err != nil {
		t.Fatalf("capture: %v", err)
	}

	var subID string
	err := db.QueryRow(ctx, `SELECT id FROM webhooks WHERE webhook_id = 'tok-1_list_list-1'`).Scan(&subID)
	if err != nil {
		t.Fatalf("sub-webhook missing: %v", err)
	}

	var contactRows int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE email = 'lead@example.com'`).Scan(&contactRows); err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if contactRows != 1 {
		t.Fatalf("list card must store exactly one contact row, got %d", contactRows)
	}

	var listID string
	if err := db.QueryRow(ctx, `SELECT list_id FROM contacts WHERE email = 'lead@example.com'`).Scan(&listID); err != nil {
		t.Fatalf("select contact list: %v", err)
	}
	if listID != "list-1" {
		t.Fatalf("contact attached to %q, want list-1", listID)
	}

	var count int
	if err := db.QueryRow(ctx, `SELECT contact_count FROM lists WHERE id = 'list-1'`).Scan(&count); err != nil {
		t.Fatalf("select list count: %v", err)
	}
	if count != 1 {
		t.Fatalf("contact_count = %d, want 1", count)
	}

	// Same lead again: insert-only scope, counter must not move.
	if _, err := svc.Capture(ctx, "tok-1", payload, nil); err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if err := db.QueryRow(ctx, `SELECT contact_count FROM lists WHERE id = 'list-1'`).Scan(&count); err != nil {
		t.Fatalf("select list count: %v", err)
	}
	if count != 1 {
		t.Fatalf("duplicate lead bumped contact_count to %d", count)
	}
}

func TestListStorageDelivery(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedList(t, db, "list-1", "u1", "Leads")
	seedWebhook(t, db, "wh-1", "tok-1", "u1", nil)

	svc := newIngest(st)
	err := svc.ListStorage(ctx, "tok-1_list_list-1", map[string]any{"email": "lead@example.com", "name": "Ada"}, nil)
	if err != nil {
		t.Fatalf("list storage: %v", err)
	}

	var processed bool
	err = db.QueryRow(ctx, `SELECT processed FROM webhook_data WHERE webhook_id = 'wh-1'`).Scan(&processed)
	if err != nil {
		t.Fatalf("select payload: %v", err)
	}
	if !processed {
		t.Fatalf("stored list contact must mark the payload processed")
	}

	var listID string
	if err := db.QueryRow(ctx, `SELECT list_id FROM contacts WHERE email = 'lead@example.com'`).Scan(&listID); err != nil {
		t.Fatalf("select contact: %v", err)
	}
	if listID != "list-1" {
		t.Fatalf("contact attached to %q, want list-1", listID)
	}
}

func TestHistoryPaging(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedWebhook(t, db, "wh-1", "tok-1", "u1", nil)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := st.InsertWebhookData(ctx, store.PayloadInsert{
			ID:        fmt.Sprintf("pl-%d", i),
			WebhookID: "wh-1",
			Payload:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Now:       base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert payload %d: %v", i, err)
		}
	}

	svc := newIngest(st)
	page, err := svc.History(ctx, "tok-1", 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 {
		t.Fatalf("page total=%d items=%d, want 5/2", page.Total, len(page.Items))
	}
	// Newest first.
	if page.Items[0].ID != "pl-4" || page.Items[1].ID != "pl-3" {
		t.Fatalf("unexpected order: %s, %s", page.Items[0].ID, page.Items[1].ID)
	}

	page3, err := svc.History(ctx, "tok-1", 3, 2)
	if err != nil {
		t.Fatalf("history page 3: %v", err)
	}
	if len(page3.Items) != 1 || page3.Items[0].ID != "pl-0" {
		t.Fatalf("last page wrong: %+v", page3.Items)
	}
}

func TestContactIdentityIndexBackstop(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	seedUser(t, db, "u1", "owner@example.com")
	seedList(t, db, "list-1", "u1", "Leads")

	insert := func(id string) bool {
		t.Helper()
		inserted, err := st.InsertContact(ctx, store.ContactInsert{
			ID: id, UserID: "u1", ListID: "list-1",
			Email: "lead@example.com", FullName: "Ada",
			Now: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		return inserted
	}

	// Two interleaved deliveries of the same lead: the index, not the lookup,
	// decides the winner.
	if !insert("ct-1") {
		t.Fatalf("first insert must win")
	}
	if insert("ct-2") {
		t.Fatalf("second insert of the same (list, email) must be rejected")
	}

	var rows int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE email = 'lead@example.com'`).Scan(&rows); err != nil {
		t.Fatalf("count contacts: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected a single row, got %d", rows)
	}

	// Phone-only rows carry no identity email and stay insertable.
	for _, id := range []string{"ct-3", "ct-4"} {
		inserted, err := st.InsertContact(ctx, store.ContactInsert{
			ID: id, UserID: "u1", ListID: "list-1",
			Phone: "+15551234567",
			Now:   time.Now().UTC(),
		})
		if err != nil || !inserted {
			t.Fatalf("phone-only insert %s: inserted=%v err=%v", id, inserted, err)
		}
	}
}

func TestGmailTriggeredDedupSurvivesConflict(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	key := store.TriggeredKey{UserID: "u1", MessageID: "m1", WebhookID: "tok-1"}

	seen, err := st.HasTriggeredMessage(ctx, key)
	if err != nil || seen {
		t.Fatalf("fresh key: seen=%v err=%v", seen, err)
	}
	if err := st.InsertTriggeredMessage(ctx, key, time.Now().UTC()); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Concurrent sweeps race on the same triple; the second write is a no-op.
	if err := st.InsertTriggeredMessage(ctx, key, time.Now().UTC()); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	seen, err = st.HasTriggeredMessage(ctx, key)
	if err != nil || !seen {
		t.Fatalf("recorded key: seen=%v err=%v", seen, err)
	}
}

func seedUser(t *testing.T, db *pgxpool.Pool, id, email string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func seedWebhook(t *testing.T, db *pgxpool.Pool, id, token, userID string, active *bool) {
	t.Helper()
	isActive := true
	if active != nil {
		isActive = *active
	}
	_, err := db.Exec(context.Background(), `
		INSERT INTO webhooks (id, webhook_id, user_id, trigger_type, is_active)
		VALUES ($1, $2, $3, 'generic', $4)
	`, id, token, userID, isActive)
	if err != nil {
		t.Fatalf("insert webhook: %v", err)
	}
}

func seedWebhookWithConfig(t *testing.T, db *pgxpool.Pool, id, token, userID, actionConfig string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO webhooks (id, webhook_id, user_id, trigger_type, is_active, action_config)
		VALUES ($1, $2, $3, 'generic', true, $4::jsonb)
	`, id, token, userID, actionConfig)
	if err != nil {
		t.Fatalf("insert webhook: %v", err)
	}
}

func seedList(t *testing.T, db *pgxpool.Pool, id, userID, name string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO lists (id, user_id, name, contact_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, now(), now())
	`, id, userID, name)
	if err != nil {
		t.Fatalf("insert list: %v", err)
	}
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(context.Background(), "CREATE SCHEMA "+schema)
	if err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}

	db, err := pgxpool.New(context.Background(), dbDSN)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	sqlPath := filepath.Join("..", "..", "migrations", "001_init.sql")
	sqlBytes, err := os.ReadFile(sqlPath)
	if err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("read migrations: %v", err)
	}

	if _, err := db.Exec(context.Background(), string(sqlBytes)); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}

	return db, cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
