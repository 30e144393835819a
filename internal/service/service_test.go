package service

import (
	"context"
	"errors"
	"time"

	"hookrelay/internal/domain"
	"hookrelay/internal/providers/gmailer"
	"hookrelay/internal/providers/twilio"
	"hookrelay/internal/providers/vapi"
	"hookrelay/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func activeWebhook(id, token, userID string, actionConfig string) domain.Webhook {
	return domain.Webhook{
		ID:           id,
		WebhookID:    token,
		UserID:       userID,
		TriggerType:  domain.TriggerGeneric,
		IsActive:     boolPtr(true),
		ActionConfig: []byte(actionConfig),
		CreatedAt:    time.Now().UTC(),
	}
}

// fakeStore is an in-memory DispatchStore/IngestStore/RegistryStore.
type fakeStore struct {
	webhooksByToken map[string]domain.Webhook
	webhooksByID    map[string]domain.Webhook
	lookupErr       error

	contactsByUser   map[string]domain.Contact // email|userID
	contactsByList   map[string]domain.Contact // email|listID
	insertedContacts []store.ContactInsert
	mergedContacts   []store.ContactUpdate
	insertContactErr error

	// conflictNextInsert makes the next InsertContact behave like a lost
	// insert race: the identity index rejects the row and raceWinner becomes
	// visible as the row that got there first.
	conflictNextInsert bool
	raceWinner         domain.Contact

	defaultLists  map[string]domain.List // by userID
	insertedLists []store.ListInsert
	listCounts    map[string]int

	payloads         []store.PayloadInsert
	insertPayloadErr error
	processed        []string

	subWebhooks []store.SubWebhookInsert

	phoneNumberID string
	assistantID   string
	userEmail     string
	gmailToken    string

	history      []domain.WebhookData
	historyTotal int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		webhooksByToken: map[string]domain.Webhook{},
		webhooksByID:    map[string]domain.Webhook{},
		contactsByUser:  map[string]domain.Contact{},
		contactsByList:  map[string]domain.Contact{},
		defaultLists:    map[string]domain.List{},
		listCounts:      map[string]int{},
	}
}

func (f *fakeStore) FindWebhookByToken(_ context.Context, token string) (domain.Webhook, bool, error) {
	if f.lookupErr != nil {
		return domain.Webhook{}, false, f.lookupErr
	}
	w, ok := f.webhooksByToken[token]
	return w, ok, nil
}

func (f *fakeStore) FindWebhookByID(_ context.Context, id string) (domain.Webhook, bool, error) {
	if f.lookupErr != nil {
		return domain.Webhook{}, false, f.lookupErr
	}
	w, ok := f.webhooksByID[id]
	return w, ok, nil
}

func (f *fakeStore) InsertSubWebhook(_ context.Context, in store.SubWebhookInsert) error {
	f.subWebhooks = append(f.subWebhooks, in)
	f.webhooksByToken[in.WebhookID] = domain.Webhook{
		ID: in.ID, WebhookID: in.WebhookID, UserID: in.UserID,
		TriggerType: domain.TriggerListStorage, IsActive: boolPtr(true),
	}
	return nil
}

func (f *fakeStore) InsertWebhookData(_ context.Context, in store.PayloadInsert) error {
	if f.insertPayloadErr != nil {
		return f.insertPayloadErr
	}
	f.payloads = append(f.payloads, in)
	return nil
}

func (f *fakeStore) MarkWebhookDataProcessed(_ context.Context, id string, _ time.Time) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) ListWebhookData(_ context.Context, _ string, limit, offset int) ([]domain.WebhookData, error) {
	if offset >= len(f.history) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.history) {
		end = len(f.history)
	}
	return f.history[offset:end], nil
}

func (f *fakeStore) CountWebhookData(_ context.Context, _ string) (int, error) {
	if f.historyTotal > 0 {
		return f.historyTotal, nil
	}
	return len(f.history), nil
}

func (f *fakeStore) FindContactByUser(_ context.Context, email, userID string) (domain.Contact, bool, error) {
	c, ok := f.contactsByUser[email+"|"+userID]
	return c, ok, nil
}

func (f *fakeStore) FindContactByList(_ context.Context, email, listID string) (domain.Contact, bool, error) {
	c, ok := f.contactsByList[email+"|"+listID]
	return c, ok, nil
}

func (f *fakeStore) InsertContact(_ context.Context, in store.ContactInsert) (bool, error) {
	if f.insertContactErr != nil {
		return false, f.insertContactErr
	}
	if f.conflictNextInsert {
		f.conflictNextInsert = false
		f.contactsByUser[in.Email+"|"+in.UserID] = f.raceWinner
		if in.ListID != "" {
			f.contactsByList[in.Email+"|"+in.ListID] = f.raceWinner
		}
		return false, nil
	}
	f.insertedContacts = append(f.insertedContacts, in)
	c := domain.Contact{ID: in.ID, UserID: in.UserID, ListID: in.ListID, FullName: in.FullName, Email: in.Email, Phone: in.Phone}
	f.contactsByUser[in.Email+"|"+in.UserID] = c
	if in.ListID != "" {
		f.contactsByList[in.Email+"|"+in.ListID] = c
	}
	return true, nil
}

func (f *fakeStore) UpdateContactMerge(_ context.Context, in store.ContactUpdate) error {
	f.mergedContacts = append(f.mergedContacts, in)
	return nil
}

func (f *fakeStore) DefaultListForUser(_ context.Context, userID string) (domain.List, bool, error) {
	l, ok := f.defaultLists[userID]
	return l, ok, nil
}

func (f *fakeStore) InsertList(_ context.Context, in store.ListInsert) error {
	f.insertedLists = append(f.insertedLists, in)
	f.defaultLists[in.UserID] = domain.List{ID: in.ID, UserID: in.UserID, Name: in.Name}
	return nil
}

func (f *fakeStore) IncrementListContactCount(_ context.Context, listID string) error {
	f.listCounts[listID]++
	return nil
}

func (f *fakeStore) LatestPhoneNumberID(_ context.Context, _ string) (string, bool, error) {
	return f.phoneNumberID, f.phoneNumberID != "", nil
}

func (f *fakeStore) LatestAssistantID(_ context.Context, _ string) (string, bool, error) {
	return f.assistantID, f.assistantID != "", nil
}

func (f *fakeStore) UserEmail(_ context.Context, _ string) (string, bool, error) {
	return f.userEmail, f.userEmail != "", nil
}

func (f *fakeStore) GmailToken(_ context.Context, _ string) (string, bool, error) {
	return f.gmailToken, f.gmailToken != "", nil
}

// --- provider fakes --------------------------------------------------------

type fakeMail struct {
	sent []gmailer.SendRequest
	errs []error // popped per call; nil slice never errors
}

func (m *fakeMail) Send(_ context.Context, _ string, req gmailer.SendRequest) (gmailer.SendResult, error) {
	m.sent = append(m.sent, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return gmailer.SendResult{}, err
		}
	}
	return gmailer.SendResult{MessageID: "gm-1"}, nil
}

type fakeSMS struct {
	to   []string
	body []string
	err  error
}

func (s *fakeSMS) SendSMS(_ context.Context, to, body, _ string) (twilio.SendResponse, error) {
	s.to = append(s.to, to)
	s.body = append(s.body, body)
	if s.err != nil {
		return twilio.SendResponse{}, s.err
	}
	return twilio.SendResponse{Sid: "SM1"}, nil
}

type fakeVoice struct {
	validateErr error
	createErr   error
	panicOn     bool

	created  []vapi.CreateCampaignRequest
	statuses []string
}

func (v *fakeVoice) ValidatePhoneNumber(_ context.Context, _ string) error {
	if v.panicOn {
		panic("voice platform exploded")
	}
	return v.validateErr
}

func (v *fakeVoice) CreateCampaign(_ context.Context, req vapi.CreateCampaignRequest) (vapi.Campaign, error) {
	v.created = append(v.created, req)
	if v.createErr != nil {
		return vapi.Campaign{}, v.createErr
	}
	return vapi.Campaign{ID: "cmp-1", Status: vapi.StatusScheduled}, nil
}

func (v *fakeVoice) SetCampaignStatus(_ context.Context, _, status string) error {
	v.statuses = append(v.statuses, status)
	return nil
}

var errBoom = errors.New("boom")
