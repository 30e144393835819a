package sqsqueue

import (
	"encoding/base64"
	"testing"
)

func TestDecodePollTriggerNumericHistoryID(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"owner@example.com","historyId":12345}`))

	ev, err := DecodePollTrigger(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EmailAddress != "owner@example.com" {
		t.Errorf("email = %q", ev.EmailAddress)
	}
	if ev.HistoryID != "12345" {
		t.Errorf("historyId = %q, want 12345", ev.HistoryID)
	}
	if ev.ReceivedAt.IsZero() {
		t.Errorf("expected receivedAt to be stamped")
	}
}

func TestDecodePollTriggerStringHistoryID(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"owner@example.com","historyId":"987"}`))

	ev, err := DecodePollTrigger(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.HistoryID != "987" {
		t.Errorf("historyId = %q, want 987", ev.HistoryID)
	}
}

func TestDecodePollTriggerBadInput(t *testing.T) {
	if _, err := DecodePollTrigger("!!not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}

	data := base64.StdEncoding.EncodeToString([]byte(`not json`))
	if _, err := DecodePollTrigger(data); err == nil {
		t.Fatalf("expected error for invalid JSON body")
	}
}
