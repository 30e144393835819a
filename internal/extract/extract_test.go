package extract

import "testing"

func TestExtractPreferredKeys(t *testing.T) {
	payload := map[string]any{
		"email":   "a@example.com",
		"Email":   "shadowed@example.com",
		"name":    "Ada",
		"phone":   "+15551234567",
		"company": "Acme",
		"message": "hello",
	}
	f := Extract(payload)
	if f.Email != "a@example.com" {
		t.Fatalf("expected lowercase email to win, got %q", f.Email)
	}
	if f.Name != "Ada" || f.Phone != "+15551234567" || f.Company != "Acme" || f.Message != "hello" {
		t.Fatalf("unexpected fields: %+v", f)
	}
	// The shadowed spelling was not claimed and must survive as a custom field.
	if f.Custom["custom_Email"] != "shadowed@example.com" {
		t.Fatalf("expected unclaimed key preserved, got %v", f.Custom)
	}
}

func TestExtractAlternateSpellings(t *testing.T) {
	f := Extract(map[string]any{
		"emailAddress": "b@example.com",
		"full_name":    "Grace Hopper",
		"mobile":       "5550001111",
		"organization": "Navy",
		"comments":     "ping",
	})
	if f.Email != "b@example.com" || f.Name != "Grace Hopper" || f.Phone != "5550001111" {
		t.Fatalf("unexpected fields: %+v", f)
	}
	if f.Company != "Navy" || f.Message != "ping" {
		t.Fatalf("unexpected fields: %+v", f)
	}
}

func TestExtractTypeMismatchDegrades(t *testing.T) {
	f := Extract(map[string]any{
		"email": map[string]any{"nested": true},
		"name":  42.0,
	})
	if f.Email != "" {
		t.Fatalf("expected object-valued email treated as absent, got %q", f.Email)
	}
	if f.Name != "42" {
		t.Fatalf("expected numeric name stringified, got %q", f.Name)
	}
}

func TestExtractCustomPassthroughSorted(t *testing.T) {
	f := Extract(map[string]any{
		"zeta":  "z",
		"alpha": "a",
		"email": "c@example.com",
	})
	if len(f.Custom) != 2 {
		t.Fatalf("expected 2 custom fields, got %v", f.Custom)
	}
	if f.Custom["custom_alpha"] != "a" || f.Custom["custom_zeta"] != "z" {
		t.Fatalf("unexpected custom map: %v", f.Custom)
	}
}

func TestExtractDeterministic(t *testing.T) {
	payload := map[string]any{"name": "x", "a": "1", "b": "2", "c": true, "d": 3.5}
	first := Extract(payload)
	for i := 0; i < 10; i++ {
		again := Extract(payload)
		if again.Name != first.Name || len(again.Custom) != len(first.Custom) {
			t.Fatalf("extraction not deterministic: %+v vs %+v", first, again)
		}
		for k, v := range first.Custom {
			if again.Custom[k] != v {
				t.Fatalf("custom field %q changed: %q vs %q", k, v, again.Custom[k])
			}
		}
	}
}

func TestExtractEmpty(t *testing.T) {
	f := Extract(map[string]any{})
	if !f.Empty() {
		t.Fatalf("expected empty fields, got %+v", f)
	}
}
