package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewPayloadID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return "whd_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewContactID() string {
	t := time.Now().UTC()
	return "ct_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewWebhookID() string {
	t := time.Now().UTC()
	return "wh_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewListID() string {
	t := time.Now().UTC()
	return "list_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
