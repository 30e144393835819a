package service

import (
	"context"
	"errors"
	"fmt"

	"hookrelay/internal/domain"
)

// ErrWebhookNotFound covers both "no such webhook" and "webhook disabled";
// callers must not be able to tell the two apart.
var ErrWebhookNotFound = errors.New("webhook not found")

type RegistryStore interface {
	FindWebhookByToken(ctx context.Context, token string) (domain.Webhook, bool, error)
	FindWebhookByID(ctx context.Context, id string) (domain.Webhook, bool, error)
}

// Registry resolves an inbound path token to a webhook definition. Lookup
// strategies are tried in order because older rows only carry one of the two
// identifier columns.
type Registry struct {
	Store RegistryStore
}

func (r *Registry) Resolve(ctx context.Context, token string) (domain.Webhook, error) {
	strategies := []func(context.Context, string) (domain.Webhook, bool, error){
		r.Store.FindWebhookByToken,
		r.Store.FindWebhookByID,
	}
	for _, lookup := range strategies {
		wh, found, err := lookup(ctx, token)
		if err != nil {
			// Infrastructure failure, distinct from "not found".
			return domain.Webhook{}, fmt.Errorf("webhook lookup: %w", err)
		}
		if !found {
			continue
		}
		if !wh.Active() {
			return domain.Webhook{}, ErrWebhookNotFound
		}
		return wh, nil
	}
	return domain.Webhook{}, ErrWebhookNotFound
}
