package service

import (
	"context"
	"log/slog"

	"hookrelay/internal/domain"
	"hookrelay/internal/store"
	"hookrelay/internal/util"
)

type ContactStore interface {
	FindContactByUser(ctx context.Context, email, userID string) (domain.Contact, bool, error)
	FindContactByList(ctx context.Context, email, listID string) (domain.Contact, bool, error)
	InsertContact(ctx context.Context, in store.ContactInsert) (bool, error)
	UpdateContactMerge(ctx context.Context, in store.ContactUpdate) error
	DefaultListForUser(ctx context.Context, userID string) (domain.List, bool, error)
	InsertList(ctx context.Context, in store.ListInsert) error
	IncrementListContactCount(ctx context.Context, listID string) error
}

// Contacts implements the two upsert scopes: direct (email, userId) with merge
// semantics and list-storage (email, listId) which is insert-only.
type Contacts struct {
	Store  ContactStore
	Source string // recorded on rows this service creates, e.g. "webhook"
}

// UpsertDirect creates or merge-updates a contact in the user scope. A user
// always gets a default list before their first webhook-derived contact.
func (c *Contacts) UpsertDirect(ctx context.Context, userID string, f domain.ContactFields) error {
	if f.Empty() {
		return nil
	}
	now := util.NowUTC()

	if f.Email != "" {
		existing, found, err := c.Store.FindContactByUser(ctx, f.Email, userID)
		if err != nil {
			return err
		}
		if found {
			return c.Store.UpdateContactMerge(ctx, store.ContactUpdate{
				ID:       existing.ID,
				FullName: f.Name,
				Phone:    f.Phone,
				Company:  f.Company,
				Source:   c.Source,
				Now:      now,
			})
		}
	}

	list, found, err := c.Store.DefaultListForUser(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		list = domain.List{ID: util.NewListID(), UserID: userID, Name: "My Contacts"}
		if err := c.Store.InsertList(ctx, store.ListInsert{
			ID: list.ID, UserID: userID, Name: list.Name, Now: now,
		}); err != nil {
			return err
		}
	}

	inserted, err := c.Store.InsertContact(ctx, store.ContactInsert{
		ID:       util.NewContactID(),
		UserID:   userID,
		ListID:   list.ID,
		FullName: f.Name,
		Email:    f.Email,
		Phone:    f.Phone,
		Company:  f.Company,
		Source:   c.Source,
		Now:      now,
	})
	if err != nil {
		return err
	}
	if !inserted && f.Email != "" {
		// A concurrent delivery won the insert race between our lookup and
		// the write; merge into the winner's row.
		existing, found, err := c.Store.FindContactByUser(ctx, f.Email, userID)
		if err != nil || !found {
			return err
		}
		return c.Store.UpdateContactMerge(ctx, store.ContactUpdate{
			ID:       existing.ID,
			FullName: f.Name,
			Phone:    f.Phone,
			Company:  f.Company,
			Source:   c.Source,
			Now:      now,
		})
	}
	return nil
}

// UpsertListScope inserts a contact into a specific list. Deliberately
// insert-only: a second sighting of the same (email, listId) neither updates
// fields nor bumps the list counter.
func (c *Contacts) UpsertListScope(ctx context.Context, userID, listID string, f domain.ContactFields) (bool, error) {
	if f.Empty() {
		return false, nil
	}
	existing, found, err := c.Store.FindContactByList(ctx, f.Email, listID)
	if err != nil {
		return false, err
	}
	if found {
		slog.Debug("list contact already present, skipping", "list_id", listID, "contact_id", existing.ID)
		return false, nil
	}

	inserted, err := c.Store.InsertContact(ctx, store.ContactInsert{
		ID:       util.NewContactID(),
		UserID:   userID,
		ListID:   listID,
		FullName: f.Name,
		Email:    f.Email,
		Phone:    f.Phone,
		Company:  f.Company,
		Source:   c.Source,
		Now:      util.NowUTC(),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		// Concurrent delivery of the same lead beat us to the row. The
		// counter belongs to whoever actually inserted.
		slog.Debug("list contact inserted concurrently, skipping", "list_id", listID)
		return false, nil
	}
	if err := c.Store.IncrementListContactCount(ctx, listID); err != nil {
		return true, err
	}
	return true, nil
}
