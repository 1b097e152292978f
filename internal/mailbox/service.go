package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"economy_service/internal/blobstore"
	"economy_service/internal/logger"

	"github.com/sirupsen/logrus"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Service keeps one capped inbox blob per recipient. Like every other path in
// the store it is last-write-wins; duplicates are removed by notification id.
type Service struct {
	store *blobstore.Store
	hub   *Hub
}

func NewService(store *blobstore.Store, hub *Hub) *Service {
	if hub == nil {
		hub = NewHub()
	}
	return &Service{store: store, hub: hub}
}

func (s *Service) Hub() *Hub { return s.hub }

func inboxPath(recipientID string) string { return "mailbox/" + recipientID + ".json" }

func (s *Service) load(ctx context.Context, recipientID string) (*Inbox, error) {
	var inbox Inbox
	if err := s.store.GetJSON(ctx, inboxPath(recipientID), &inbox); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return &Inbox{OwnerID: recipientID}, nil
		}
		return nil, fmt.Errorf("failed to load inbox: %w", err)
	}
	return &inbox, nil
}

func (s *Service) save(ctx context.Context, inbox *Inbox) error {
	inbox.LastUpdated = time.Now().UTC()
	if err := s.store.PutJSON(ctx, inboxPath(inbox.OwnerID), inbox); err != nil {
		return fmt.Errorf("failed to save inbox: %w", err)
	}
	return nil
}

// Enqueue adds n newest-first. A notification whose id is already present is
// ignored, and the inbox keeps only the Capacity most recent entries.
func (s *Service) Enqueue(ctx context.Context, recipientID string, n Notification) error {
	inbox, err := s.load(ctx, recipientID)
	if err != nil {
		return err
	}
	for _, existing := range inbox.Notifications {
		if existing.ID == n.ID {
			return nil
		}
	}
	inbox.Notifications = append([]Notification{n}, inbox.Notifications...)
	if len(inbox.Notifications) > Capacity {
		inbox.Notifications = inbox.Notifications[:Capacity]
	}
	if err := s.save(ctx, inbox); err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"recipient_id":    recipientID,
		"notification_id": n.ID,
	}).Debug("notification enqueued")

	s.hub.Notify(recipientID, Update{
		RecipientID:  recipientID,
		Notification: n,
		Unread:       unread(inbox.Notifications),
	})
	return nil
}

func (s *Service) List(ctx context.Context, recipientID string) ([]Notification, error) {
	inbox, err := s.load(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return inbox.Notifications, nil
}

func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	inbox, err := s.load(ctx, recipientID)
	if err != nil {
		return err
	}
	for i := range inbox.Notifications {
		if inbox.Notifications[i].ID == notificationID {
			if inbox.Notifications[i].Read {
				return nil
			}
			inbox.Notifications[i].Read = true
			return s.save(ctx, inbox)
		}
	}
	return ErrNotificationNotFound
}

func (s *Service) Delete(ctx context.Context, recipientID string) error {
	return s.store.Delete(ctx, inboxPath(recipientID))
}

func unread(ns []Notification) int {
	n := 0
	for _, x := range ns {
		if !x.Read {
			n++
		}
	}
	return n
}
