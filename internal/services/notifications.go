// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"net/url"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/model"
)

// NotificationService reads and acknowledges the user's inbox.
type NotificationService struct {
	client *api.Client
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(client *api.Client) *NotificationService {
	return &NotificationService{client: client}
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context) (*model.NotificationsResponse, error) {
	var resp model.NotificationsResponse
	if err := s.client.Get(ctx, "/me/notifications", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks one notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*model.MessageResponse, error) {
	var resp model.MessageResponse
	if err := s.client.Post(ctx, "/me/notifications/"+url.PathEscape(id)+"/read", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
