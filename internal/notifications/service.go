package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

// Service lists and acknowledges operator notifications.
type Service interface {
	List(ctx context.Context, params ListParams) (*Page, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type ListParams struct {
	Pagination pagination.Params
	UnreadOnly bool
}

// Page is one page of notifications, newest first, plus the unread count.
type Page struct {
	Notifications []models.Notification
	NextCursor    string
	Unread        int64
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*Page, error) {
	cursor, err := pagination.Decode(params.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.List(ctx, listParams{
		Limit:      params.Pagination.PageSize(),
		Cursor:     cursor,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list notifications")
	}
	unread, err := s.repo.CountUnread(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count unread notifications")
	}

	page := &Page{Notifications: rows, Unread: unread}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

func (s *service) MarkRead(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	result, err := s.repo.MarkRead(ctx, id, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark notifications read")
	}
	return count, nil
}
