package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
)

var ErrNotificationNotFound = apperr.New(apperr.ErrNotFound, "notification not found")

func init() {
	api.RegisterEnum("notificationtype", entity.TypeReward, entity.TypeCollection, entity.TypeEvent, entity.TypeSystem)
}

type Service struct {
	repo *repo.NotificationRepo
}

func NewService(r *repo.NotificationRepo) *Service {
	return &Service{repo: r}
}

// Repo exposes the repository so other units of work can write
// notifications inside their own transaction.
func (s *Service) Repo() *repo.NotificationRepo { return s.repo }

type CreateInput struct {
	UserID  int64  `json:"userId" validate:"required,gt=0"`
	Message string `json:"message" validate:"required,max=1000"`
	Type    string `json:"type" validate:"required,notificationtype"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Notification, error) {
	in.Message = strings.TrimSpace(in.Message)
	if err := api.Validate(in); err != nil {
		return nil, err
	}
	typ, _ := api.Canonical("notificationtype", in.Type)
	n := &entity.Notification{UserID: in.UserID, Message: in.Message, Type: typ}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

type List struct {
	Notifications []*entity.Notification `json:"notifications"`
	Unread        int64                  `json:"unread"`
}

func (s *Service) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) (*List, error) {
	items, err := s.repo.ListForUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &List{Notifications: items, Unread: unread}, nil
}

// MarkRead only touches notifications addressed to userID.
func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	ok, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("notification %d: %w", id, ErrNotificationNotFound)
	}
	return nil
}
