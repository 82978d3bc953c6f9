// Package event runs community cleanup events: organizers publish them,
// participants register and receive a signed QR check-in code, and the
// organizer scans that code on site to record attendance.
package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/entity"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/event/repo"
	notifentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/entity"
	notifrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/database"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/utilities"
)

const qrSize = 256

var (
	ErrEventNotFound       = apperr.New(apperr.ErrNotFound, "event not found")
	ErrNotRegistered       = apperr.New(apperr.ErrNotFound, "participant is not registered for this event")
	ErrNotOrganizer        = apperr.New(apperr.ErrForbidden, "only the organizer can do this")
	ErrEventFull           = apperr.New(apperr.ErrConflict, "event is full")
	ErrEventClosed         = apperr.New(apperr.ErrConflict, "event is not open for registration")
	ErrDuplicateAttendance = apperr.New(apperr.ErrConflict, "attendance already recorded")
)

func init() {
	api.RegisterEnum("eventcategory", entity.Categories...)
}

type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

type Service struct {
	db         *sqlx.DB
	events     *repo.EventRepo
	regs       *repo.RegistrationRepo
	attendance *repo.AttendanceRepo
	users      *userrepo.UserRepo
	notes      *notifrepo.NotificationRepo
	signer     *Signer
	cache      Invalidator
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewService(db *sqlx.DB, signer *Signer, cache Invalidator, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:         db,
		events:     repo.NewEventRepo(db),
		regs:       repo.NewRegistrationRepo(db),
		attendance: repo.NewAttendanceRepo(db),
		users:      userrepo.NewUserRepo(db),
		notes:      notifrepo.NewNotificationRepo(db),
		signer:     signer,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

type CreateInput struct {
	Title           string   `json:"title" validate:"required,max=255"`
	Description     string   `json:"description" validate:"max=5000"`
	Date            string   `json:"date" validate:"required,date"`
	Time            string   `json:"time" validate:"required,clock"`
	Location        string   `json:"location" validate:"required,max=2048"`
	Latitude        *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude       *float64 `json:"longitude" validate:"omitempty,longitude"`
	Category        string   `json:"category" validate:"required,eventcategory"`
	MaxParticipants int      `json:"maxParticipants" validate:"min=0,max=100000"`
	ImageURL        string   `json:"imageUrl" validate:"omitempty,http_url"`
}

func (s *Service) Create(ctx context.Context, organizerID int64, in CreateInput) (*entity.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Location = strings.TrimSpace(in.Location)
	if err := api.Validate(in); err != nil {
		return nil, err
	}
	category, _ := api.Canonical("eventcategory", in.Category)
	e := &entity.Event{
		ID:              utilities.NewSnowflakeID(),
		OrganizerID:     organizerID,
		Title:           in.Title,
		Description:     strings.TrimSpace(in.Description),
		Date:            in.Date,
		Time:            in.Time,
		Location:        in.Location,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		Category:        category,
		MaxParticipants: in.MaxParticipants,
	}
	if in.ImageURL != "" {
		e.ImageURL = &in.ImageURL
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.logger.Infow("event created", "event_id", e.ID, "organizer_id", organizerID, "date", e.Date)
	return e, nil
}

// List returns events soonest first. upcoming drops past and non-open events.
func (s *Service) List(ctx context.Context, upcoming bool, category string, limit, offset int) ([]*entity.Event, error) {
	f := entity.Filter{Limit: limit, Offset: offset}
	if upcoming {
		f.UpcomingFrom = s.now().Format("2006-01-02")
	}
	if category != "" {
		c, ok := api.Canonical("eventcategory", category)
		if !ok {
			return nil, apperr.Invalid("category must be one of [" + strings.Join(entity.Categories, ", ") + "]")
		}
		f.Category = c
	}
	return s.events.List(ctx, f)
}

// Get returns the event with its current participant count.
func (s *Service) Get(ctx context.Context, id string) (*entity.Event, error) {
	e, err := s.events.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	return e, err
}

// Register signs userID up for the event and issues the check-in code.
// Registering twice returns the existing registration with created false.
func (s *Service) Register(ctx context.Context, eventID string, userID int64) (reg *entity.Registration, created bool, err error) {
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		ev, err := s.events.WithTx(tx).Lock(ctx, eventID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
		}
		if err != nil {
			return err
		}
		regs := s.regs.WithTx(tx)
		existing, err := regs.Get(ctx, eventID, userID)
		if err == nil {
			reg = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if ev.Status != entity.StatusUpcoming {
			return fmt.Errorf("event %s is %s: %w", eventID, ev.Status, ErrEventClosed)
		}
		if ev.ParticipantCount, err = regs.Count(ctx, eventID); err != nil {
			return err
		}
		if ev.Full() {
			return fmt.Errorf("event %s: %w", eventID, ErrEventFull)
		}
		reg = &entity.Registration{
			ID:      utilities.NewKSUID(),
			EventID: eventID,
			UserID:  userID,
			QRCode:  s.signer.Sign(eventID, userID),
		}
		if err := regs.Create(ctx, reg); err != nil {
			return fmt.Errorf("create registration: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Infow("event registration", "event_id", eventID, "user_id", userID)
	}
	return reg, created, nil
}

// QRImage renders the caller's check-in code as a PNG.
func (s *Service) QRImage(ctx context.Context, eventID string, userID int64) ([]byte, error) {
	reg, err := s.regs.Get(ctx, eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotRegistered)
	}
	if err != nil {
		return nil, err
	}
	return QRPNG(reg.QRCode, qrSize)
}

// CheckIn is the successful outcome of a scan.
type CheckIn struct {
	Status          string    `json:"status"`
	ParticipantID   int64     `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	VerifiedAt      time.Time `json:"verifiedAt"`
}

// VerifyAttendance checks a scanned code against the event and records the
// participant's attendance once. Codes for another event, forged codes and
// codes superseded by a different registration are rejected before anything
// is written.
func (s *Service) VerifyAttendance(ctx context.Context, eventID string, organizerID int64, code string) (*CheckIn, error) {
	t, err := s.signer.Parse(code)
	if err != nil {
		return nil, err
	}
	if t.EventID != eventID {
		return nil, fmt.Errorf("code for event %s scanned at %s: %w", t.EventID, eventID, ErrEventMismatch)
	}
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != organizerID {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotOrganizer)
	}
	reg, err := s.regs.Get(ctx, eventID, t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", t.UserID, ErrNotRegistered)
	}
	if err != nil {
		return nil, err
	}
	if reg.QRCode != strings.TrimSpace(code) {
		return nil, fmt.Errorf("%w: code superseded", ErrInvalidTicket)
	}
	participant, err := s.users.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load participant %d: %w", t.UserID, err)
	}

	a := &entity.Attendance{EventID: eventID, UserID: t.UserID, VerifiedBy: organizerID}
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.attendance.WithTx(tx).Create(ctx, a); err != nil {
			if errors.Is(err, repo.ErrAlreadyRecorded) {
				return fmt.Errorf("user %d at event %s: %w", t.UserID, eventID, ErrDuplicateAttendance)
			}
			return err
		}
		return s.notes.WithTx(tx).Create(ctx, &notifentity.Notification{
			UserID:  t.UserID,
			Message: fmt.Sprintf("Thanks for joining %s! Your attendance has been recorded.", ev.Title),
			Type:    notifentity.TypeEvent,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, t.UserID)
	}
	s.logger.Infow("attendance verified", "event_id", eventID, "user_id", t.UserID, "organizer_id", organizerID)
	return &CheckIn{Status: "verified", ParticipantID: t.UserID, ParticipantName: participant.DisplayName(), VerifiedAt: a.VerifiedAt}, nil
}

// Attendees lists registrations and check-ins. Organizer only.
func (s *Service) Attendees(ctx context.Context, eventID string, callerID int64) ([]*entity.Attendee, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != callerID {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotOrganizer)
	}
	return s.regs.Attendees(ctx, eventID)
}
