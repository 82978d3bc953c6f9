package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/api"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/lock"
	notifentity "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/entity"
	notifrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/photo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/entity"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/report/repo"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/reward"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/storage"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/vision"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/pkg/database"
)

// CollectionPoints is the flat award for a verified collection.
const CollectionPoints = 50

const collectLockTTL = 2 * time.Minute

var (
	ErrReportNotFound    = apperr.New(apperr.ErrNotFound, "report not found")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "invalid status transition")
	ErrAlreadyCollected  = apperr.New(apperr.ErrConflict, "report already collected")
	ErrNotCollector      = apperr.New(apperr.ErrForbidden, "report is claimed by another collector")
)

func init() {
	api.RegisterEnum("wastetype", entity.WasteTypes...)
	api.RegisterEnum("reportstatus", entity.Statuses...)
}

// CollectionVerifier judges collection photos against a report.
type CollectionVerifier interface {
	VerifyCollection(ctx context.Context, exp vision.Expected, images ...photo.Image) (*vision.Verification, error)
}

// Invalidator drops cached per-user views.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Deps are the collaborators of Service. Photos and Locker default to the
// inline store and an in-process locker.
type Deps struct {
	DB            *sqlx.DB
	Rewards       *reward.Service
	Notifications *notifrepo.NotificationRepo
	Verifier      CollectionVerifier
	Photos        storage.PhotoStore
	Locker        lock.Locker
	Cache         Invalidator
	Logger        *zap.SugaredLogger
}

type Service struct {
	db          *sqlx.DB
	reports     *repo.ReportRepo
	collections *repo.CollectionRepo
	rewards     *reward.Service
	notes       *notifrepo.NotificationRepo
	verifier    CollectionVerifier
	photos      storage.PhotoStore
	locker      lock.Locker
	cache       Invalidator
	logger      *zap.SugaredLogger
}

func NewService(d Deps) *Service {
	s := &Service{
		db:          d.DB,
		reports:     repo.NewReportRepo(d.DB),
		collections: repo.NewCollectionRepo(d.DB),
		rewards:     d.Rewards,
		notes:       d.Notifications,
		verifier:    d.Verifier,
		photos:      d.Photos,
		locker:      d.Locker,
		cache:       d.Cache,
		logger:      d.Logger,
	}
	if s.photos == nil {
		s.photos = storage.InlineStore{}
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	return s
}

type CreateInput struct {
	Location           string          `json:"location" validate:"required,max=2048"`
	Latitude           *float64        `json:"latitude" validate:"omitempty,latitude"`
	Longitude          *float64        `json:"longitude" validate:"omitempty,longitude"`
	WasteType          string          `json:"wasteType" validate:"required,wastetype"`
	Amount             string          `json:"amount" validate:"required,max=255"`
	Image              string          `json:"image"`
	VerificationResult json.RawMessage `json:"verificationResult"`
}

// Create files a new report for userID. Whatever the input, the report
// starts pending with no collector.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*entity.Report, error) {
	in.Location = strings.TrimSpace(in.Location)
	in.Amount = strings.TrimSpace(in.Amount)
	if err := api.Validate(in); err != nil {
		return nil, err
	}
	wasteType, _ := api.Canonical("wastetype", in.WasteType)
	rep := &entity.Report{
		UserID:    userID,
		Location:  in.Location,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		WasteType: wasteType,
		Amount:    in.Amount,
	}
	if len(in.VerificationResult) > 0 && string(in.VerificationResult) != "null" {
		if !json.Valid(in.VerificationResult) {
			return nil, apperr.Invalid("verificationResult must be valid JSON")
		}
		raw := in.VerificationResult
		rep.VerificationResult = &raw
	}
	if in.Image != "" {
		url, err := s.storeImage(ctx, in.Image)
		if err != nil {
			return nil, err
		}
		rep.ImageURL = &url
	}
	out, err := s.reports.Create(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.invalidate(ctx, userID)
	s.logger.Infow("report created", "report_id", out.ID, "user_id", userID, "waste_type", out.WasteType)
	return out, nil
}

// storeImage keeps http(s) URLs as given and uploads inline photos.
func (s *Service) storeImage(ctx context.Context, v string) (string, error) {
	if strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://") {
		return v, nil
	}
	img, err := photo.ParseDataURL(v)
	if err != nil {
		return "", err
	}
	if img, err = photo.Normalize(img); err != nil {
		return "", err
	}
	url, err := s.photos.Put(ctx, "reports", img)
	if err != nil {
		return "", fmt.Errorf("store report photo: %w", err)
	}
	return url, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*entity.Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %d: %w", id, ErrReportNotFound)
	}
	return r, err
}

func (s *Service) List(ctx context.Context, f entity.Filter) ([]*entity.Report, error) {
	if f.Status != "" {
		st, ok := api.Canonical("reportstatus", f.Status)
		if !ok {
			return nil, apperr.Invalid("status must be one of [" + strings.Join(entity.Statuses, ", ") + "]")
		}
		f.Status = st
	}
	if f.WasteType != "" {
		wt, ok := api.Canonical("wastetype", f.WasteType)
		if !ok {
			return nil, apperr.Invalid("wasteType must be one of [" + strings.Join(entity.WasteTypes, ", ") + "]")
		}
		f.WasteType = wt
	}
	return s.reports.List(ctx, f)
}

// Claim takes a pending report for collectorID. Of two concurrent claims
// exactly one succeeds; the other gets ErrInvalidTransition.
func (s *Service) Claim(ctx context.Context, id, collectorID int64) (*entity.Report, error) {
	r, err := s.reports.Claim(ctx, id, collectorID)
	if errors.Is(err, sql.ErrNoRows) {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("report %d is %s: %w", id, cur.Status, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("claim report %d: %w", id, err)
	}
	s.logger.Infow("report claimed", "report_id", id, "collector_id", collectorID)
	return r, nil
}

type VerifyInput struct {
	ReportID           int64            `json:"reportId" validate:"required,gt=0"`
	Comment            string           `json:"comment" validate:"max=2000"`
	VerificationResult *json.RawMessage `json:"verificationResult,omitempty"`
}

// Collected is the outcome of a verified collection.
type Collected struct {
	Report     *entity.Report         `json:"report"`
	Collection *entity.CollectedWaste `json:"collection"`
	Awarded    int64                  `json:"awarded"`
	Points     int64                  `json:"points"`
}

// Verify closes out an in_progress report held by collectorID. The status
// change, the collected_wastes row, the award with its ledger entry and the
// collector's notification commit together or not at all.
func (s *Service) Verify(ctx context.Context, collectorID int64, in VerifyInput) (*Collected, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := api.Validate(in); err != nil {
		return nil, err
	}
	var out Collected
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		reports := s.reports.WithTx(tx)
		rep, err := reports.MarkVerified(ctx, in.ReportID, collectorID, in.VerificationResult)
		if errors.Is(err, sql.ErrNoRows) {
			return explainVerify(ctx, reports, in.ReportID)
		}
		if err != nil {
			return fmt.Errorf("mark verified: %w", err)
		}
		cw := &entity.CollectedWaste{ReportID: rep.ID, CollectorID: collectorID}
		if in.Comment != "" {
			cw.Comment = &in.Comment
		}
		if err := s.collections.WithTx(tx).Create(ctx, cw); err != nil {
			if errors.Is(err, repo.ErrDuplicateCollection) {
				return fmt.Errorf("report %d: %w", rep.ID, ErrAlreadyCollected)
			}
			return fmt.Errorf("record collection: %w", err)
		}
		res, err := s.rewards.Award(ctx, tx, collectorID, CollectionPoints,
			fmt.Sprintf("Collected %s waste (report #%d)", rep.WasteType, rep.ID))
		if err != nil {
			return err
		}
		note := &notifentity.Notification{
			UserID:  collectorID,
			Message: fmt.Sprintf("You earned %d points for collecting %s waste (report #%d).", CollectionPoints, rep.WasteType, rep.ID),
			Type:    notifentity.TypeReward,
		}
		if err := s.notes.WithTx(tx).Create(ctx, note); err != nil {
			return fmt.Errorf("notify collector: %w", err)
		}
		out = Collected{Report: rep, Collection: cw, Awarded: CollectionPoints, Points: res.Points}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, collectorID, out.Report.UserID)
	s.logger.Infow("report verified", "report_id", out.Report.ID, "collector_id", collectorID, "balance", out.Points)
	return &out, nil
}

// explainVerify tells apart the reasons a verify guard did not match.
func explainVerify(ctx context.Context, reports *repo.ReportRepo, id int64) error {
	cur, err := reports.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("report %d: %w", id, ErrReportNotFound)
	}
	if err != nil {
		return err
	}
	if !entity.CanTransition(cur.Status, entity.StatusVerified) {
		return fmt.Errorf("report %d is %s: %w", id, cur.Status, ErrInvalidTransition)
	}
	return fmt.Errorf("report %d: %w", id, ErrNotCollector)
}

type CollectInput struct {
	Images  []string `json:"images" validate:"required,min=1,max=2"`
	Comment string   `json:"comment" validate:"max=2000"`
}

// CollectOutcome is returned by CollectWithPhotos. When the model does not
// accept the photos Verified is false and nothing was written.
type CollectOutcome struct {
	Verified     bool                 `json:"verified"`
	Verification *vision.Verification `json:"verification"`
	*Collected
}

// CollectWithPhotos asks the vision model whether the photos show the
// reported waste collected and, if so, verifies the report. A per-report
// lock keeps a second submission from running the model concurrently.
func (s *Service) CollectWithPhotos(ctx context.Context, reportID, collectorID int64, in CollectInput) (*CollectOutcome, error) {
	if err := api.Validate(in); err != nil {
		return nil, err
	}
	if s.verifier == nil {
		return nil, vision.ErrNotConfigured
	}
	release, err := s.locker.Obtain(ctx, "report:"+strconv.FormatInt(reportID, 10), collectLockTTL)
	if err != nil {
		return nil, fmt.Errorf("report %d: %w", reportID, err)
	}
	defer release()

	rep, err := s.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep.Status != entity.StatusInProgress {
		return nil, fmt.Errorf("report %d is %s: %w", reportID, rep.Status, ErrInvalidTransition)
	}
	if rep.CollectorID == nil || *rep.CollectorID != collectorID {
		return nil, fmt.Errorf("report %d: %w", reportID, ErrNotCollector)
	}

	images := make([]photo.Image, 0, len(in.Images))
	for _, v := range in.Images {
		img, err := photo.ParseDataURL(v)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	ver, err := s.verifier.VerifyCollection(ctx, vision.Expected{WasteType: rep.WasteType, Amount: rep.Amount}, images...)
	if err != nil {
		return nil, err
	}
	if !ver.Accepted {
		s.logger.Infow("collection not accepted", "report_id", reportID, "collector_id", collectorID,
			"type_match", ver.WasteTypeMatch, "quantity_match", ver.QuantityMatch, "confidence", ver.Confidence)
		return &CollectOutcome{Verified: false, Verification: ver}, nil
	}
	b, err := json.Marshal(ver)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	done, err := s.Verify(ctx, collectorID, VerifyInput{ReportID: reportID, Comment: in.Comment, VerificationResult: &raw})
	if err != nil {
		return nil, err
	}
	return &CollectOutcome{Verified: true, Verification: ver, Collected: done}, nil
}

func (s *Service) Collections(ctx context.Context, collectorID int64, limit, offset int) ([]*entity.CollectedWaste, error) {
	return s.collections.List(ctx, collectorID, limit, offset)
}

func (s *Service) invalidate(ctx context.Context, ids ...int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, ids...)
	}
}
