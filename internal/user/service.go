package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/auth"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/cache"
	"github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-waste-rewards/internal/user/repo"
)

var ErrUserNotFound = apperr.New(apperr.ErrNotFound, "user not found")

// UserService provisions users from the auth provider and serves their stats.
type UserService struct {
	repo   *userrepo.UserRepo
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewUserService(r *userrepo.UserRepo, c cache.Cache, ttl time.Duration, logger *zap.SugaredLogger) *UserService {
	if c == nil {
		c = cache.NewMemory()
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &UserService{repo: r, cache: c, ttl: ttl, logger: logger}
}

// EnsureUser returns the local row for p, creating it on first sight and
// refreshing profile fields the provider has changed since.
func (s *UserService) EnsureUser(ctx context.Context, p *auth.Principal) (*entity.User, error) {
	if p == nil || p.Subject == "" {
		return nil, apperr.ErrUnauthorized
	}
	u, err := s.repo.GetByClerkID(ctx, p.Subject)
	switch {
	case err == nil && !profileChanged(u, p):
		return u, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	in := &entity.User{ClerkID: p.Subject, Email: p.Email, Name: p.Name}
	if p.AvatarURL != "" {
		in.AvatarURL = &p.AvatarURL
	}
	u, err = s.repo.Upsert(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("provision user %s: %w", p.Subject, err)
	}
	s.logger.Debugw("user provisioned", "id", u.ID, "clerk_id", u.ClerkID)
	return u, nil
}

// Current resolves the signed-in caller to a local user.
func (s *UserService) Current(ctx context.Context) (*entity.User, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return nil, apperr.ErrUnauthorized
	}
	return s.EnsureUser(ctx, p)
}

func profileChanged(u *entity.User, p *auth.Principal) bool {
	if p.Email != "" && p.Email != u.Email {
		return true
	}
	if p.Name != "" && p.Name != u.Name {
		return true
	}
	return p.AvatarURL != "" && (u.AvatarURL == nil || *u.AvatarURL != p.AvatarURL)
}

func (s *UserService) Get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	return u, err
}

func statsKey(id int64) string { return "user-stats:" + strconv.FormatInt(id, 10) }

func leaderboardKey(limit int) string { return "leaderboard:" + strconv.Itoa(limit) }

// Stats returns activity counters, served from cache for up to ttl.
func (s *UserService) Stats(ctx context.Context, id int64) (*entity.Stats, error) {
	var cached entity.Stats
	err := s.cache.Get(ctx, statsKey(id), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warnw("stats cache read failed", "user_id", id, "err", err)
	}
	st, err := s.repo.Stats(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, statsKey(id), st, s.ttl); err != nil {
		s.logger.Warnw("stats cache write failed", "user_id", id, "err", err)
	}
	return st, nil
}

// Leaderboard returns the top users by points, cached like Stats.
func (s *UserService) Leaderboard(ctx context.Context, limit int) ([]*entity.LeaderboardEntry, error) {
	var cached []*entity.LeaderboardEntry
	if err := s.cache.Get(ctx, leaderboardKey(limit), &cached); err == nil {
		return cached, nil
	}
	rows, err := s.repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, leaderboardKey(limit), rows, s.ttl); err != nil {
		s.logger.Warnw("leaderboard cache write failed", "err", err)
	}
	return rows, nil
}

// Invalidate drops cached stats for the given users after their points or
// activity changed. Leaderboards simply age out.
func (s *UserService) Invalidate(ctx context.Context, ids ...int64) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, statsKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warnw("stats cache invalidation failed", "user_ids", ids, "err", err)
	}
}
