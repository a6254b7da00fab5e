package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/aksihijau/service-core/internal/auth"
	"github.com/aksihijau/service-core/internal/user/entity"
	userrepo "github.com/aksihijau/service-core/internal/user/repo"
)

const (
	// StarterLevel is the eco level of a new account and of the badge it receives.
	StarterLevel      = 1
	minPasswordLength = 6
	maxPasswordBytes  = 72 // bcrypt limit
	minUsernameLength = 3
	DefaultCooldown   = 7 * 24 * time.Hour
)

// Store is the persistence the service needs; *userrepo.UserRepo implements it.
// Lookups return sql.ErrNoRows when nothing matches.
type Store interface {
	FindByEmailOrUsername(ctx context.Context, email, username string) (*entity.User, error)
	CreateWithStarterBadge(ctx context.Context, u *entity.User, starterLevel int) error
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	List(ctx context.Context, limit, offset int) ([]*entity.User, error)
	UpdatePasswordIfUnlocked(ctx context.Context, id int64, hash string, now, unlockedBefore time.Time) (bool, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	UpdateUsernameIfUnlocked(ctx context.Context, id int64, username string, now, unlockedBefore time.Time) (bool, error)
	UpdateProfileIfUnlocked(ctx context.Context, id int64, username, email string, now, unlockedBefore time.Time) (bool, error)
	UpdateEmail(ctx context.Context, id int64, email string) (bool, error)
	BadgesFor(ctx context.Context, userID int64) ([]entity.Badge, error)
}

var _ Store = (*userrepo.UserRepo)(nil)

// IDSource hands out new user IDs.
type IDSource interface {
	NextID() int64
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Cooldown time.Duration
	Clock    clockwork.Clock
	Logger   *zap.SugaredLogger
}

// Service owns registration, login and the profile mutation policy.
type Service struct {
	store    Store
	hasher   PasswordHasher
	tokens   *auth.TokenManager
	ids      IDSource
	clock    clockwork.Clock
	cooldown time.Duration
	logger   *zap.SugaredLogger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, hasher PasswordHasher, tokens *auth.TokenManager, ids IDSource, opts Options) *Service {
	s := &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		ids:      ids,
		clock:    opts.Clock,
		cooldown: opts.Cooldown,
		logger:   opts.Logger,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	return s
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      entity.PublicUser
}

// now is truncated to the precision Postgres stores.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// remaining is how long until a field last changed at last may change again.
func (s *Service) remaining(last time.Time) time.Duration {
	elapsed := s.now().Sub(last)
	if elapsed >= s.cooldown {
		return 0
	}
	return s.cooldown - elapsed
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validPassword(field, pw string) *Error {
	if utf8.RuneCountInString(pw) < minPasswordLength {
		return invalid(fmt.Sprintf("%s must be at least %d characters", field, minPasswordLength))
	}
	if len(pw) > maxPasswordBytes {
		return invalid(fmt.Sprintf("%s must be at most %d bytes", field, maxPasswordBytes))
	}
	return nil
}

// Register creates an account holding the starter badge and returns its public view.
func (s *Service) Register(ctx context.Context, username, email, password string) (entity.PublicUser, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return entity.PublicUser{}, invalid("username, email and password are required")
	}
	if err := validPassword("password", password); err != nil {
		return entity.PublicUser{}, err
	}

	if _, err := s.store.FindByEmailOrUsername(ctx, email, username); err == nil {
		return entity.PublicUser{}, ErrIdentityTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return entity.PublicUser{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return entity.PublicUser{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &entity.User{
		ID:                 s.ids.NextID(),
		Username:           username,
		Email:              email,
		PasswordHash:       hash,
		EcoLevel:           StarterLevel,
		IsAdmin:            false,
		CreatedAt:          now,
		LastPasswordChange: now,
		LastUsernameChange: now,
	}
	if err := s.store.CreateWithStarterBadge(ctx, u, StarterLevel); err != nil {
		if isDuplicate(err) {
			return entity.PublicUser{}, ErrIdentityTaken
		}
		return entity.PublicUser{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID)
	return u.Public(), nil
}

// Login checks the credentials and issues a bearer token. Unknown email and
// wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalid("email and password are required")
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// spend the same bcrypt time as a real comparison
			_, _ = s.hasher.Verify(ctx, s.dummy(), password)
			return LoginResult{}, ErrBadCredentials
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, u.PasswordHash, password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, ErrBadCredentials
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		if newHash, hErr := s.hasher.Hash(ctx, password); hErr != nil {
			s.logger.Warnw("password rehash failed", "user_id", u.ID, "stage", "hash", "err", hErr)
		} else if uErr := s.store.UpdatePasswordHash(ctx, u.ID, newHash); uErr != nil {
			s.logger.Warnw("password rehash failed", "user_id", u.ID, "stage", "store", "err", uErr)
		}
	}

	token, exp, err := s.tokens.Issue(auth.Identity{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		IsAdmin:  u.IsAdmin,
		EcoLevel: u.EcoLevel,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: exp, User: u.Public()}, nil
}

// dummy is built detached from any request so a cancelled first caller
// cannot leave it empty.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(context.Background(), "aksihijau-timing-equaliser")
		if err != nil {
			s.logger.Errorw("dummy hash failed", "err", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// ChangePassword replaces the password at most once per cooldown window.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if current == "" || next == "" {
		return invalid("currentPassword and newPassword are required")
	}
	if err := validPassword("newPassword", next); err != nil {
		return err
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, u.PasswordHash, current)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrWrongPassword
	}
	if rem := s.remaining(u.LastPasswordChange); rem > 0 {
		return rateLimited("password", rem)
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	updated, err := s.store.UpdatePasswordIfUnlocked(ctx, userID, hash, now, now.Add(-s.cooldown))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if !updated {
		return s.lostRace(ctx, userID, "password", func(u *entity.User) time.Time { return u.LastPasswordChange })
	}
	s.logger.Infow("password changed", "user_id", userID)
	return nil
}

// ChangeUsername renames the user at most once per cooldown window.
func (s *Service) ChangeUsername(ctx context.Context, userID int64, newUsername string) error {
	newUsername = strings.TrimSpace(newUsername)
	if utf8.RuneCountInString(newUsername) < minUsernameLength {
		return invalid(fmt.Sprintf("newUsername must be at least %d characters", minUsernameLength))
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if u.Username == newUsername {
		return ErrSameUsername
	}
	if rem := s.remaining(u.LastUsernameChange); rem > 0 {
		return rateLimited("username", rem)
	}
	if err := s.ensureUsernameFree(ctx, userID, newUsername); err != nil {
		return err
	}

	now := s.now()
	updated, err := s.store.UpdateUsernameIfUnlocked(ctx, userID, newUsername, now, now.Add(-s.cooldown))
	if err != nil {
		if isDuplicate(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("update username: %w", err)
	}
	if !updated {
		return s.lostRace(ctx, userID, "username", func(u *entity.User) time.Time { return u.LastUsernameChange })
	}
	s.logger.Infow("username changed", "user_id", userID, "username", newUsername)
	return nil
}

// UpdateProfile sets username and email. Email has no cooldown; a different
// username goes through the same cooldown and uniqueness rules as ChangeUsername.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, username, email string) (entity.PublicUser, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" {
		return entity.PublicUser{}, invalid("username and email are required")
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return entity.PublicUser{}, err
	}
	if other, err := s.store.GetByEmail(ctx, email); err == nil {
		if other.ID != userID {
			return entity.PublicUser{}, ErrEmailTaken
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return entity.PublicUser{}, fmt.Errorf("check email: %w", err)
	}

	var updated bool
	if username == u.Username {
		updated, err = s.store.UpdateEmail(ctx, userID, email)
	} else {
		if utf8.RuneCountInString(username) < minUsernameLength {
			return entity.PublicUser{}, invalid(fmt.Sprintf("username must be at least %d characters", minUsernameLength))
		}
		if rem := s.remaining(u.LastUsernameChange); rem > 0 {
			return entity.PublicUser{}, rateLimited("username", rem)
		}
		if err := s.ensureUsernameFree(ctx, userID, username); err != nil {
			return entity.PublicUser{}, err
		}
		now := s.now()
		updated, err = s.store.UpdateProfileIfUnlocked(ctx, userID, username, email, now, now.Add(-s.cooldown))
	}
	if err != nil {
		switch {
		case errors.Is(err, userrepo.ErrDuplicateEmail):
			return entity.PublicUser{}, ErrEmailTaken
		case errors.Is(err, userrepo.ErrDuplicateUsername):
			return entity.PublicUser{}, ErrUsernameTaken
		}
		return entity.PublicUser{}, fmt.Errorf("update profile: %w", err)
	}
	if !updated {
		return entity.PublicUser{}, s.lostRace(ctx, userID, "username", func(u *entity.User) time.Time { return u.LastUsernameChange })
	}

	fresh, err := s.load(ctx, userID)
	if err != nil {
		return entity.PublicUser{}, err
	}
	return fresh.Public(), nil
}

// Me returns the user and their badges.
func (s *Service) Me(ctx context.Context, userID int64) (entity.PublicUser, []entity.Badge, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return entity.PublicUser{}, nil, err
	}
	badges, err := s.store.BadgesFor(ctx, userID)
	if err != nil {
		return entity.PublicUser{}, nil, fmt.Errorf("load badges: %w", err)
	}
	return u.Public(), badges, nil
}

// Profile returns the public view of the user.
func (s *Service) Profile(ctx context.Context, userID int64) (entity.PublicUser, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return entity.PublicUser{}, err
	}
	return u.Public(), nil
}

// ListUsers pages through all accounts for administrators.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]entity.PublicUser, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]entity.PublicUser, 0, len(rows))
	for _, u := range rows {
		out = append(out, u.Public())
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, userID int64) (*entity.User, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Service) ensureUsernameFree(ctx context.Context, userID int64, username string) error {
	other, err := s.store.GetByUsername(ctx, username)
	if err == nil {
		if other.ID != userID {
			return ErrUsernameTaken
		}
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("check username: %w", err)
}

// lostRace explains a conditional update that matched no row: either the
// user disappeared or a concurrent request restarted the cooldown first.
func (s *Service) lostRace(ctx context.Context, userID int64, field string, last func(*entity.User) time.Time) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	rem := s.remaining(last(u))
	if rem <= 0 {
		return fmt.Errorf("update %s: no row changed", field)
	}
	return rateLimited(field, rem)
}

func isDuplicate(err error) bool {
	return errors.Is(err, userrepo.ErrDuplicateEmail) || errors.Is(err, userrepo.ErrDuplicateUsername)
}
