package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-bank/meridian-bank/internal/shared"
)

const minSignupAge = 18

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Service wraps session lifecycle and signup business rules.
type Service struct {
	repo       Repository
	sessionTTL time.Duration
	clock      func() time.Time
}

// NewService constructs a new Service. Sessions expire on an absolute TTL
// measured from creation.
func NewService(repo Repository, sessionTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		sessionTTL: sessionTTL,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// EstablishSession is the single choke point used by both login and signup.
// Old sessions for the user are deleted and one freshly identified row is
// inserted, all in one transaction.
func (s *Service) EstablishSession(ctx context.Context, userID int64) (*Session, error) {
	now := s.clock()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.repo.ReplaceSessions(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Validate resolves a session id to its owning user. It never mutates state:
// an expired row is rejected here and left for the sweeper to remove.
func (s *Service) Validate(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, shared.ErrUnauthenticated
	}
	sess, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, shared.ErrUnauthenticated
		}
		return 0, err
	}
	if sess.Expired(s.clock()) {
		return 0, shared.ErrUnauthenticated
	}
	return sess.UserID, nil
}

// Logout deletes the session row.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.repo.DeleteSession(ctx, sessionID)
}

// SweepExpired removes sessions past their lifetime and reports the count.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.clock())
}

// RegisterInput carries the inbound signup payload. NationalID arrives in
// full but only its last four digits survive the intake mapping.
type RegisterInput struct {
	Email       string
	Password    string
	FullName    string
	DateOfBirth string
	NationalID  string
}

// Register creates a user from the signup payload and establishes their
// first session. The stored record is built by enumerating approved fields
// one by one; the inbound payload is never persisted verbatim.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, *Session, error) {
	dob, err := s.validateDateOfBirth(input.DateOfBirth)
	if err != nil {
		return nil, nil, err
	}
	last4, err := deriveLast4(input.NationalID)
	if err != nil {
		return nil, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock()
	user, err := s.repo.CreateUser(ctx, User{
		Email:           input.Email,
		PasswordHash:    string(hash),
		FullName:        input.FullName,
		DateOfBirth:     dob,
		NationalIDLast4: last4,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.EstablishSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

func (s *Service) validateDateOfBirth(raw string) (time.Time, error) {
	dob, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError("date_of_birth", "must be a valid date in YYYY-MM-DD format")
	}
	now := s.clock()
	if dob.After(now) {
		return time.Time{}, shared.NewValidationError("date_of_birth", "must not be in the future")
	}
	if dob.AddDate(minSignupAge, 0, 0).After(now) {
		return time.Time{}, shared.NewValidationError("date_of_birth", "must be at least 18 years ago")
	}
	return dob, nil
}

// deriveLast4 keeps the last four digits of the submitted identifier. The
// full value is dropped here and never reaches a store write.
func deriveLast4(nationalID string) (string, error) {
	if len(nationalID) < 4 || !digitsOnly.MatchString(nationalID) {
		return "", shared.NewValidationError("national_id", "must be numeric with at least 4 digits")
	}
	return nationalID[len(nationalID)-4:], nil
}
