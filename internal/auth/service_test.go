package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-bank/meridian-bank/internal/shared"
)

type memoryAuthRepo struct {
	mu         sync.Mutex
	users      map[int64]*User
	byEmail    map[string]int64
	sessions   map[string]Session
	nextUserID int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{
		users:    make(map[int64]*User),
		byEmail:  make(map[string]int64),
		sessions: make(map[string]Session),
	}
}

func (r *memoryAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *r.users[id]
	return &copied, nil
}

func (r *memoryAuthRepo) CreateUser(ctx context.Context, user User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[user.Email]; exists {
		return nil, shared.NewValidationError("email", "already registered")
	}
	r.nextUserID++
	user.ID = r.nextUserID
	r.users[user.ID] = &user
	r.byEmail[user.Email] = user.ID
	copied := user
	return &copied, nil
}

// ReplaceSessions models the delete-then-insert transaction the way the
// store runs it: the mutex stands in for the per-user advisory lock, so
// concurrent calls serialize fully and the later one wins.
func (r *memoryAuthRepo) ReplaceSessions(ctx context.Context, sess Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.sessions {
		if existing.UserID == sess.UserID {
			delete(r.sessions, id)
		}
	}
	r.sessions[sess.ID] = sess
	return nil
}

func (r *memoryAuthRepo) FindSession(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := sess
	return &copied, nil
}

func (r *memoryAuthRepo) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memoryAuthRepo) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, sess := range r.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *memoryAuthRepo) sessionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, sess := range r.sessions {
		if sess.UserID == userID {
			count++
		}
	}
	return count
}

var _ Repository = (*memoryAuthRepo)(nil)

func validSignup() RegisterInput {
	return RegisterInput{
		Email:       "jo@example.com",
		Password:    "hunter2hunter2",
		FullName:    "Jo Castillo",
		DateOfBirth: "1990-04-02",
		NationalID:  "123456789",
	}
}

func TestEstablishSessionReplacesPriorSessions(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	first, err := svc.EstablishSession(ctx, 1)
	require.NoError(t, err)
	second, err := svc.EstablishSession(ctx, 1)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	require.Equal(t, 1, repo.sessionCount(1))

	_, err = svc.Validate(ctx, first.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	userID, err := svc.Validate(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), userID)
}

func TestEstablishSessionConcurrentLoginsLeaveOneRow(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	const logins = 20
	var wg sync.WaitGroup
	wg.Add(logins)
	for i := 0; i < logins; i++ {
		go func() {
			defer wg.Done()
			_, _ = svc.EstablishSession(ctx, 7)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, repo.sessionCount(7))
}

func TestValidateRejectsUnknownSession(t *testing.T) {
	svc := NewService(newMemoryAuthRepo(), time.Hour)

	_, err := svc.Validate(context.Background(), "nope")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.Validate(context.Background(), "")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestValidateRejectsExpiredWithoutMutating(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	sess, err := svc.EstablishSession(ctx, 3)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = svc.Validate(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	// Validate never deletes; expired rows are the sweeper's job.
	require.Equal(t, 1, repo.sessionCount(3))
}

func TestLogoutDeletesAuthoritatively(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	sess, err := svc.EstablishSession(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.ID))
	require.Equal(t, 0, repo.sessionCount(2))

	_, err = svc.Validate(ctx, sess.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	stale, err := svc.EstablishSession(ctx, 1)
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	fresh, err := svc.EstablishSession(ctx, 2)
	require.NoError(t, err)

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	require.Equal(t, 0, repo.sessionCount(1))
	_, err = svc.Validate(ctx, stale.ID)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	_, err = svc.Validate(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, User{Email: "amy@example.com", PasswordHash: string(hash), IsActive: true})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "amy@example.com", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "amy@example.com", user.Email)

	_, err = svc.Authenticate(ctx, "amy@example.com", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateRejectsInactiveUser(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	_, err := repo.CreateUser(ctx, User{Email: "off@example.com", PasswordHash: string(hash), IsActive: false})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "off@example.com", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRegisterKeepsOnlyApprovedFields(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	svc := NewService(repo, time.Hour)

	input := validSignup()
	user, sess, err := svc.Register(ctx, input)
	require.NoError(t, err)

	require.Equal(t, "6789", user.NationalIDLast4)
	require.Len(t, user.NationalIDLast4, 4)
	require.NotEqual(t, input.Password, user.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)))
	require.True(t, user.IsActive)

	// Signup goes through the same choke point as login.
	userID, err := svc.Validate(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)
	require.Equal(t, 1, repo.sessionCount(user.ID))
}

func TestRegisterRejectsBadDateOfBirth(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryAuthRepo(), time.Hour)
	svc.clock = func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}

	cases := map[string]string{
		"malformed": "02/04/1990",
		"future":    "2030-01-01",
		"underage":  "2010-06-15",
	}
	for name, dob := range cases {
		input := validSignup()
		input.DateOfBirth = dob
		_, _, err := svc.Register(ctx, input)
		var vErr *shared.ValidationError
		require.ErrorAs(t, err, &vErr, name)
		require.Equal(t, "date_of_birth", vErr.Field, name)
	}
}

func TestRegisterExactly18IsAccepted(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryAuthRepo(), time.Hour)
	svc.clock = func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}

	input := validSignup()
	input.DateOfBirth = "2008-03-01"
	_, _, err := svc.Register(ctx, input)
	require.NoError(t, err)
}

func TestRegisterRejectsBadNationalID(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryAuthRepo(), time.Hour)

	for _, id := range []string{"123", "12ab5678", ""} {
		input := validSignup()
		input.NationalID = id
		_, _, err := svc.Register(ctx, input)
		var vErr *shared.ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, "national_id", vErr.Field)
	}
}
