// ABOUTME: Tests for registration, login, lockout, and role resolution
// ABOUTME: Runs against a real jsonfile record store in a temp dir

package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	records, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	tokens, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	return NewService(records, tokens, time.Hour, nil)
}

func registerClient(t *testing.T, s *Service, email string) *store.Client {
	t.Helper()
	c, err := s.RegisterClient(context.Background(), ClientRegistration{
		FirstName: "Ana",
		Email:     email,
		Password:  "s3cret-pw",
	})
	require.NoError(t, err)
	return c
}

func registerWorker(t *testing.T, s *Service, email string) *store.Worker {
	t.Helper()
	w, err := s.RegisterWorker(context.Background(), WorkerRegistration{
		FirstName:  "Bojan",
		Email:      email,
		Password:   "s3cret-pw",
		Profession: "electrician",
	})
	require.NoError(t, err)
	return w
}

func TestRegisterClient(t *testing.T) {
	s := newTestService(t)

	c := registerClient(t, s, "ana@example.com")
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "ana@example.com", c.Email)
	assert.Empty(t, c.PasswordHash, "returned profile has no password")
}

func TestRegisterClientValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ClientRegistration
	}{
		{"missing name", ClientRegistration{Email: "a@b.c", Password: "pw"}},
		{"missing password", ClientRegistration{FirstName: "Ana", Email: "a@b.c"}},
		{"bad email", ClientRegistration{FirstName: "Ana", Email: "not-an-email", Password: "pw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.RegisterClient(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestService(t)
	registerClient(t, s, "ana@example.com")

	_, err := s.RegisterClient(context.Background(), ClientRegistration{
		FirstName: "Other",
		Email:     "ANA@example.com",
		Password:  "pw123",
	})
	assert.ErrorIs(t, err, ErrEmailTaken, "email comparison is case-insensitive")
}

func TestLoginClient(t *testing.T) {
	s := newTestService(t)
	c := registerClient(t, s, "ana@example.com")

	result, err := s.Login(context.Background(), "ana@example.com", "s3cret-pw", auth.RoleClient)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	user, ok := result.User.(*store.Client)
	require.True(t, ok)
	assert.Equal(t, c.ID, user.ID)
	assert.Empty(t, user.PasswordHash)
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestService(t)
	registerClient(t, s, "ana@example.com")

	_, err := s.Login(context.Background(), "ana@example.com", "wrong", auth.RoleClient)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login(context.Background(), "nobody@example.com", "s3cret-pw", auth.RoleClient)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email reads the same as a bad password")
}

func TestLoginClientLockout(t *testing.T) {
	s := newTestService(t)
	registerClient(t, s, "ana@example.com")
	ctx := context.Background()

	for i := 0; i < maxFailedLogins; i++ {
		_, err := s.Login(ctx, "ana@example.com", "wrong", auth.RoleClient)
		require.Error(t, err)
	}

	// The account is now locked, even for the correct password.
	_, err := s.Login(ctx, "ana@example.com", "s3cret-pw", auth.RoleClient)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLoginResetsFailureCount(t *testing.T) {
	s := newTestService(t)
	registerClient(t, s, "ana@example.com")
	ctx := context.Background()

	for i := 0; i < maxFailedLogins-1; i++ {
		_, err := s.Login(ctx, "ana@example.com", "wrong", auth.RoleClient)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := s.Login(ctx, "ana@example.com", "s3cret-pw", auth.RoleClient)
	require.NoError(t, err)

	// The count starts over: one more failure does not lock.
	_, err = s.Login(ctx, "ana@example.com", "wrong", auth.RoleClient)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWorkerRefreshesDirectory(t *testing.T) {
	records, err := store.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	tokens, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)
	s := NewService(records, tokens, time.Hour, nil)

	w := registerWorker(t, s, "bojan@example.com")
	ctx := context.Background()

	result, err := s.Login(ctx, "bojan@example.com", "s3cret-pw", auth.RoleWorker)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	var entries []store.WorkerLogin
	require.NoError(t, records.Read(ctx, store.CollectionWorkerDB, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, w.ID, entries[0].ID)
	assert.Equal(t, "online", entries[0].Status)
	assert.False(t, entries[0].LastLogin.IsZero())

	// A second login updates the entry in place.
	_, err = s.Login(ctx, "bojan@example.com", "s3cret-pw", auth.RoleWorker)
	require.NoError(t, err)
	require.NoError(t, records.Read(ctx, store.CollectionWorkerDB, &entries))
	assert.Len(t, entries, 1)
}

func TestProfile(t *testing.T) {
	s := newTestService(t)
	c := registerClient(t, s, "ana@example.com")
	w := registerWorker(t, s, "bojan@example.com")
	ctx := context.Background()

	got, err := s.Profile(ctx, &auth.Identity{ID: c.ID, Role: auth.RoleClient})
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.(*store.Client).ID)

	got, err = s.Profile(ctx, &auth.Identity{ID: w.ID, Role: auth.RoleWorker})
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.(*store.Worker).ID)

	_, err = s.Profile(ctx, &auth.Identity{ID: "missing", Role: auth.RoleClient})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveClientLocation(t *testing.T) {
	s := newTestService(t)
	c := registerClient(t, s, "ana@example.com")
	ctx := context.Background()

	require.NoError(t, s.SaveClientLocation(ctx, c.ID, 41.99, 21.43))

	found, err := s.findClient(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Latitude)
	assert.InDelta(t, 41.99, *found.Latitude, 0.0001)

	err = s.SaveClientLocation(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoleOf(t *testing.T) {
	s := newTestService(t)
	c := registerClient(t, s, "ana@example.com")
	w := registerWorker(t, s, "bojan@example.com")
	ctx := context.Background()

	role, err := s.RoleOf(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleClient, role)

	role, err = s.RoleOf(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleWorker, role)

	_, err = s.RoleOf(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegisterManyClientsConcurrently(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			_, err := s.RegisterClient(ctx, ClientRegistration{
				FirstName: "Ana",
				Email:     fmt.Sprintf("ana%d@example.com", i),
				Password:  "pw123",
			})
			done <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	var clients []store.Client
	require.NoError(t, s.records.Read(ctx, store.CollectionClients, &clients))
	assert.Len(t, clients, 10, "no registration is lost to a concurrent write")
}
