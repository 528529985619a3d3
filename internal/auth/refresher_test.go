// AngelaMos | 2026
// refresher_test.go

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

func issueFor(t *testing.T, env *testEnv, user *UserInfo) *TokenPair {
	t.Helper()

	pair, err := env.service.issuer.Issue(context.Background(), user, testMeta)
	require.NoError(t, err)
	return pair
}

func TestRefresher_RotatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	result, err := env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.NoError(t, err)

	assert.Equal(t, user.ID, result.User.ID)
	assert.NotEqual(t, original.RefreshToken, result.Tokens.RefreshToken)
	assert.NotEqual(t, original.AccessToken, result.Tokens.AccessToken)

	old := env.store.record(t, original.RefreshToken)
	assert.True(t, old.Revoked)
	assert.Equal(t, result.Tokens.RefreshToken, old.ReplacedByToken)
	assert.Equal(t, testMeta.IPAddress, old.RevokedByIP)

	successor := env.store.record(t, result.Tokens.RefreshToken)
	assert.True(t, successor.IsActiveAt(env.clock.Now()))
	assert.Equal(t, testMeta.UserAgent, successor.UserAgent)

	_, err = env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrTokenReuse)
}

func TestRefresher_ReuseWithinGraceKeepsSuccessor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	result, err := env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)

	_, err = env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrTokenReuse)
	assert.ErrorIs(t, err, core.ErrTokenRotated)

	successor := env.store.record(t, result.Tokens.RefreshToken)
	assert.False(t, successor.Revoked)

	_, err = env.service.refresher.Refresh(ctx, result.Tokens.RefreshToken, testMeta)
	require.NoError(t, err)
}

func TestRefresher_ReuseAfterGraceRevokesDescendants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	second, err := env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)

	third, err := env.service.refresher.Refresh(ctx, second.Tokens.RefreshToken, testMeta)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)

	_, err = env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrTokenReuse)
	assert.NotErrorIs(t, err, core.ErrTokenRotated)

	latest := env.store.record(t, third.Tokens.RefreshToken)
	assert.True(t, latest.Revoked)
	assert.Empty(t, latest.ReplacedByToken)

	_, err = env.service.refresher.Refresh(ctx, third.Tokens.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrTokenReuse)
}

func TestRefresher_RefreshForOtherUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	other := env.users.add(t, "landlord@example.com", "correct-horse", RoleLandlord)
	original := issueFor(t, env, owner)

	_, err := env.service.refresher.RefreshFor(ctx, original.RefreshToken, other.ID, testMeta)
	require.ErrorIs(t, err, core.ErrTokenInvalid)
	assert.ErrorIs(t, err, core.ErrSubjectMismatch)

	rec := env.store.record(t, original.RefreshToken)
	assert.False(t, rec.Revoked)

	result, err := env.service.refresher.RefreshFor(ctx, original.RefreshToken, owner.ID, testMeta)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, result.User.ID)
}

func TestRefresher_ExpiryWinsOverRevocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	_, err := env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.NoError(t, err)

	env.store.mutate(original.RefreshToken, func(rec *RefreshToken) {
		rec.ExpiresAt = env.clock.Now().Add(-time.Second)
	})

	_, err = env.service.refresher.Refresh(ctx, original.RefreshToken, testMeta)
	require.ErrorIs(t, err, core.ErrTokenExpired)
	assert.False(t, errors.Is(err, ErrTokenReuse))
}

func TestRefresher_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	env.clock.Advance(testJWTConfig().RefreshTokenExpire + time.Second)

	_, err := env.service.refresher.Refresh(context.Background(), original.RefreshToken, testMeta)
	require.ErrorIs(t, err, core.ErrTokenExpired)

	rec := env.store.record(t, original.RefreshToken)
	assert.False(t, rec.Revoked)
}

func TestRefresher_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	other := env.users.add(t, "other@example.com", "correct-horse", RoleTenant)

	unstored, err := env.jwt.Issue(user.ID, KindRefresh, RoleTenant, time.Hour)
	require.NoError(t, err)

	hijacked := issueFor(t, env, user)
	env.store.mutate(hijacked.RefreshToken, func(rec *RefreshToken) {
		rec.UserID = other.ID
	})

	access := issueFor(t, env, user)

	tests := []struct {
		name  string
		token string
	}{
		{"unknown token", unstored.Value},
		{"record owned by another user", hijacked.RefreshToken},
		{"access token", access.AccessToken},
		{"garbage", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.refresher.Refresh(ctx, tt.token, testMeta)
			require.ErrorIs(t, err, core.ErrTokenInvalid)
		})
	}
}

func TestRefresher_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	env.users.setActive(user.ID, false)

	_, err := env.service.refresher.Refresh(context.Background(), original.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrAccountInactive)

	rec := env.store.record(t, original.RefreshToken)
	assert.False(t, rec.Revoked)
}

func TestRefresher_ConcurrentRotationHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	user := env.users.add(t, "tenant@example.com", "correct-horse", RoleTenant)
	original := issueFor(t, env, user)

	const callers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		reuseErr int
	)

	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			result, err := env.service.refresher.Refresh(
				context.Background(),
				original.RefreshToken,
				testMeta,
			)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, result.Tokens.RefreshToken)
			case errors.Is(err, ErrTokenReuse):
				assert.ErrorIs(t, err, core.ErrTokenRotated)
				reuseErr++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, callers-1, reuseErr)

	winner := env.store.record(t, winners[0])
	assert.False(t, winner.Revoked)

	active, err := env.store.FindActiveByUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
