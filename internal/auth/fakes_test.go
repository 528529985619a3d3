// AngelaMos | 2026
// fakes_test.go

package auth

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/rentals/backend/internal/config"
	"github.com/carterperez-dev/rentals/backend/internal/core"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryStore is a Transactor whose transactions run one at a time, which
// is what the row lock gives the rotation path in Postgres.
type memoryStore struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	tokens map[string]*RefreshToken
	now    func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{tokens: map[string]*RefreshToken{}, now: now}
}

func (s *memoryStore) WithinTx(
	ctx context.Context,
	fn func(repo Repository) error,
) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]*RefreshToken, len(s.tokens))
	for id, t := range s.tokens {
		clone := *t
		snapshot[id] = &clone
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.tokens = snapshot
		s.mu.Unlock()
		return err
	}

	return nil
}

func (s *memoryStore) Create(_ context.Context, token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.CreatedAt = s.now()
	clone := *token
	s.tokens[token.ID] = &clone
	return nil
}

func (s *memoryStore) FindByToken(
	_ context.Context,
	token string,
) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.Token == token {
			clone := *t
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
}

func (s *memoryStore) FindByTokenForUpdate(
	ctx context.Context,
	token string,
) (*RefreshToken, error) {
	return s.FindByToken(ctx, token)
}

func (s *memoryStore) FindByID(
	_ context.Context,
	id string,
) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	clone := *t
	return &clone, nil
}

func (s *memoryStore) Revoke(
	_ context.Context,
	id string,
	opts RevokeOptions,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return false, fmt.Errorf("revoke refresh token: %w", core.ErrNotFound)
	}
	if t.Revoked {
		return false, nil
	}

	s.revokeLocked(t, opts.ByIP)
	t.ReplacedByToken = opts.ReplacedBy
	return true, nil
}

func (s *memoryStore) RevokeDescendants(
	_ context.Context,
	token, byIP string,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for token != "" {
		t := s.byTokenLocked(token)
		if t == nil {
			break
		}
		if !t.Revoked {
			s.revokeLocked(t, byIP)
			revoked++
		}
		token = t.ReplacedByToken
	}
	return revoked, nil
}

func (s *memoryStore) RevokeAllForUser(
	_ context.Context,
	userID, byIP string,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			s.revokeLocked(t, byIP)
			revoked++
		}
	}
	return revoked, nil
}

func (s *memoryStore) FindActiveByUser(
	_ context.Context,
	userID string,
) ([]RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var active []RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.IsActiveAt(now) {
			active = append(active, *t)
		}
	}
	slices.SortFunc(active, func(a, b RefreshToken) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return active, nil
}

func (s *memoryStore) byTokenLocked(token string) *RefreshToken {
	for _, t := range s.tokens {
		if t.Token == token {
			return t
		}
	}
	return nil
}

func (s *memoryStore) revokeLocked(t *RefreshToken, byIP string) {
	now := s.now()
	t.Revoked = true
	t.RevokedAt = &now
	t.RevokedByIP = byIP
}

// record returns the stored state of token, failing the test if absent.
func (s *memoryStore) record(t *testing.T, token string) RefreshToken {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.byTokenLocked(token)
	require.NotNil(t, rec, "refresh token not stored")
	return *rec
}

func (s *memoryStore) mutate(token string, fn func(*RefreshToken)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.byTokenLocked(token); rec != nil {
		fn(rec)
	}
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*UserInfo
	seq   int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]*UserInfo{}}
}

func (u *memoryUsers) add(t *testing.T, email, password, role string) *UserInfo {
	t.Helper()

	hash, err := core.HashPassword(password)
	require.NoError(t, err)

	user, err := u.Create(context.Background(), email, hash, "Test User", role)
	require.NoError(t, err)
	return user
}

func (u *memoryUsers) setActive(id string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[id].IsActive = active
}

func (u *memoryUsers) GetByEmail(_ context.Context, email string) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, user := range u.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, core.ErrNotFound
}

func (u *memoryUsers) GetByID(_ context.Context, id string) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (u *memoryUsers) Create(
	_ context.Context,
	email, passwordHash, name, role string,
) (*UserInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, user := range u.users {
		if user.Email == email {
			return nil, core.ErrDuplicateKey
		}
	}

	u.seq++
	user := &UserInfo{
		ID:           fmt.Sprintf("user-%d", u.seq),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
	}
	u.users[user.ID] = user

	clone := *user
	return &clone, nil
}

func (u *memoryUsers) UpdatePassword(
	_ context.Context,
	userID, passwordHash string,
) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

type memoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{entries: map[string]time.Time{}}
}

func (b *memoryBlacklist) Add(_ context.Context, jti string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = expiresAt
	return nil
}

func (b *memoryBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[jti]
	return ok, nil
}

func (b *memoryBlacklist) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Collect(maps.Keys(b.entries))
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: 7 * 24 * time.Hour,
		RenewThreshold:     5 * time.Minute,
		ReuseGracePeriod:   10 * time.Second,
		Issuer:             "rentals-auth",
		Audience:           "rentals-api",
	}
}

func newTestJWT(t *testing.T, clock *testClock) *JWTManager {
	t.Helper()

	accessKey, err := GenerateSigningKey()
	require.NoError(t, err)
	refreshKey, err := GenerateSigningKey()
	require.NoError(t, err)

	m, err := NewJWTManagerFromKeys(accessKey, refreshKey, testJWTConfig())
	require.NoError(t, err)

	if clock != nil {
		m.now = clock.Now
	}
	return m
}

type testEnv struct {
	clock     *testClock
	jwt       *JWTManager
	store     *memoryStore
	users     *memoryUsers
	blacklist *memoryBlacklist
	service   *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTestClock()
	jwt := newTestJWT(t, clock)
	store := newMemoryStore(clock.Now)
	users := newMemoryUsers()
	blacklist := newMemoryBlacklist()

	svc := NewService(store, jwt, users, blacklist, ServiceConfig{
		ReuseGracePeriod: testJWTConfig().ReuseGracePeriod,
	})
	svc.refresher.now = clock.Now

	return &testEnv{
		clock:     clock,
		jwt:       jwt,
		store:     store,
		users:     users,
		blacklist: blacklist,
		service:   svc,
	}
}

var testMeta = ClientMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent"}
