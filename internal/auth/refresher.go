// AngelaMos | 2026
// refresher.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/rentals/backend/internal/core"
)

// Refresher exchanges a refresh token for a new pair. The presented token
// moves through these outcomes:
//
//	bad signature / wrong kind      -> core.ErrTokenInvalid
//	no matching record              -> core.ErrTokenInvalid
//	record or token past expiry     -> core.ErrTokenExpired
//	record revoked                  -> ErrTokenReuse
//	  rotated within grace period   -> ErrTokenRecentlyRotated
//	record active                   -> rotated
type Refresher struct {
	jwt         *JWTManager
	store       Transactor
	users       UserProvider
	issuer      *Issuer
	gracePeriod time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type RefresherConfig struct {
	// ReuseGracePeriod is how long after a rotation a re-presented token is
	// treated as a lost race instead of theft. Outside it, every descendant
	// of the reused token is revoked.
	ReuseGracePeriod time.Duration
	Logger           *slog.Logger
}

func NewRefresher(
	jwt *JWTManager,
	store Transactor,
	users UserProvider,
	cfg RefresherConfig,
) *Refresher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		jwt:         jwt,
		store:       store,
		users:       users,
		issuer:      NewIssuer(jwt, store),
		gracePeriod: cfg.ReuseGracePeriod,
		logger:      logger,
		now:         time.Now,
	}
}

type RefreshResult struct {
	User   *UserInfo
	Tokens *TokenPair
}

func (r *Refresher) Refresh(
	ctx context.Context,
	presented string,
	meta ClientMeta,
) (*RefreshResult, error) {
	return r.RefreshFor(ctx, presented, "", meta)
}

// RefreshFor is Refresh bound to a user. A token whose subject is not
// userID is rejected before any record is touched. An empty userID skips
// the check.
func (r *Refresher) RefreshFor(
	ctx context.Context,
	presented, userID string,
	meta ClientMeta,
) (*RefreshResult, error) {
	fingerprint := core.TokenFingerprint(presented)
	ctx, span := core.StartSpan(ctx, "auth.refresh",
		attribute.String("token.fingerprint", fingerprint),
	)
	defer span.End()

	claims, err := r.jwt.Verify(presented, KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	if userID != "" && claims.SubjectID != userID {
		r.logger.WarnContext(ctx, "refresh token presented for another user",
			"user_id", userID,
			"token_user_id", claims.SubjectID,
			"token", fingerprint,
			"ip_address", meta.IPAddress,
		)
		return nil, fmt.Errorf("refresh: %w: %w", core.ErrTokenInvalid, core.ErrSubjectMismatch)
	}

	var (
		result *RefreshResult
		reused *RefreshToken
	)

	err = r.store.WithinTx(ctx, func(repo Repository) error {
		record, findErr := repo.FindByTokenForUpdate(ctx, presented)
		if findErr != nil {
			if errors.Is(findErr, core.ErrNotFound) {
				return core.ErrTokenInvalid
			}
			return findErr
		}

		if record.UserID != claims.SubjectID {
			return core.ErrTokenInvalid
		}

		if record.IsExpiredAt(r.now()) {
			return core.ErrTokenExpired
		}

		if record.Revoked {
			reused = record
			return ErrTokenReuse
		}

		user, userErr := r.users.GetByID(ctx, record.UserID)
		if userErr != nil {
			if errors.Is(userErr, core.ErrNotFound) {
				return core.ErrTokenInvalid
			}
			return fmt.Errorf("get user: %w", userErr)
		}

		if !user.IsActive {
			return ErrAccountInactive
		}

		pair, issueErr := r.issuer.issueWith(ctx, repo, user, meta)
		if issueErr != nil {
			return issueErr
		}

		changed, revokeErr := repo.Revoke(ctx, record.ID, RevokeOptions{
			ReplacedBy: pair.RefreshToken,
			ByIP:       meta.IPAddress,
		})
		if revokeErr != nil {
			return fmt.Errorf("revoke rotated token: %w", revokeErr)
		}

		// Another rotation committed first.
		if !changed {
			return ErrTokenReuse
		}

		result = &RefreshResult{User: user, Tokens: pair}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenReuse) &&
			r.handleReuse(ctx, claims.SubjectID, fingerprint, reused, meta) {
			err = ErrTokenRecentlyRotated
		}
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("refresh: %w", err)
	}

	core.AddSpanEvent(ctx, "refresh_token_rotated",
		attribute.String("session.id", result.Tokens.SessionID),
	)

	return result, nil
}

// handleReuse reports whether the reuse was a lost rotation race. A nil
// record means the race was lost inside this transaction.
func (r *Refresher) handleReuse(
	ctx context.Context,
	userID, fingerprint string,
	record *RefreshToken,
	meta ClientMeta,
) bool {
	core.AddSpanEvent(ctx, "refresh_token_reuse_detected",
		attribute.String("user.id", userID),
	)

	if record == nil || r.rotatedWithinGrace(record) {
		r.logger.WarnContext(ctx, "refresh token rotated by a concurrent request",
			"user_id", userID,
			"token", fingerprint,
			"ip_address", meta.IPAddress,
		)
		return true
	}

	if record.RevokedAt == nil || record.ReplacedByToken == "" {
		r.logger.WarnContext(ctx, "revoked refresh token presented",
			"user_id", userID,
			"token", fingerprint,
			"ip_address", meta.IPAddress,
		)
		return false
	}

	revoked, err := r.store.RevokeDescendants(ctx, record.Token, meta.IPAddress)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to revoke descendants of reused token",
			"user_id", userID,
			"token", fingerprint,
			"error", err,
		)
		return false
	}

	r.logger.ErrorContext(ctx, "refresh token reuse detected",
		"user_id", userID,
		"token", fingerprint,
		"ip_address", meta.IPAddress,
		"user_agent", meta.UserAgent,
		"revoked_descendants", revoked,
	)
	return false
}

func (r *Refresher) rotatedWithinGrace(record *RefreshToken) bool {
	return record.RevokedAt != nil &&
		record.ReplacedByToken != "" &&
		r.now().Sub(*record.RevokedAt) <= r.gracePeriod
}
