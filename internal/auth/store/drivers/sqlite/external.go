package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
)

type externalStatesRepo struct {
	q dbtx
}

func (r *externalStatesRepo) CreateState(ctx context.Context, s domain.ExternalAuthState) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO external_auth_states (id, token_hash, provider, redirect_uri,
			user_id, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TokenHash, s.Provider, s.RedirectURI,
		mapOptionalString(s.UserID), s.Used, s.ExpiresAt, s.CreatedAt,
	)
	return mapConstraint(err)
}

// ConsumeStateByHash flips used=1 with a guard so a replayed state value loses
// the race, then returns the row the winner claimed.
func (r *externalStatesRepo) ConsumeStateByHash(
	ctx context.Context,
	hash string,
) (domain.ExternalAuthState, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE external_auth_states SET used = 1
		WHERE token_hash = ? AND used = 0`, hash)
	if err != nil {
		return domain.ExternalAuthState{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.ExternalAuthState{}, err
	}
	if n == 0 {
		return domain.ExternalAuthState{}, store.ErrNotFound
	}

	row := r.q.QueryRowContext(ctx, `
		SELECT id, token_hash, provider, redirect_uri, user_id, used,
			expires_at, created_at
		FROM external_auth_states WHERE token_hash = ?`, hash)

	var s domain.ExternalAuthState
	var userID sql.NullString
	err = row.Scan(&s.ID, &s.TokenHash, &s.Provider, &s.RedirectURI,
		&userID, &s.Used, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return domain.ExternalAuthState{}, mapNotFound(err)
	}
	s.UserID = mapNullStringPtr(userID)
	return s, nil
}

func (r *externalStatesRepo) DeleteExpiredStates(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM external_auth_states WHERE expires_at < ?`, cutoff)
	return err
}

type externalIdentitiesRepo struct {
	q dbtx
}

func (r *externalIdentitiesRepo) CreateIdentity(ctx context.Context, id domain.ExternalIdentity) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO external_identities (user_id, provider, provider_user_id,
			provider_username, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id.UserID, id.Provider, id.ProviderUserID, id.ProviderUsername, id.CreatedAt,
	)
	return mapConstraint(err)
}

func (r *externalIdentitiesRepo) GetIdentity(
	ctx context.Context,
	provider, providerUserID string,
) (domain.ExternalIdentity, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT user_id, provider, provider_user_id, provider_username, created_at
		FROM external_identities
		WHERE provider = ? AND provider_user_id = ?`, provider, providerUserID)

	var id domain.ExternalIdentity
	err := row.Scan(&id.UserID, &id.Provider, &id.ProviderUserID,
		&id.ProviderUsername, &id.CreatedAt)
	if err != nil {
		return domain.ExternalIdentity{}, mapNotFound(err)
	}
	return id, nil
}

func (r *externalIdentitiesRepo) ListIdentitiesForUser(
	ctx context.Context,
	userID string,
) ([]domain.ExternalIdentity, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id, provider, provider_user_id, provider_username, created_at
		FROM external_identities WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExternalIdentity
	for rows.Next() {
		var id domain.ExternalIdentity
		if err := rows.Scan(&id.UserID, &id.Provider, &id.ProviderUserID,
			&id.ProviderUsername, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *externalIdentitiesRepo) DeleteIdentity(ctx context.Context, userID, provider string) error {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM external_identities WHERE user_id = ? AND provider = ?`,
		userID, provider)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *externalIdentitiesRepo) CountIdentitiesForUser(
	ctx context.Context,
	userID string,
) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM external_identities WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
