package sqlite

import (
	"context"
	"database/sql"

	"github.com/sableauth/sable/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits/rollbacks; outer DB stays open

// Ping is a no-op for transactions; the connection already exists.
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx starts

func (t *txStore) Users() store.Users                             { return &usersRepo{q: t.tx} }
func (t *txStore) Roles() store.Roles                             { return &rolesRepo{q: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens             { return &refreshTokensRepo{q: t.tx} }
func (t *txStore) TwoFactorChallenges() store.TwoFactorChallenges { return &twoFactorRepo{q: t.tx} }
func (t *txStore) RecoveryCodes() store.RecoveryCodes             { return &recoveryCodesRepo{q: t.tx} }
func (t *txStore) ExternalAuthStates() store.ExternalAuthStates {
	return &externalStatesRepo{q: t.tx}
}
func (t *txStore) ExternalIdentities() store.ExternalIdentities {
	return &externalIdentitiesRepo{q: t.tx}
}
