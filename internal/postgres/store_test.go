package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		constraint string
		conflict   bool
	}{
		{"serialization failure", "40001", "", true},
		{"deadlock", "40P01", "", true},
		{"effect key raced", "23505", "effects_pkey", true},
		{"affiliate id raced", "23505", "users_affiliate_id_key", true},
		{"duplicate withdrawal id", "23505", "withdrawals_pkey", false},
		{"foreign key", "23503", "withdrawals_user_id_fkey", false},
		{"missing table", "42P01", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(fmt.Errorf("commit: %w", &pgconn.PgError{Code: tt.code, ConstraintName: tt.constraint, Message: "boom"}))
			assert.Equal(t, tt.conflict, errors.Is(err, ledger.ErrConcurrentModification))
		})
	}

	plain := errors.New("network down")
	assert.Same(t, plain, classify(plain))
}

func TestNotFound(t *testing.T) {
	err := notFound(pgx.ErrNoRows, "order", "o1")
	assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)
	assert.Contains(t, err.Error(), "order o1")

	other := errors.New("conn reset")
	assert.Equal(t, other, notFound(other, "order", "o1"))
}

func TestEveryBalanceFieldHasAColumn(t *testing.T) {
	for _, f := range []ledger.BalanceField{ledger.WalletBalance, ledger.AffiliateBalance, ledger.InfluencerBalance} {
		assert.NotEmpty(t, balanceColumn[f], f)
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"users", "products", "orders", "withdrawals", "works", "effects", "outbox"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}
