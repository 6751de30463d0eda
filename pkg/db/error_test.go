package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsTransientErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "pgx serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "pgx deadlock", err: fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "pq lock timeout", err: &pq.Error{Code: "55P03"}, want: true},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "pgx unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransientErr(tc.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(&pq.Error{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: usage_records.idempotency_key")))
	assert.False(t, IsDuplicateKeyErr(errors.New("syntax error")))
}

func TestClassify(t *testing.T) {
	domainErr := errs.New(errs.KindValidation, "invalid_quantity")
	assert.Same(t, domainErr, Classify(domainErr))

	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.Equal(t, errs.KindUnknown, errs.KindOf(Classify(context.Canceled)))

	assert.Equal(t, errs.KindConflict, errs.KindOf(Classify(gorm.ErrDuplicatedKey)))

	classified := Classify(&pgconn.PgError{Code: "40001"})
	assert.Equal(t, errs.KindRepository, errs.KindOf(classified))
	assert.True(t, errs.Transient(classified))

	assert.NoError(t, Classify(nil))
}

func TestForUpdateOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	assert.Empty(t, ForUpdate(conn))
	assert.Empty(t, ForUpdateSkipLocked(conn))
	assert.Equal(t, " FOR UPDATE", ForUpdate(nil))
}
