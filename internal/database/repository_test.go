package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
)

func TestMapErr(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", gorm.ErrRecordNotFound, apperr.ErrNotFound},
		{"unique", &pgconn.PgError{Code: pgUniqueViolation}, apperr.ErrConflict},
		{"foreign key", fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgForeignKeyViolation}), apperr.ErrNotFound},
		{"bad uuid", &pgconn.PgError{Code: pgInvalidText}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapErr(tt.err, "debate"), tt.want)
		})
	}

	assert.NoError(t, mapErr(nil, "debate"))

	err := mapErr(boom, "debate")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Equal(t, "debate not found", apperr.MessageOf(mapErr(gorm.ErrRecordNotFound, "debate")))
}

func TestIsPgCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: pgForeignKeyViolation})
	assert.True(t, isPgCode(err, pgForeignKeyViolation))
	assert.False(t, isPgCode(err, pgUniqueViolation))
	assert.False(t, isPgCode(errors.New("plain"), pgUniqueViolation))
}
