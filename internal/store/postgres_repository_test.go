package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001", Message: "could not serialize"}, want: ErrConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, want: ErrConflict},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: ErrConflict},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "temporary_cards_card_number_key"}, want: ErrDuplicate},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: ErrUnavailable},
		{name: "wrapped conflict", err: fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"}), want: ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapPgError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMapPgError_PassesThroughOtherErrors(t *testing.T) {
	if got := mapPgError(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := mapPgError(ErrCardNotFound); got != ErrCardNotFound {
		t.Fatalf("expected sentinel to pass through, got %v", got)
	}
	check := &pgconn.PgError{Code: "23514"}
	if got := mapPgError(check); got != check {
		t.Fatalf("expected check violation to pass through, got %v", got)
	}
}

func TestNotFound(t *testing.T) {
	if got := notFound(pgx.ErrNoRows, ErrStatementNotFound); got != ErrStatementNotFound {
		t.Fatalf("expected ErrStatementNotFound, got %v", got)
	}
	other := errors.New("other")
	if got := notFound(other, ErrStatementNotFound); got != other {
		t.Fatalf("expected passthrough, got %v", got)
	}
}
