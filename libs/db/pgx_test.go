package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("23505")) {
		t.Fatal("plain errors are never unique violations")
	}
	if !IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be not found")
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing pool")
	}
}
