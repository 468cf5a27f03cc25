package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "offers_one_per_specialist"})

	if !IsUniqueViolation(err, "") {
		t.Fatal("expected match without constraint filter")
	}
	if !IsUniqueViolation(err, "offers_one_per_specialist") {
		t.Fatal("expected match on constraint name")
	}
	if IsUniqueViolation(err, "disputes_one_open_per_contract") {
		t.Fatal("expected no match on other constraint")
	}
	if IsUniqueViolation(errors.New("plain"), "") {
		t.Fatal("plain errors are not unique violations")
	}
}

func TestIsInvalidText(t *testing.T) {
	if !IsInvalidText(&pgconn.PgError{Code: "22P02"}) {
		t.Fatal("expected 22P02 to match")
	}
	if IsInvalidText(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected 23505 not to match")
	}
}
