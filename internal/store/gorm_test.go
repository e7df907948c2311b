package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"control_miles/internal/models"
)

func TestIsDuplicateKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", gorm.ErrDuplicatedKey, true},
		{"pgx", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx other", &pgconn.PgError{Code: "23503"}, false},
		{"pq", &pq.Error{Code: "23505"}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := isDuplicateKey(c.err); got != c.want {
			t.Errorf("%s: isDuplicateKey = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNotFoundTranslation(t *testing.T) {
	if !errors.Is(notFound(gorm.ErrRecordNotFound), models.ErrNotFound) {
		t.Fatalf("expected record not found to map to ErrNotFound")
	}
	other := errors.New("db down")
	if notFound(other) != other {
		t.Fatalf("expected other errors to pass through")
	}
}

func TestModelsListed(t *testing.T) {
	if len(Models()) != 4 {
		t.Fatalf("expected four migrated models")
	}
}
