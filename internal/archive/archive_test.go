package archive

import (
	"context"
	"testing"

	"adherence/internal/config"
	"adherence/internal/models"
)

func TestNewSinkUnconfiguredIsNoop(t *testing.T) {
	s, err := NewSink(config.Config{})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if _, ok := s.(NoopSink); !ok {
		t.Fatalf("sink = %T, want NoopSink", s)
	}
	if err := s.Archive(context.Background(), models.Course{}, nil); err != nil {
		t.Fatalf("noop Archive: %v", err)
	}
}

func TestNewSinkRejectsBadTableName(t *testing.T) {
	_, err := NewSink(config.Config{
		ArchiveDBDriver: "pgx",
		ArchiveDBDSN:    "postgres://localhost/warehouse",
		ArchiveTable:    "archived; DROP TABLE users",
	})
	if err == nil {
		t.Fatal("want error for invalid table identifier")
	}
}

func TestPlaceholderPerDriver(t *testing.T) {
	pg := &SQLSink{driver: "pgx"}
	if got := pg.ph(3); got != "$3" {
		t.Fatalf("pgx placeholder = %q", got)
	}
	my := &SQLSink{driver: "mysql"}
	if got := my.ph(3); got != "?" {
		t.Fatalf("mysql placeholder = %q", got)
	}
}
