package db

import (
	"context"
	"testing"
)

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://invalid:5432/nonexistent?connect_timeout=1")
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestNewWithUnparsableURL(t *testing.T) {
	_, err := New(context.Background(), "::not a url::")
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestNilDBIsNotHealthy(t *testing.T) {
	var d *DB
	if d.Healthy(context.Background()) {
		t.Error("expected nil DB to be unhealthy")
	}
	d.Close()
}

func TestRunMigrationsMissingDir(t *testing.T) {
	err := RunMigrations("postgres://invalid:5432/nonexistent?connect_timeout=1", "/nonexistent/migrations")
	if err == nil {
		t.Fatal("expected error for missing migrations directory")
	}
}
