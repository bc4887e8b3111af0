package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("TOOLGATE_TEST_SECRET", "value")
	p := NewEnvProvider()

	got, err := p.Resolve(context.Background(), "TOOLGATE_TEST_SECRET")
	if err != nil || got != "value" {
		t.Fatalf("Resolve() = %q, %v", got, err)
	}
	if _, err := p.Resolve(context.Background(), "TOOLGATE_TEST_UNSET"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unset variable: error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}
	crlf := write("crlf", "token\r\n")
	big := write("big", strings.Repeat("x", maxSecretFileSize+1))
	write("plain", "abc")

	ctx := context.Background()

	t.Run("absolute path trims newlines", func(t *testing.T) {
		got, err := NewFileProvider("").Resolve(ctx, crlf)
		if err != nil || got != "token" {
			t.Errorf("Resolve() = %q, %v", got, err)
		}
	})

	t.Run("relative path without base dir", func(t *testing.T) {
		_, err := NewFileProvider("").Resolve(ctx, "plain")
		if !errors.Is(err, ErrInvalidRef) {
			t.Errorf("error = %v, want ErrInvalidRef", err)
		}
	})

	t.Run("relative path joined to base dir", func(t *testing.T) {
		got, err := NewFileProvider(dir).Resolve(ctx, "plain")
		if err != nil || got != "abc" {
			t.Errorf("Resolve() = %q, %v", got, err)
		}
	})

	t.Run("escape from base dir", func(t *testing.T) {
		_, err := NewFileProvider(dir).Resolve(ctx, "../../etc/passwd")
		if !errors.Is(err, ErrInvalidRef) {
			t.Errorf("error = %v, want ErrInvalidRef", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileProvider(dir).Resolve(ctx, "absent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("oversized file", func(t *testing.T) {
		_, err := NewFileProvider("").Resolve(ctx, big)
		if !errors.Is(err, ErrInvalidRef) {
			t.Errorf("error = %v, want ErrInvalidRef", err)
		}
	})
}
