package secret

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a reference as an environment variable name.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a provider backed by the process environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Resolve returns the value of the variable ref.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := p.lookup(ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, ref)
	}
	return v, nil
}

// Close is a no-op.
func (p *EnvProvider) Close() error { return nil }

// maxSecretFileSize bounds a secret file read.
const maxSecretFileSize = 64 << 10

// FileProvider resolves a reference as a file path, the way mounted
// Kubernetes and Docker secrets are consumed. Trailing newlines are
// trimmed.
type FileProvider struct {
	baseDir string
}

// NewFileProvider creates a file provider. A non-empty baseDir confines
// references to files below it; relative references are joined to it.
func NewFileProvider(baseDir string) *FileProvider {
	if baseDir != "" {
		baseDir = filepath.Clean(baseDir)
	}
	return &FileProvider{baseDir: baseDir}
}

// Name returns "file".
func (p *FileProvider) Name() string { return "file" }

// Resolve reads the file named by ref.
func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path, err := p.path(ref)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("secret: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSecretFileSize+1))
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", path, err)
	}
	if len(data) > maxSecretFileSize {
		return "", fmt.Errorf("%w: file %s exceeds %d bytes", ErrInvalidRef, path, maxSecretFileSize)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Close is a no-op.
func (p *FileProvider) Close() error { return nil }

func (p *FileProvider) path(ref string) (string, error) {
	if p.baseDir == "" {
		if !filepath.IsAbs(ref) {
			return "", fmt.Errorf("%w: file path %q is not absolute", ErrInvalidRef, ref)
		}
		return filepath.Clean(ref), nil
	}

	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.baseDir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(p.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: file path %q escapes %s", ErrInvalidRef, ref, p.baseDir)
	}
	return path, nil
}
