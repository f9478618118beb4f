// Package secrets resolves credential settings from literal values,
// ${VAR} environment references or mounted secret files.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/pinalbum/internal/errors"
)

// maxSecretFileSize bounds reads of mounted secret files.
const maxSecretFileSize = 64 * 1024

// ExpandString expands ${VAR} and ${VAR:-default} references in s. A
// reference without a default to an unset variable is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", newError(fmt.Errorf("missing environment variable(s): %s", strings.Join(missing, ", ")))
	}
	return expanded, nil
}

// ReadFile reads a secret from path, as mounted by Docker or Kubernetes.
// Trailing newlines are trimmed; an empty file is an error.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", newError(fmt.Errorf("secret file path is empty"))
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", newError(fmt.Errorf("secret file %s: %w", clean, err))
	}
	if !info.Mode().IsRegular() {
		return "", newError(fmt.Errorf("secret path is not a regular file: %s", clean))
	}
	if info.Size() > maxSecretFileSize {
		return "", newError(fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", newError(fmt.Errorf("failed to read secret file %s: %w", clean, err))
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", newError(fmt.Errorf("secret file is empty: %s", clean))
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

func newError(err error) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Build()
}
