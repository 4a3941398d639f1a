// Package pathsafe validates file paths accepted from configuration before
// they are opened, guarding against path traversal and oversized input.
// The field-spec loaders validate their JSON files with it and the disk
// cache derives value-file names with SanitizeKey; the disk cache's
// directory and index paths are not validated here.
package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WithinDirectory reports an error if filePath resolves outside safeDir once
// both are made absolute and cleaned.
func WithinDirectory(filePath, safeDir string) error {
	cleanPath := filepath.Clean(filePath)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	relPath, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}

	return nil
}

// ValidateConfigFile checks that path has the expected extension and is not
// larger than maxBytes before the caller opens it.
func ValidateConfigFile(path, wantExt string, maxBytes int64) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != wantExt {
		return fmt.Errorf("config file must have %s extension, got %q", wantExt, ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxBytes {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxBytes)
	}

	return nil
}

// SanitizeKey replaces every non-alphanumeric byte in key with '_', the
// scheme the disk cache uses to derive a safe filename from an arbitrary
// cache key.
func SanitizeKey(key string) string {
	b := []byte(key)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}
