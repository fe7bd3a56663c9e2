package patch

import (
	"path/filepath"
	"strings"
)

// ValidatePath rejects raw patch-operation paths that are empty, contain
// control characters, are absolute, escape the workspace via ".." or a
// root component, or contain consecutive separators.
func ValidatePath(operation, rawPath string) error {
	if rawPath == "" {
		return &InvalidPathError{Operation: operation, Path: rawPath, Reason: "path is empty"}
	}

	for _, c := range rawPath {
		if c == 0 || c == '\r' || c == '\n' || c == '\t' {
			return &InvalidPathError{Operation: operation, Path: rawPath, Reason: "path contains control characters"}
		}
	}

	if filepath.IsAbs(rawPath) {
		return &InvalidPathError{Operation: operation, Path: rawPath, Reason: "path must be relative"}
	}

	cleaned := filepath.ToSlash(rawPath)
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return &InvalidPathError{Operation: operation, Path: rawPath, Reason: "path escapes workspace"}
		}
	}

	if strings.Contains(rawPath, "//") {
		return &InvalidPathError{Operation: operation, Path: rawPath, Reason: "path contains consecutive separators"}
	}

	return nil
}
