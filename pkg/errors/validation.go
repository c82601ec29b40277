package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// libraryIDRegex matches library ids usable as a top-level directory and
// public URL segment.
var libraryIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateLibraryID validates a library id for safety and correctness.
// Library ids become directory names in the content tree and path segments
// in public URLs, so the rules are conservative:
//   - No empty ids
//   - Lowercase letters, digits, '.', '_' and '-' only
//   - Must not start with a separator
//   - Maximum length of 128 characters
func ValidateLibraryID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidLibrary, "library id cannot be empty")
	}
	if len(id) > 128 {
		return New(ErrCodeInvalidLibrary, "library id too long (max 128 characters)")
	}
	if !libraryIDRegex.MatchString(id) {
		return New(ErrCodeInvalidLibrary, "invalid library id: %q", id)
	}
	return nil
}

// ValidateVersionName validates a normalized version name before it is
// used as a directory in the content tree.
func ValidateVersionName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "version name cannot be empty")
	}
	if len(name) > 256 {
		return New(ErrCodeInvalidInput, "version name too long (max 256 characters)")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "version name contains invalid control characters")
		}
	}
	for _, pattern := range []string{"..", "/", "\\", "\x00"} {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidInput, "version name contains invalid characters: %q", pattern)
		}
	}
	if strings.HasPrefix(name, ".") {
		return New(ErrCodeInvalidInput, "version name cannot start with '.'")
	}
	return nil
}

// ValidatePath validates a file path within a source snapshot or a version
// directory. It prevents path traversal and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}
