package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultScheme prefixes paths handed to the file layer, as in "swift://container/object".
const DefaultScheme = "swift"

// ValidatePath validates that a local file path is safe and does not contain
// directory traversal attempts.
//
// Returns an error if the path contains:
//   - ".." directory traversal sequences
//   - Absolute paths when not expected
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Clean the path to resolve any . or .. elements
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// StripScheme removes a single leading "scheme://" from path. Paths without
// the prefix are returned unchanged.
func StripScheme(path, scheme string) string {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return strings.TrimPrefix(path, scheme+"://")
}

// SplitContainerPath splits "container/object/name" into its container and
// object name. Leading slashes are ignored. A path naming only the container
// returns an empty object name.
//
// Example usage:
//
//	container, name, err := SplitContainerPath("media/2024/a.jpg")
//	// container == "media", name == "2024/a.jpg"
func SplitContainerPath(path string) (container, name string, err error) {
	trimmed := strings.TrimLeft(path, "/")
	container, name, _ = strings.Cut(trimmed, "/")
	if container == "" {
		return "", "", fmt.Errorf("path %q does not name a container", path)
	}
	return container, strings.TrimSuffix(name, "/"), nil
}

// ValidateObjectName rejects names the store would misinterpret.
func ValidateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("object name cannot be empty")
	}
	if len(name) > 1024 {
		return fmt.Errorf("object name longer than 1024 bytes")
	}
	if strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("object name contains a control character")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "." || segment == ".." {
			return fmt.Errorf("object name contains relative segment: %s", name)
		}
	}
	return nil
}
