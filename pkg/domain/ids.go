package domain

import (
	"strings"

	dErrors "gatehouse/pkg/domain-errors"
)

// Typed identifiers keep user, key and organization ids from being swapped.
type (
	UserID         string
	APIKeyID       string
	OrganizationID string
)

const maxIDLength = 128

func (id UserID) String() string         { return string(id) }
func (id APIKeyID) String() string       { return string(id) }
func (id OrganizationID) String() string { return string(id) }

// IsNil reports whether the id is unset.
func (id OrganizationID) IsNil() bool { return id == "" }

// ParseUserID validates an identifier received at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	v, err := parseID(s, "user id")
	return UserID(v), err
}

// ParseAPIKeyID validates a presented key identifier.
func ParseAPIKeyID(s string) (APIKeyID, error) {
	v, err := parseID(s, "api key id")
	return APIKeyID(v), err
}

// ParseOrganizationID validates an organization identifier.
func ParseOrganizationID(s string) (OrganizationID, error) {
	v, err := parseID(s, "organization id")
	return OrganizationID(v), err
}

func parseID(s, label string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" is too long")
	}
	for _, r := range s {
		if !isIDRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, label+" contains invalid characters")
		}
	}
	return s, nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}
