package domain

import (
	"slices"
	"time"
)

// APIKeyRecord is owned by the external key store. The admission layer only
// reads it.
//
// A nil restriction slice means the key is unrestricted on that axis. An empty
// non-nil slice is treated the same way.
type APIKeyRecord struct {
	ID                   APIKeyID       `json:"id"`
	SecretHash           string         `json:"-"`
	OrganizationID       OrganizationID `json:"organizationId,omitempty"`
	Scopes               []string       `json:"scopes,omitempty"`
	IPRestrictions       []string       `json:"ipRestrictions,omitempty"`
	ReferrerRestrictions []string       `json:"referrerRestrictions,omitempty"`
	ExpiresAt            *time.Time     `json:"expiresAt,omitempty"`
}

// IsExpiredAt reports whether the key has an expiry at or before now.
func (r *APIKeyRecord) IsExpiredAt(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// OwnedByOrganization reports whether the key belongs to an organization.
// Such keys get the higher rate tier and skip the speed limiter.
func (r *APIKeyRecord) OwnedByOrganization() bool {
	return r != nil && !r.OrganizationID.IsNil()
}

func (r *APIKeyRecord) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}
