package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gatehouse/pkg/domain-errors"
)

// Identifiers arrive in headers and key-store rows, so parsing is the trust boundary.
func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE api_keys;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "key\x00suffix", true},
		{"Key delimiter", "ip:10.0.0.1", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "key\u200Bid", true},
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},

		{"UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"Prefixed key id", "key_live.9f2c", false},
		{"Surrounding whitespace trimmed", "  key-1  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAPIKeyID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	for _, input := range []string{"", "bad id", "a:b"} {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errUser := ParseUserID(input)
			_, errKey := ParseAPIKeyID(input)
			_, errOrg := ParseOrganizationID(input)

			require.Error(t, errUser)
			require.Error(t, errKey)
			require.Error(t, errOrg)
		})
	}
}

func TestAPIKeyRecord(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("no expiry never expires", func(t *testing.T) {
		r := &APIKeyRecord{ID: "k1"}
		assert.False(t, r.IsExpiredAt(now))
	})

	t.Run("expiry is inclusive", func(t *testing.T) {
		r := &APIKeyRecord{ID: "k1", ExpiresAt: &now}
		assert.True(t, r.IsExpiredAt(now))
		assert.False(t, r.IsExpiredAt(now.Add(-time.Second)))
	})

	t.Run("organization ownership", func(t *testing.T) {
		assert.False(t, (&APIKeyRecord{ID: "k1"}).OwnedByOrganization())
		assert.True(t, (&APIKeyRecord{ID: "k1", OrganizationID: "org-1"}).OwnedByOrganization())
		var nilRecord *APIKeyRecord
		assert.False(t, nilRecord.OwnedByOrganization())
	})

	t.Run("scopes", func(t *testing.T) {
		r := &APIKeyRecord{Scopes: []string{"orgs:read"}}
		assert.True(t, r.HasScope("orgs:read"))
		assert.False(t, r.HasScope("orgs:write"))
	})
}

func TestClassifyPresentedKey(t *testing.T) {
	signed := "eyJhbGciOiJIUzI1NiJ9.eyJpZCI6ImsxIn0.c2ln"
	assert.Equal(t, PresentedKeySigned, ClassifyPresentedKey(signed).Kind)
	assert.Equal(t, PresentedKeyRaw, ClassifyPresentedKey("key_live.9f2c").Kind)
	assert.Equal(t, PresentedKeyRaw, ClassifyPresentedKey("eyJ").Kind)
	assert.Equal(t, PresentedKeyRaw, ClassifyPresentedKey("eyJa.b.c.d").Kind)
}
