package domain

// CallerKind tags a CallerIdentity.
type CallerKind string

const (
	CallerUser   CallerKind = "user"
	CallerAPIKey CallerKind = "api-key"
)

// CallerIdentity is the only authorization input handed to handlers.
// Exactly one of the kind-specific fields is set.
type CallerIdentity struct {
	Kind   CallerKind
	UserID UserID
	Claims map[string]any
	APIKey *APIKeyRecord
}

func UserCaller(userID UserID, claims map[string]any) CallerIdentity {
	return CallerIdentity{Kind: CallerUser, UserID: userID, Claims: claims}
}

func APIKeyCaller(record *APIKeyRecord) CallerIdentity {
	return CallerIdentity{Kind: CallerAPIKey, APIKey: record}
}

// PresentedKeyKind distinguishes the two shapes accepted in the key header.
type PresentedKeyKind int

const (
	// PresentedKeyRaw is a bare key id looked up in the key store.
	PresentedKeyRaw PresentedKeyKind = iota
	// PresentedKeySigned is a signed api-key token embedding the key id.
	PresentedKeySigned
)

// PresentedKey is the credential found in the key header, classified once.
type PresentedKey struct {
	Kind  PresentedKeyKind
	Value string
}

// ClassifyPresentedKey decides the shape of a presented key. Compact JWS values
// have three dot-separated segments and a JSON header, which base64url-encodes
// to a leading "eyJ".
func ClassifyPresentedKey(value string) PresentedKey {
	if len(value) > 3 && value[:3] == "eyJ" && countDots(value) == 2 {
		return PresentedKey{Kind: PresentedKeySigned, Value: value}
	}
	return PresentedKey{Kind: PresentedKeyRaw, Value: value}
}

func countDots(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			n++
		}
	}
	return n
}
