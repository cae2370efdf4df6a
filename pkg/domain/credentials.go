package domain

// Credentials are the raw authentication inputs of one request, extracted once
// by transport code.
type Credentials struct {
	// Authorization is the raw Authorization header value.
	Authorization string
	// APIKey is the presented key id or signed key handle.
	APIKey string
	Secret string

	ClientIP string
	Referrer string
}

// HasAny reports whether any credential header was supplied.
func (c Credentials) HasAny() bool {
	return c.Authorization != "" || c.APIKey != "" || c.Secret != ""
}

// Admission is what the authentication gate attached to a request. Either
// identity may be nil, and both may be set when a user token and a scoped key
// arrive together.
type Admission struct {
	User   *CallerIdentity
	APIKey *CallerIdentity
}

func (a Admission) Authenticated() bool {
	return a.User != nil || a.APIKey != nil
}
