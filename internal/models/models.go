package models

import "time"

// AuthProvider identifies which identity provider a session came from
type AuthProvider string

const (
	ProviderEmail    AuthProvider = "email"
	ProviderGoogle   AuthProvider = "google"
	ProviderFacebook AuthProvider = "facebook"
	ProviderApple    AuthProvider = "apple"
)

// User is the identity plus token bundle for the current session.
// It is owned by the session manager and mutated only through its
// Login/Logout/UpdateUser operations.
type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Phone        string       `json:"phone,omitempty"`
	Avatar       string       `json:"avatar,omitempty"`
	Country      string       `json:"country,omitempty"`
	Provider     AuthProvider `json:"provider"`
	AuthToken    string       `json:"authToken"`
	RefreshToken string       `json:"refreshToken"`
}

// HasToken reports whether the user carries an access token. A User
// without one must not be treated as a valid session by API consumers.
func (u *User) HasToken() bool {
	return u != nil && u.AuthToken != ""
}

// ApplyTokens replaces both tokens. The pair always replaces both
// fields together, never one of them.
func (u *User) ApplyTokens(pair TokenPair) {
	u.AuthToken = pair.AccessToken
	u.RefreshToken = pair.RefreshToken
}

// TokenPair is the unit exchanged during a refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// GoogleProfile is the normalized result of a completed web sign-in
// handshake, built from the userinfo endpoint or the ID token claims.
type GoogleProfile struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// PendingResult is the payload a popup window leaves behind for the
// opener: the tokens it parsed plus the resolved profile. At most one
// unconsumed result exists; a later write overwrites an earlier one.
type PendingResult struct {
	IDToken     string        `json:"idToken"`
	AccessToken string        `json:"accessToken,omitempty"`
	Profile     GoogleProfile `json:"user"`
	StoredAt    time.Time     `json:"storedAt"`
}

// Merge overlays non-zero fields of partial onto u and returns the
// result. Fields absent from partial keep their current value, so a
// backend response that omits a field never regresses it.
func (u User) Merge(partial UserPatch) User {
	if partial.Email != nil {
		u.Email = *partial.Email
	}
	if partial.FirstName != nil {
		u.FirstName = *partial.FirstName
	}
	if partial.LastName != nil {
		u.LastName = *partial.LastName
	}
	if partial.Phone != nil {
		u.Phone = *partial.Phone
	}
	if partial.Avatar != nil {
		u.Avatar = *partial.Avatar
	}
	if partial.Country != nil {
		u.Country = *partial.Country
	}
	return u
}

// UserPatch is a partial update: nil fields are "leave unchanged".
type UserPatch struct {
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
	Avatar    *string
	Country   *string
}

func strPtr(s string) *string { return &s }

// PatchFrom builds a patch carrying only the non-empty fields of the
// given values. Helper for callers mapping loosely-typed payloads.
func PatchFrom(fields map[string]string) UserPatch {
	var p UserPatch
	for k, v := range fields {
		if v == "" {
			continue
		}
		switch k {
		case "email":
			p.Email = strPtr(v)
		case "firstName":
			p.FirstName = strPtr(v)
		case "lastName":
			p.LastName = strPtr(v)
		case "phone":
			p.Phone = strPtr(v)
		case "avatar":
			p.Avatar = strPtr(v)
		case "country":
			p.Country = strPtr(v)
		}
	}
	return p
}
