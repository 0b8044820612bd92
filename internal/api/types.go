package api

import "github.com/voyago/authkit/internal/models"

// LoginRequest is the email/password login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Country   string `json:"country,omitempty"`
}

// GoogleSignInRequest exchanges a Google ID token for app tokens.
type GoogleSignInRequest struct {
	IDToken string `json:"id_token"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// userPayload is the backend's user record shape. The backend uses
// snake_case field names; they are mapped onto the internal model
// rather than leaking into it.
type userPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Avatar    string `json:"avatar"`
	Country   string `json:"country"`
	Provider  string `json:"provider"`
}

// authPayload is the shape of every auth endpoint response: a user
// record plus a token pair.
type authPayload struct {
	User         userPayload `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// tokenPayload is the refresh endpoint response.
type tokenPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p userPayload) toModel() models.User {
	provider := models.AuthProvider(p.Provider)
	if provider == "" {
		provider = models.ProviderEmail
	}
	return models.User{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Avatar:    p.Avatar,
		Country:   p.Country,
		Provider:  provider,
	}
}

func (p authPayload) toModel() models.User {
	user := p.User.toModel()
	user.ApplyTokens(models.TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
	})
	return user
}

// patch maps the authoritative profile record onto a partial
// update. Empty backend fields become nil entries so the merge never
// regresses a locally known value.
func (p userPayload) patch() models.UserPatch {
	return models.PatchFrom(map[string]string{
		"email":     p.Email,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"phone":     p.Phone,
		"avatar":    p.Avatar,
		"country":   p.Country,
	})
}
