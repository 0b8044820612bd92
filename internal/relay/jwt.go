package relay

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
)

// DecodeIDTokenClaims extracts the profile claims from an ID token
// without verifying its signature; the token came straight from the
// provider redirect and is treated as opaque beyond its payload. Any
// decode failure yields an empty profile, never an error.
func DecodeIDTokenClaims(idToken string) models.GoogleProfile {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		return profileFromClaims(claims)
	}

	// Some issuers emit payload segments with padding or the standard
	// alphabet, which the strict parser rejects; fall back to a
	// tolerant decode of the payload segment alone.
	parts := strings.Split(idToken, ".")
	if len(parts) < 2 {
		return models.GoogleProfile{}
	}
	payload, ok := decodeSegment(parts[1])
	if !ok {
		logger.Debug("id token payload did not decode, using empty profile")
		return models.GoogleProfile{}
	}
	claims = jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return models.GoogleProfile{}
	}
	return profileFromClaims(claims)
}

// decodeSegment tolerates missing padding and both base64 alphabets.
func decodeSegment(seg string) ([]byte, bool) {
	if data, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return data, true
	}
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	if data, err := base64.StdEncoding.DecodeString(normalized); err == nil {
		return data, true
	}
	return nil, false
}

func profileFromClaims(claims jwt.MapClaims) models.GoogleProfile {
	str := func(key string) string {
		if v, ok := claims[key].(string); ok {
			return v
		}
		return ""
	}
	return models.GoogleProfile{
		Sub:        str("sub"),
		Email:      str("email"),
		GivenName:  str("given_name"),
		FamilyName: str("family_name"),
		Picture:    str("picture"),
	}
}
