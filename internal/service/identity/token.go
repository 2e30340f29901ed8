package identity

import (
	"errors"
	"fmt"
	"time"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

type (
	// Claims is the token issued by the identity provider. Subject is the external identity key.
	Claims struct {
		jwt.RegisteredClaims
		Name    string `json:"name,omitempty"`
		Email   string `json:"email,omitempty"`
		Picture string `json:"picture,omitempty"`
	}

	// Identity is a verified caller.
	Identity struct {
		Key     string
		Profile model.Profile
	}

	TokenVerifier struct {
		key []byte
	}
)

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{key: signingKey}
}

// Verify checks an HS256 provider token and returns the identity it carries.
func (v *TokenVerifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", errs.ErrUnauthenticated)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", errs.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", errs.ErrUnauthenticated)
	}

	return &Identity{
		Key: claims.Subject,
		Profile: model.Profile{
			DisplayName: claims.Name,
			Email:       claims.Email,
			AvatarRef:   claims.Picture,
		},
	}, nil
}

// Issue signs a token the way the provider does. Used by the dev client and tests.
func (v *TokenVerifier) Issue(key string, profile model.Profile, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:    profile.DisplayName,
		Email:   profile.Email,
		Picture: profile.AvatarRef,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}
