package authentication

// Signs and verifies tokens exchanged with webhook receivers and control-API clients.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer = "btpolicyd"

	AudienceWebhook = "btpolicy.webhook"
	AudienceControl = "btpolicy.control"
)

var ErrEmptySecret = errors.New("empty signing secret")

// SignToken returns an HS256 JWT with the provided claims.
//
// The function overwrites the audience ("aud"), issuer ("iss") and issued-at ("iat") claims and
// sets an expiration ("exp") when lifetime is positive.
func SignToken(secret []byte, audience string, lifetime time.Duration, claims jwt.MapClaims) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	now := time.Now()
	claims["iss"] = Issuer
	claims["aud"] = audience
	claims["iat"] = jwt.NewNumericDate(now)
	if lifetime > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(lifetime))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyToken checks the signature, audience, issuer and expiration of tokenString and returns
// its claims.
func VerifyToken(secret []byte, audience, tokenString string) (jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
