package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "health-companion"

var errRecordDiverged = errors.New("session token does not match record")

type tokenClaims struct {
	UserID  int64  `json:"user_id"`
	Phone   string `json:"phone"`
	Version int64  `json:"version"`
	jwt.RegisteredClaims
}

// Signer binds a session record's identity and version to an HS256 token,
// so a record edited outside the store is detected on restore.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(rec Record) (string, error) {
	claims := tokenClaims{
		UserID:  rec.User.ID,
		Phone:   rec.User.Phone,
		Version: rec.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(rec.SyncedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Verify(rec Record) error {
	token, err := jwt.ParseWithClaims(rec.Token, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	if claims.UserID != rec.User.ID || claims.Phone != rec.User.Phone || claims.Version != rec.Version {
		return errRecordDiverged
	}
	return nil
}
