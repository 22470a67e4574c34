package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const tokenIssuer = "garment-backend"

// JwtCustomClaim is the payload of the bearer tokens issued to integrations.
type JwtCustomClaim struct {
	ID        int    `json:"id"`
	FactoryId string `json:"factory_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	if secret := os.Getenv("API_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("Garment-Secret")
}

func JwtGenerate(userID int, factoryId string, username string, role string, lifespan time.Duration) (string, error) {
	now := time.Now()
	claim := &JwtCustomClaim{
		ID:        userID,
		FactoryId: factoryId,
		Username:  username,
		Role:      role,
		StandardClaims: jwt.StandardClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			ExpiresAt: now.Add(lifespan).Unix(),
			IssuedAt:  now.Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claim).SignedString(jwtSecret())
}

// ParseBearerToken verifies the signature, expiry and issuer of token and returns its claim.
func ParseBearerToken(token string) (*JwtCustomClaim, error) {
	claim := &JwtCustomClaim{}
	parsed, err := jwt.ParseWithClaims(token, claim, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || !claim.VerifyIssuer(tokenIssuer, true) || claim.Username == "" {
		return nil, errors.New("invalid bearer token")
	}
	return claim, nil
}
