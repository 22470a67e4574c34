package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

var ErrorPasswordTooShort = errors.New("password must be at least 6 characters")

func HashPassword(s string) ([]byte, error) {
	if len(s) < MinPasswordLength {
		return nil, ErrorPasswordTooShort
	}
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
