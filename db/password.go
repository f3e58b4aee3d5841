package db

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists       = errors.New("username already taken")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrEmptyCredentials = errors.New("username and password are required")
)

// UnknownUsername is returned by UsernameOf for an id with no user row.
const UnknownUsername = "<unknown>"

// dummyHash is compared against when the username does not exist, so a
// failed login costs the same whether the user is missing or the
// password is wrong.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("linechat-dummy-password"), bcrypt.DefaultCost)

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func checkPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

func validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}
	return nil
}
