package main

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// subjectOf reads the user id from a token without verifying it; the
// server does the verification.
func subjectOf(token string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("token subject %q is not a user id", claims.Subject)
	}
	return id, nil
}
