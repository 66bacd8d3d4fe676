// Package security issues and checks admin credentials.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AdminRole is the role claim required by the admin routes.
const AdminRole = "admin"

// ValidateJWT validates a JWT token and returns the claims
func ValidateJWT(tokenString, jwtSecret string) (jwt.MapClaims, error) {
	if jwtSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// IsAdmin reports whether the claims carry the admin role.
func IsAdmin(claims jwt.MapClaims) bool {
	role, _ := claims["role"].(string)
	return role == AdminRole
}

// GenerateAdminToken creates an admin bearer token for subject valid for ttl.
func GenerateAdminToken(subject, jwtSecret string, ttl time.Duration) (string, error) {
	if jwtSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": AdminRole,
		"jti":  NewTokenID(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	result, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return result, nil
}
