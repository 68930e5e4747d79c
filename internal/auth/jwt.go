// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

// Package auth implements the optional single-token ingestion gate:
// HS256 tokens issued at login and verified by middleware. There are no
// roles; a valid token grants full access.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/waymark-io/waymark/internal/config"
)

// ErrInvalidCredentials is returned by Login on a bad username or
// password. Callers must not distinguish which.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims are the token claims. Username identifies the operator.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager creates and validates tokens. HS256 only; tokens signed
// with any other algorithm are rejected.
type JWTManager struct {
	secret   []byte
	timeout  time.Duration
	username string
	password string
}

// NewJWTManager creates a manager from security config. The secret must
// be at least 32 characters.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	timeout := cfg.SessionTimeout
	if timeout == 0 {
		timeout = 24 * time.Hour
	}
	return &JWTManager{
		secret:   []byte(cfg.JWTSecret),
		timeout:  timeout,
		username: cfg.AdminUsername,
		password: cfg.AdminPasswordHash,
	}, nil
}

// Login verifies operator credentials against the configured bcrypt
// hash and issues a token.
func (m *JWTManager) Login(username, password string) (string, error) {
	if username != m.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.password), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return m.GenerateToken(username)
}

// GenerateToken signs a token valid for the session timeout.
func (m *JWTManager) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, algorithm, and time claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
