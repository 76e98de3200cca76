package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// Claims 会话 Cookie 中携带的声明
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec 使用 HS256 签发和校验会话令牌
type TokenCodec struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenCodec 创建会话令牌编解码器
func NewTokenCodec(secret, issuer string, expiry time.Duration) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// Issue 为会话 ID 签发令牌
func (t *TokenCodec) Issue(sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Parse 校验令牌并返回会话 ID
func (t *TokenCodec) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}
