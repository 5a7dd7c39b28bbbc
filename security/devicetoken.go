package security

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceIdentity describes one POS terminal session.
type DeviceIdentity struct {
	DeviceID string
	Tenant   string
	Operator string
}

type DeviceClaims struct {
	DeviceID string `json:"did"`
	Tenant   string `json:"tenant"`
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// CreateDeviceToken signs a session token for a POS device.
func CreateDeviceToken(identity *DeviceIdentity, base64Secret string, expiresInSeconds int64) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", fmt.Errorf("decode signing secret: %w", err)
	}

	claims := DeviceClaims{
		DeviceID: identity.DeviceID,
		Tenant:   identity.Tenant,
		Operator: identity.Operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tablio",
			Audience:  []string{"*.tablio.com"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expiresInSeconds) * time.Second)),
		},
	}

	// HS256; the suite shares a symmetric signing secret per environment.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretBytes)
}

// ParseDeviceToken validates a session token and returns its claims.
func ParseDeviceToken(tokenStr, base64Secret string) (*DeviceClaims, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	claims := &DeviceClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
