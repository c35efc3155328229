package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

// AuthService issues and validates the bearer tokens protecting the
// admin API. A single device credential is provisioned through
// configuration: the caller proves possession of the device key and
// receives a short-lived HS256 token.
type AuthService struct {
	deviceID      string
	deviceKeyHash string
	secret        []byte
	accessTTL     time.Duration
	logger        *zap.Logger
}

func NewAuthService(deviceID, deviceKeyHash, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		deviceID:      deviceID,
		deviceKeyHash: deviceKeyHash,
		secret:        []byte(jwtSecret),
		accessTTL:     accessTTL,
		logger:        logger,
	}
}

// IssueToken verifies the device credential and returns a signed token
// plus its lifetime in seconds.
func (s *AuthService) IssueToken(deviceID, deviceKey string) (string, int, error) {
	if s.deviceID == "" || s.deviceKeyHash == "" {
		return "", 0, &domain.ErrUnauthorized{Message: "device auth not configured"}
	}
	if deviceID != s.deviceID {
		s.logger.Warn("auth: unknown device", zap.String("device_id", deviceID))
		return "", 0, &domain.ErrUnauthorized{Message: "invalid device credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.deviceKeyHash), []byte(deviceKey)); err != nil {
		s.logger.Warn("auth: device key mismatch", zap.String("device_id", deviceID))
		return "", 0, &domain.ErrUnauthorized{Message: "invalid device credentials"}
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("signing token: %w", err)
	}
	return token, int(s.accessTTL.Seconds()), nil
}

// ValidateToken checks the signature and expiry and returns the device
// id the token was issued to.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	return claims.Subject, nil
}
