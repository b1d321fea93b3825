package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for unparsable, badly signed or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims identifies a marketplace user. Name and Avatar label the user's chat messages.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name,omitempty"`
	Avatar string    `json:"avatar,omitempty"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 tokens.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate issues a token for the user.
func (s *JWTService) Generate(userID uuid.UUID, name, avatar, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		Avatar: avatar,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses and validates a token.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID validates tokenString and returns the user id as a string.
// It matches relay.TokenValidator.
func (s *JWTService) UserID(tokenString string) (string, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID.String(), nil
}
