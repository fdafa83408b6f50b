package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
	ErrWrongKind    = errors.New("token cannot be used here")
)

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims holds the JWT payload. Name is the display name shown to the
// other players at the table.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// JWTManager issues and checks the tokens of players.
type JWTManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewJWTManager creates a JWTManager with the given secret.
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		accessExpiry:  time.Hour,
		refreshExpiry: 7 * 24 * time.Hour,
	}
}

func (m *JWTManager) sign(kind, userID, name string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Name:   name,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// parse validates the signature and expiry of a token of the given kind.
func (m *JWTManager) parse(tokenStr, kind string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// ValidateAccessToken returns the claims of a valid access token.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, KindAccess)
}

// TokenPair holds an access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	UserID       string `json:"user_id"`
}

// Issue creates both tokens for a user.
func (m *JWTManager) Issue(userID, name string) (*TokenPair, error) {
	access, err := m.sign(KindAccess, userID, name, m.accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(KindRefresh, userID, name, m.refreshExpiry)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(m.accessExpiry.Seconds()),
		UserID:       userID,
	}, nil
}

// Refresh trades a refresh token for a new pair.
func (m *JWTManager) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := m.parse(refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}
	return m.Issue(claims.UserID, claims.Name)
}
