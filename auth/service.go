package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"jurisflow/proceeding"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a token that is malformed, expired or signed with another key.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrWrongParty signals a valid token presented for another case or side.
	ErrWrongParty = errors.New("auth: token does not grant this party")
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("auth: party tokens disabled")
)

const defaultTTL = 24 * time.Hour

// PartyClaims binds a bearer to one side of one case.
type PartyClaims struct {
	CaseID string          `json:"case_id"`
	Side   proceeding.Side `json:"side"`
	jwt.RegisteredClaims
}

// Service issues and checks party tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service. An empty secret disables party tokens.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled reports whether tokens are issued and enforced.
func (s *Service) Enabled() bool { return len(s.secret) > 0 }

// IssuePartyToken signs a token for side on caseID.
func (s *Service) IssuePartyToken(caseID string, side proceeding.Side) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if strings.TrimSpace(caseID) == "" {
		return "", time.Time{}, fmt.Errorf("auth: case id required")
	}
	if !side.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: invalid side %q", side)
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := PartyClaims{
		CaseID: caseID,
		Side:   side,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caseID + ":" + string(side),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, expires, nil
}

// VerifyPartyToken validates a token and returns its claims.
func (s *Service) VerifyPartyToken(tokenString string) (PartyClaims, error) {
	if !s.Enabled() {
		return PartyClaims{}, ErrDisabled
	}

	var claims PartyClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return PartyClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.CaseID == "" || !claims.Side.Valid() {
		return PartyClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// Authorize checks that tokenString lets its bearer act as side on caseID.
// When tokens are disabled every request is allowed.
func (s *Service) Authorize(tokenString, caseID string, side proceeding.Side) error {
	if !s.Enabled() {
		return nil
	}
	claims, err := s.VerifyPartyToken(tokenString)
	if err != nil {
		return err
	}
	if claims.CaseID != caseID || claims.Side != side {
		return ErrWrongParty
	}
	return nil
}
