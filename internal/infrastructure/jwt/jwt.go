package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"asset-pipeline/internal/domain/quota"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid claims")
)

// Service verifies tokens issued by the account service, which shares the HS256 secret.
type Service struct {
	jwtSecret string
}

func New(jwtSecret string) *Service { return &Service{jwtSecret: jwtSecret} }

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Owner resolves the claims into the account the quota ledger charges. Unknown
// roles are kept as-is; the ledger falls back to the free tier for them.
func (c *Claims) Owner() (quota.Owner, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return quota.Owner{}, ErrInvalidClaims
	}
	role := quota.Role(c.Role)
	if role == "" {
		role = quota.RoleFree
	}
	return quota.Owner{ID: id, Role: role}, nil
}

func (s *Service) GenerateJWT(userID, role string, expiresIn time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) { return []byte(s.jwtSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
