package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/tradingplatform/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Claims identify the caller of a protected endpoint
type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	jwt.RegisteredClaims
}

// Wallet returns the address the account acts as on the platform
func (c *Claims) Wallet() common.Address {
	return common.HexToAddress(c.Address)
}

// AuthService handles user authentication
type AuthService struct {
	Store  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(store UserStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{Store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a new user with hashed password bound to address
func (s *AuthService) Register(ctx context.Context, username, password string, address common.Address) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("address cannot be zero")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Store.CreateUser(ctx, username, string(hashedPassword), address)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.Issue(user)
}

// Issue signs a token for user
func (s *AuthService) Issue(user *models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID,
		Username: user.Username,
		Address:  user.Address.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

// GetUserFromToken validates tokenString and returns its claims
func (s *AuthService) GetUserFromToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || !common.IsHexAddress(claims.Address) {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AdminSet grants round transitions to a fixed set of addresses
type AdminSet map[common.Address]struct{}

// NewAdminSet builds an AdminSet
func NewAdminSet(addrs ...common.Address) AdminSet {
	set := make(AdminSet, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

// IsAdmin reports whether addr is in the set
func (a AdminSet) IsAdmin(addr common.Address) bool {
	_, ok := a[addr]
	return ok
}
