package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/david/grant-discovery/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")
	ErrInvalidInput = errors.New("a valid email and a password of at least 8 characters are required")
)

const (
	minPasswordLen = 8
	tokenTTL       = 24 * time.Hour
)

// UserStore is the slice of the record store the auth service needs.
type UserStore interface {
	UserExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error)
}

type Service struct {
	users  UserStore
	secret []byte
	now    func() time.Time
}

func NewService(users UserStore, secret string) *Service {
	return &Service{users: users, secret: []byte(secret), now: time.Now}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || len(req.Password) < minPasswordLen {
		return nil, ErrInvalidInput
	}

	exists, err := s.users.UserExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		return nil, err
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: *user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, found, err := s.users.FindUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrInvalidCreds
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, err
	}

	// Clear hash before returning
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: *user}, nil
}

func (s *Service) generateToken(userID uuid.UUID) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("JWT secret unavailable")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken verifies an HS256 token signed by this service and returns the
// user id it was issued for.
func (s *Service) ParseToken(raw string) (uuid.UUID, error) {
	if len(s.secret) == 0 {
		return uuid.Nil, errors.New("JWT secret unavailable")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject: %w", err)
	}
	return id, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
