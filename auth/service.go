package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong phone or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// Service handles account business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new account keyed by phone number.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	phone := normalizePhone(req.Phone)
	if phone == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: phone and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []Role{RoleClient}
	}
	for _, role := range roles {
		if !isValidRole(role) {
			return nil, fmt.Errorf("auth: invalid role %q", role)
		}
	}

	var email *string
	if trimmed := strings.TrimSpace(req.Email); trimmed != "" {
		email = &trimmed
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		FullName:     req.FullName,
		Phone:        phone,
		Email:        email,
		PasswordHash: string(passwordHash),
		Roles:        roles,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates by phone number and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByPhone(ctx, normalizePhone(req.Phone))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves account information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies partial profile edits, including inline BI capture
// from the contract-creation flow.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*User, error) {
	if update.BI != nil && strings.TrimSpace(*update.BI) == "" {
		return nil, fmt.Errorf("auth: bi cannot be blank")
	}
	if update.FullName != nil && strings.TrimSpace(*update.FullName) == "" {
		return nil, fmt.Errorf("auth: full_name cannot be blank")
	}

	user, err := s.repo.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the user ID and roles.
func (s *Service) VerifyToken(tokenString string) (string, []Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return "", nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", nil, fmt.Errorf("auth: invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", nil, fmt.Errorf("auth: invalid user_id in token")
	}
	rawRoles, ok := claims["roles"].([]any)
	if !ok {
		return "", nil, fmt.Errorf("auth: invalid roles in token")
	}
	roles := make([]Role, 0, len(rawRoles))
	for _, raw := range rawRoles {
		str, ok := raw.(string)
		if !ok || !isValidRole(Role(str)) {
			return "", nil, fmt.Errorf("auth: invalid role %v in token", raw)
		}
		roles = append(roles, Role(str))
	}
	return userID, roles, nil
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(userID string, roles []Role) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"roles":   roles,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleOwner, RoleClient, RoleBroker, RoleAdmin:
		return true
	default:
		return false
	}
}

// normalizePhone strips spaces and dashes so the same number always maps to
// the same account.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(phone))
}
