// Package auth issues and verifies the bearer tokens that identify every
// HTTP request and websocket session before the hub sees it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"classin-server/domain"
	"classin-server/store"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const tokenTTL = 7 * 24 * time.Hour

// UserAccounts is the slice of the user store auth needs.
type UserAccounts interface {
	Create(ctx context.Context, name, email, passwordHash string, role domain.Role) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
}

// Response is what register and login hand back to the client.
type Response struct {
	Token  string      `json:"token"`
	UserID int         `json:"userId"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
}

type Service struct {
	users    UserAccounts
	secret   []byte
	issuer   string
	audience string
}

func NewService(users UserAccounts, secret, issuer, audience string) *Service {
	return &Service{users: users, secret: []byte(secret), issuer: issuer, audience: audience}
}

func (s *Service) Register(ctx context.Context, name, email, password string, role domain.Role) (Response, error) {
	if role != domain.RoleStudent && role != domain.RoleTeacher {
		return Response{}, fmt.Errorf("role must be %d (student) or %d (teacher)", domain.RoleStudent, domain.RoleTeacher)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Response{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, name, email, string(hash), role)
	if err != nil {
		return Response{}, err
	}
	return s.respond(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (Response, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, store.ErrInvalidCredentials
	}
	if err != nil {
		return Response{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Response{}, store.ErrInvalidCredentials
	}
	return s.respond(u)
}

func (s *Service) respond(u domain.User) (Response, error) {
	token, err := s.issue(u)
	if err != nil {
		return Response{}, err
	}
	return Response{Token: token, UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}, nil
}

func (s *Service) issue(u domain.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  strconv.Itoa(u.ID),
		"name": u.Name,
		"role": u.Role.String(),
		"iss":  s.issuer,
		"aud":  s.audience,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and standard claims and returns the user id.
func (s *Service) Verify(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.Atoi(sub)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// TokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the access_token query parameter used by the websocket
// path, where browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}
