package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/store"
)

var (
	ErrInvalidLogin       = errors.New("login and password are required")
	ErrInvalidCredentials = errors.New("invalid login or password")
)

// UserService registers and authenticates the people who may request codes.
type UserService struct {
	store  store.UserStore
	cost   int
	logger *log.Logger
}

// NewUserService uses bcrypt.DefaultCost when cost is 0.
func NewUserService(st store.UserStore, cost int, logger *log.Logger) *UserService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserService{store: st, cost: cost, logger: logger}
}

func (s *UserService) Register(ctx context.Context, login, password string) error {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return ErrInvalidLogin
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	err = s.store.CreateUser(ctx, store.UserRecord{
		Login:        login,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.logger.Info("user registered", "login", login)
	return nil
}

// Authenticate returns ErrInvalidCredentials for both unknown logins and
// wrong passwords.
func (s *UserService) Authenticate(ctx context.Context, login, password string) error {
	rec, err := s.store.GetUser(ctx, strings.TrimSpace(login))
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		s.logger.Debug("password mismatch", "login", rec.Login)
		return ErrInvalidCredentials
	}
	return nil
}
