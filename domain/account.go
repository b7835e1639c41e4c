package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the only password policy enforced.
const MinPasswordLength = 6

// Registration is the input of AccountService.Register.
type Registration struct {
	Email    string
	Password string
	Username string
}

// AccountService handles registration, login and account settings.
type AccountService struct {
	st   AccountStore
	cost int
}

// NewAccountService returns a service hashing passwords with the given
// bcrypt cost; a zero cost means bcrypt.DefaultCost.
func NewAccountService(st AccountStore, bcryptCost int) AccountService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return AccountService{st: st, cost: bcryptCost}
}

// NormalizeEmail is the canonical form used for uniqueness and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an Account. The password is hashed here, exactly once;
// nothing else in the account lifecycle touches the hash.
func (s AccountService) Register(ctx context.Context, r Registration) (Account, error) {
	email := NormalizeEmail(r.Email)
	if email == "" {
		return Account{}, Invalid("email", "Invalid email")
	}
	if len(r.Password) < MinPasswordLength {
		return Account{}, Invalid("password", fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	username := strings.TrimSpace(r.Username)
	if username == "" {
		return Account{}, Invalid("username", "Username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return Account{}, Invalid("password", "Password is too long")
		}
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	acc := Account{
		ID:           NewID(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Settings:     DefaultAccountSettings(),
		CreatedAt:    now(),
	}
	if err := s.st.CreateAccount(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Authenticate returns the account matching email and password. Unknown
// emails and wrong passwords both yield ErrInvalidCredentials.
func (s AccountService) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acc, err := s.st.FindAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return acc, nil
}

func (s AccountService) Get(ctx context.Context, id string) (Account, error) {
	return s.st.GetAccount(ctx, id)
}

// Settings returns the stored settings document unchanged.
func (s AccountService) Settings(ctx context.Context, id string) (AccountSettings, error) {
	acc, err := s.st.GetAccount(ctx, id)
	if err != nil {
		return AccountSettings{}, err
	}
	return acc.Settings, nil
}

// ReplaceSettings overwrites the whole settings document with exactly what
// was submitted.
func (s AccountService) ReplaceSettings(ctx context.Context, id string, settings AccountSettings) (AccountSettings, error) {
	acc, err := s.st.ReplaceAccountSettings(ctx, id, settings)
	if err != nil {
		return AccountSettings{}, err
	}
	return acc.Settings, nil
}
