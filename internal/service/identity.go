package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// ErrIdentityExists is returned when an identity already uses the email.
var ErrIdentityExists = errors.New("identity already exists")

// IdentityProvider manages authentication identities. Provisioning treats it as a system
// outside its transactions, so a failed account creation must remove what it created here.
type IdentityProvider interface {
	Create(ctx context.Context, email, password string) (string, error)
	Delete(ctx context.Context, userID string) error
	SetPassword(ctx context.Context, userID, password string) error
	Verify(ctx context.Context, email, password string) (*models.User, error)
}

type identityRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// UserIdentityProvider stores identities in the users table with bcrypt hashes.
type UserIdentityProvider struct {
	repo identityRepository
	cost int
}

// NewUserIdentityProvider constructs a UserIdentityProvider.
func NewUserIdentityProvider(repo identityRepository) *UserIdentityProvider {
	return &UserIdentityProvider{repo: repo, cost: bcrypt.DefaultCost}
}

// Create registers a new identity and returns its id.
func (p *UserIdentityProvider) Create(ctx context.Context, email, password string) (string, error) {
	if _, err := p.repo.FindByEmail(ctx, email); err == nil {
		return "", ErrIdentityExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{Email: email, PasswordHash: string(hash)}
	if err := p.repo.Create(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// Delete removes an identity.
func (p *UserIdentityProvider) Delete(ctx context.Context, userID string) error {
	return p.repo.Delete(ctx, userID)
}

// SetPassword replaces the password of an identity.
func (p *UserIdentityProvider) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return p.repo.UpdatePassword(ctx, userID, string(hash), time.Now().UTC())
}

// Verify returns the identity when password matches. Unknown emails surface as sql.ErrNoRows.
func (p *UserIdentityProvider) Verify(ctx context.Context, email, password string) (*models.User, error) {
	user, err := p.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return user, nil
}

const (
	passwordLower   = "abcdefghijkmnopqrstuvwxyz"
	passwordUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordDigits  = "23456789"
	passwordSymbols = "!@#$%&*?"
)

// GenerateTempPassword returns a random password of at least 8 characters containing a lower
// case letter, an upper case letter, a digit and a symbol. Ambiguous glyphs are excluded.
func GenerateTempPassword(length int) (string, error) {
	if length < 8 {
		length = 8
	}
	sets := []string{passwordLower, passwordUpper, passwordDigits, passwordSymbols}
	all := strings.Join(sets, "")

	out := make([]byte, 0, length)
	for _, set := range sets {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[n.Int64()], nil
}
