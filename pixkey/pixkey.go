/*
Package pixkey registers and resolves PIX keys.

PURPOSE:
  A PIX key is a human-presentable alias (CPF, email, phone, or a random
  key) that resolves to a wallet. The ledger core consumes exactly one
  capability from this package: resolve an ACTIVE key to its wallet id.

KEY FORMATS (BACEN conventions):
  CPF    11 digits
  EMAIL  local@domain
  PHONE  + followed by 11 to 14 digits
  RANDOM generated, 32 lowercase hex characters
*/
package pixkey

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/wallet"
)

// =============================================================================
// TYPES
// =============================================================================

type KeyType string

const (
	TypeCPF    KeyType = "CPF"
	TypeEmail  KeyType = "EMAIL"
	TypePhone  KeyType = "PHONE"
	TypeRandom KeyType = "RANDOM"
)

func ParseKeyType(s string) (KeyType, bool) {
	kt := KeyType(strings.ToUpper(strings.TrimSpace(s)))
	switch kt {
	case TypeCPF, TypeEmail, TypePhone, TypeRandom:
		return kt, true
	}
	return kt, false
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// PixKey maps a key value to the wallet that owns it.
type PixKey struct {
	ID        string
	WalletID  ledger.WalletID
	Type      KeyType
	Value     string
	Status    Status
	CreatedAt time.Time
}

var (
	// ErrNotFound is returned when no ACTIVE key matches the value.
	ErrNotFound = errors.New("pix key not found or inactive")

	// ErrAlreadyExists is returned when the key value is taken.
	ErrAlreadyExists = errors.New("pix key already exists")
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Create(ctx context.Context, k PixKey) (PixKey, error)
	ExistsValue(ctx context.Context, value string) (bool, error)

	// ActiveByValue returns ErrNotFound for missing or inactive keys.
	ActiveByValue(ctx context.Context, value string) (PixKey, error)
}

// =============================================================================
// SERVICE
// =============================================================================

var (
	cpfPattern   = regexp.MustCompile(`^\d{11}$`)
	emailPattern = regexp.MustCompile(`^.+@.+\..+$`)
	phonePattern = regexp.MustCompile(`^\+\d{11,14}$`)
)

// Service registers keys and resolves them for the transfer orchestrator.
type Service struct {
	Keys    Store
	Wallets wallet.Store
}

func NewService(keys Store, wallets wallet.Store) *Service {
	return &Service{Keys: keys, Wallets: wallets}
}

// Register validates and persists a new ACTIVE key for the wallet.
// RANDOM keys ignore the supplied value and generate one.
func (s *Service) Register(ctx context.Context, walletID ledger.WalletID, keyType KeyType, value string) (PixKey, error) {
	if _, err := s.Wallets.ByID(ctx, walletID); err != nil {
		return PixKey{}, err
	}

	value = normalize(keyType, value)
	if err := validate(keyType, value); err != nil {
		return PixKey{}, err
	}

	exists, err := s.Keys.ExistsValue(ctx, value)
	if err != nil {
		return PixKey{}, err
	}
	if exists {
		return PixKey{}, ErrAlreadyExists
	}

	return s.Keys.Create(ctx, PixKey{
		ID:        ledger.NewID(),
		WalletID:  walletID,
		Type:      keyType,
		Value:     value,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	})
}

// Resolve returns the wallet behind an ACTIVE key.
// Satisfies transfer.PixKeyResolver.
func (s *Service) Resolve(ctx context.Context, value string) (ledger.WalletID, error) {
	k, err := s.Keys.ActiveByValue(ctx, strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return k.WalletID, nil
}

func normalize(keyType KeyType, value string) string {
	if keyType == TypeRandom {
		return ledger.NewID()
	}
	v := strings.TrimSpace(value)
	if keyType == TypeEmail {
		v = strings.ToLower(v)
	}
	return v
}

func validate(keyType KeyType, value string) error {
	switch keyType {
	case TypeCPF:
		if !cpfPattern.MatchString(value) {
			return &ledger.ValidationError{Field: "value", Message: "invalid CPF: expected 11 digits"}
		}
	case TypeEmail:
		if !emailPattern.MatchString(value) {
			return &ledger.ValidationError{Field: "value", Message: "invalid email"}
		}
	case TypePhone:
		if !phonePattern.MatchString(value) {
			return &ledger.ValidationError{Field: "value", Message: "invalid phone: expected +CCDDDNNNNNNNNN"}
		}
	case TypeRandom:
		// generated, nothing to validate
	default:
		return &ledger.ValidationError{Field: "type", Message: "unsupported pix key type: " + string(keyType)}
	}
	return nil
}
