// Package ledger owns user balances and the append-only credit transaction log.
//
// Every balance mutation writes a credit_transactions row and the matching
// users.credits update in one database transaction, so replaying a user's
// entries in id order always reproduces the cached balance.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mystartupai/creditledger/internal/catalog"
	"github.com/mystartupai/creditledger/internal/db"
	"github.com/mystartupai/creditledger/internal/models"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"github.com/mystartupai/creditledger/internal/subscription"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists indicates a unique identity (email, wallet, ...) is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidAmount indicates a non-positive credit amount.
	ErrInvalidAmount = errors.New("invalid credit amount")
	// ErrInsufficientCredits indicates the balance cannot cover a debit and no overage applies.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrIntentNotFound indicates no payment intent with the reference belongs to the user.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrDuplicateSettlement indicates the signature already settled a different intent.
	ErrDuplicateSettlement = errors.New("signature already settled another payment")
	// ErrLedgerWriteFailed wraps storage failures; the failed operation is safe to retry.
	ErrLedgerWriteFailed = errors.New("ledger write failed")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Store applies ledger operations against the database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and subscription dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs a Store backed by GORM.
func NewStore(conn *gorm.DB, opts ...Option) *Store {
	s := &Store{db: conn, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection for read-only listings.
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// NewUser carries the identity of an account being created.
type NewUser struct {
	Username      string
	Name          string
	Email         string
	WalletAddress string
	GoogleID      string
}

// CreateUser creates a FREEMIUM account and records the signup bonus.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	signup := int64(internalsettings.IntValue(internalsettings.SignupCreditsKey, int(catalog.SignupCredits)))
	user := models.User{
		Username:           optionalString(in.Username),
		Name:               strings.TrimSpace(in.Name),
		Email:              optionalString(strings.ToLower(in.Email)),
		WalletAddress:      optionalString(in.WalletAddress),
		GoogleID:           optionalString(in.GoogleID),
		Credits:            signup,
		CurrentPlan:        models.PlanFreemium,
		SubscriptionStatus: models.SubscriptionNone,
		UsageAlert:         true,
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return errCreate
		}
		if signup <= 0 {
			return nil
		}
		entry := models.CreditTransaction{
			UserID:      user.ID,
			Type:        models.CreditTransactionBonus,
			Amount:      signup,
			Balance:     signup,
			Description: "Welcome bonus",
		}
		return tx.Create(&entry).Error
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			return nil, ErrUserExists
		}
		return nil, writeFailed("create user", errTx)
	}
	return &user, nil
}

// FindOrCreateWalletUser returns the account bound to a wallet, creating it on first login.
func (s *Store) FindOrCreateWalletUser(ctx context.Context, address string) (*models.User, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, false, ErrUserNotFound
	}
	var user models.User
	errFind := s.db.WithContext(ctx).Where("wallet_address = ?", address).Take(&user).Error
	if errFind == nil {
		return &user, false, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("ledger: find wallet user: %w", errFind)
	}
	created, errCreate := s.CreateUser(ctx, NewUser{WalletAddress: address, Name: shortAddress(address)})
	if errors.Is(errCreate, ErrUserExists) {
		// Lost a race with a concurrent first login.
		if errRetry := s.db.WithContext(ctx).Where("wallet_address = ?", address).Take(&user).Error; errRetry != nil {
			return nil, false, fmt.Errorf("ledger: find wallet user: %w", errRetry)
		}
		return &user, false, nil
	}
	if errCreate != nil {
		return nil, false, errCreate
	}
	return created, true, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ledger: get user: %w", errFind)
	}
	return &user, nil
}

// Balance returns the cached spendable balance of a user.
func (s *Store) Balance(ctx context.Context, userID uint64) (int64, error) {
	user, errGet := s.GetUser(ctx, userID)
	if errGet != nil {
		return 0, errGet
	}
	return user.Credits, nil
}

// History returns the newest ledger entries of a user first.
func (s *Store) History(ctx context.Context, userID uint64, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.CreditTransaction
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: history: %w", errFind)
	}
	return rows, nil
}

// GrantRequest describes a positive, non-purchase credit entry.
type GrantRequest struct {
	UserID      uint64
	Type        string
	Amount      int64
	Description string
	Metadata    map[string]any
}

// Grant appends a bonus or refund entry and credits the user.
func (s *Store) Grant(ctx context.Context, req GrantRequest) (*models.CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch req.Type {
	case models.CreditTransactionBonus, models.CreditTransactionRefund:
	case "":
		req.Type = models.CreditTransactionBonus
	default:
		return nil, fmt.Errorf("ledger: grant: unsupported type %q", req.Type)
	}

	var entry models.CreditTransaction
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLock := lockUser(tx, req.UserID)
		if errLock != nil {
			return errLock
		}
		entry = models.CreditTransaction{
			UserID:      user.ID,
			Type:        req.Type,
			Amount:      req.Amount,
			Balance:     user.Credits + req.Amount,
			Description: strings.TrimSpace(req.Description),
			Metadata:    marshalMetadata(req.Metadata),
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return errCreate
		}
		return setCredits(tx, user, entry.Balance, nil)
	})
	if errTx != nil {
		return nil, classify("grant", errTx)
	}
	return &entry, nil
}

// lockUser reads the user row under a row lock.
func lockUser(tx *gorm.DB, userID uint64) (*models.User, error) {
	var user models.User
	if errFind := db.ForUpdate(tx).Where("id = ?", userID).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errFind
	}
	return &user, nil
}

// errBalanceChanged signals that the guarded balance update matched no row.
var errBalanceChanged = errors.New("balance changed concurrently")

// setCredits writes a new balance guarded by the balance read under lock.
func setCredits(tx *gorm.DB, user *models.User, credits int64, extra map[string]any) error {
	updates := map[string]any{"credits": credits}
	for column, value := range extra {
		updates[column] = value
	}
	res := tx.Model(&models.User{}).
		Where("id = ? AND credits = ?", user.ID, user.Credits).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return errBalanceChanged
	}
	user.Credits = credits
	return nil
}

// domainErrors pass through classify unchanged.
var domainErrors = []error{
	ErrUserNotFound,
	ErrInvalidAmount,
	ErrInsufficientCredits,
	ErrIntentNotFound,
	ErrDuplicateSettlement,
	subscription.ErrInvalidTransition,
}

func classify(op string, err error) error {
	for _, domainErr := range domainErrors {
		if errors.Is(err, domainErr) {
			return err
		}
	}
	return writeFailed(op, err)
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w: %w", op, ErrLedgerWriteFailed, err)
}

func marshalMetadata(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(meta)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func shortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}
