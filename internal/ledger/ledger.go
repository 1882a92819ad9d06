package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrInsufficientTokens is the write-off conflict: the balance cannot cover
// the debit. Callers completing a generation swallow it.
var ErrInsufficientTokens = errors.New("ledger: insufficient tokens")

// User is one tenant-scoped credit account. The same external user may exist
// once per app bundle.
type User struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ExternalID string    `gorm:"type:varchar(128);not null;index:uniq_user_bundle,unique,priority:1" json:"external_id"`
	AppBundle  string    `gorm:"type:varchar(128);not null;index:uniq_user_bundle,unique,priority:2" json:"app_bundle"`
	Tokens     int64     `gorm:"not null;default:0" json:"tokens"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) GetByExternal(ctx context.Context, externalID, appBundle string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).
		Where("external_id = ? AND app_bundle = ?", externalID, appBundle).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// WriteOff debits amount tokens from the user's balance. The guarded update
// keeps concurrent debits from racing past the balance; zero rows affected
// on an existing user means the balance was too low.
func (r *Repo) WriteOff(ctx context.Context, externalID, appBundle string, amount int64) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("external_id = ? AND app_bundle = ? AND tokens >= ?", externalID, appBundle, amount).
		Update("tokens", gorm.Expr("tokens - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByExternal(ctx, externalID, appBundle); err != nil {
			return err
		}
		return ErrInsufficientTokens
	}
	return nil
}
