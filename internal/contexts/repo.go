package contexts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) Create(ctx context.Context, userID string) (*Context, error) {
	c := &Context{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Context, error) {
	var c Context
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetUserLast returns the user's most recently created context.
func (r *Repo) GetUserLast(ctx context.Context, userID string) (*Context, error) {
	var c Context
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete removes the context and all of its entities. Tasks referencing the
// context are removed separately by the task repo; the two deletes are
// composed at the handler layer.
func (r *Repo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("context_id = ?", id).Delete(&Entity{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Context{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListEntities returns the context's entities in insertion order
// (oldest first).
func (r *Repo) ListEntities(ctx context.Context, contextID string) ([]Entity, error) {
	var out []Entity
	if err := r.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
