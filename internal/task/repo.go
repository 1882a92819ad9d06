package task

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, t *Task) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := r.db.WithContext(ctx).
		Preload("Items").
		First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SetError records the terminal failure state. The guard keeps a duplicate
// delivery from overwriting a success that already produced an item, and from
// rewriting an error that is already set.
func (r *Repo) SetError(ctx context.Context, id string, msg string) error {
	return r.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND error IS NULL", id).
		Where("NOT EXISTS (SELECT 1 FROM task_items WHERE task_items.task_id = tasks.id)").
		Update("error", msg).Error
}

// CreateItem appends the task's result. A second call for the same task is a
// no-op returning the existing item (at-least-once tolerance).
func (r *Repo) CreateItem(ctx context.Context, item *Item) (*Item, error) {
	err := r.db.WithContext(ctx).Create(item).Error
	if err == nil {
		return item, nil
	}
	var existing Item
	if getErr := r.db.WithContext(ctx).
		Where("task_id = ?", item.TaskID).
		First(&existing).Error; getErr == nil {
		return &existing, nil
	} else if !errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, getErr
	}
	return nil, err
}

// ListIDsByContext returns ids of tasks run against the context, oldest
// first, for the context read model.
func (r *Repo) ListIDsByContext(ctx context.Context, contextID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&Task{}).
		Where("context_id = ?", contextID).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteByContext removes the context's tasks and their items; part of the
// context cascade delete.
func (r *Repo) DeleteByContext(ctx context.Context, contextID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Task{}).
			Where("context_id = ?", contextID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("task_id IN ?", ids).Delete(&Item{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id IN ?", ids).Delete(&Request{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&Task{}).Error
	})
}

// Request rows.

func (r *Repo) CreateRequest(ctx context.Context, req *Request) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *Repo) GetRequest(ctx context.Context, id string) (*Request, error) {
	var req Request
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Repo) DeleteRequest(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Request{}, "id = ?", id).Error
}
