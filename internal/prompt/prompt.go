package prompt

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Model is a stored prompt template. Text may contain {key} placeholders
// filled from caller-supplied inputs at build time.
type Model struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (Model) TableName() string { return "prompt_models" }

type UserInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Get(ctx context.Context, id string) (*Model, error) {
	var m Model
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) Create(ctx context.Context, m *Model) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// Build substitutes {key} placeholders in the template with the supplied
// inputs. Unknown placeholders are left as-is.
func Build(template string, inputs []UserInput) string {
	if len(inputs) == 0 {
		return template
	}
	pairs := make([]string, 0, len(inputs)*2)
	for _, in := range inputs {
		pairs = append(pairs, "{"+in.Key+"}", in.Value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
