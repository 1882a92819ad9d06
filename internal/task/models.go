package task

import "time"

type Kind string

const (
	KindText2Text   Kind = "text2text"
	KindText2Image  Kind = "text2image"
	KindImage2Image Kind = "image2image"
)

// Task is one generation lifecycle record. It terminates exactly once:
// either an item is appended or Error is set, never both. A task with
// neither is still pending.
type Task struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	AppBundle string    `gorm:"type:varchar(128);not null" json:"app_bundle"`
	ContextID *string   `gorm:"type:varchar(36);index" json:"context_id"`
	Error     *string   `gorm:"type:text" json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Items []Item `gorm:"foreignKey:TaskID" json:"items"`
}

func (Task) TableName() string { return "tasks" }

// Item is one successful generation result. The unique index on TaskID makes
// item creation idempotent under the queue's at-least-once delivery.
type Item struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID     string    `gorm:"type:varchar(36);not null;uniqueIndex:uniq_task_item" json:"-"`
	ResultURL  string    `gorm:"type:text;not null" json:"result_url"`
	UsedTokens int       `gorm:"not null;default:0" json:"used_tokens"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Item) TableName() string { return "task_items" }

// Request is the fully resolved generation request, persisted before publish
// so the queue message carries only ids. Deleted once processed.
type Request struct {
	ID        string    `gorm:"type:varchar(26);primaryKey"` // ULID
	TaskID    string    `gorm:"type:varchar(36);index;not null"`
	Payload   string    `gorm:"type:text;not null"` // JSON-encoded RunRequest
	CreatedAt time.Time
}

func (Request) TableName() string { return "task_requests" }

// Read models (spec'd compatibility shapes).

type ItemRead struct {
	ResultURL string `json:"result_url"`
}

type TaskRead struct {
	ID    string     `json:"id"`
	Error *string    `json:"error"`
	Items []ItemRead `json:"items"`
}

func (t *Task) Read() TaskRead {
	out := TaskRead{ID: t.ID, Error: t.Error, Items: []ItemRead{}}
	for _, it := range t.Items {
		out.Items = append(out.Items, ItemRead{ResultURL: it.ResultURL})
	}
	return out
}
