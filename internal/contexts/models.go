package contexts

import "time"

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ImageRef says how an image entity's Content should be interpreted. It is
// recorded at write time so readers never have to sniff the string.
type ImageRef string

const (
	// ImageRefKey: Content is an object-storage key.
	ImageRefKey ImageRef = "key"
	// ImageRefURL: Content is a remote URL (a provider result endpoint).
	ImageRefURL ImageRef = "url"
	// ImageRefBlob: Content is already a base64-encoded payload.
	ImageRefBlob ImageRef = "blob"
)

// Context is one user's bounded conversation memory. Capacity is not stored
// per row; it is the process-wide Budget.
type Context struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Entities []Entity `gorm:"foreignKey:ContextID" json:"-"`
}

func (Context) TableName() string { return "contexts" }

// Entity is one atomic unit of context content. The autoincrement id doubles
// as insertion order, which the eviction scan relies on. Entities are never
// mutated after creation.
type Entity struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContextID   string      `gorm:"type:varchar(36);index;not null" json:"-"`
	ContentType ContentType `gorm:"type:varchar(16);not null" json:"content_type"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	ImageRef    ImageRef    `gorm:"type:varchar(8)" json:"-"`
	Role        Role        `gorm:"type:varchar(16);not null" json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (Entity) TableName() string { return "context_entities" }
