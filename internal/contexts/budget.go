package contexts

import (
	"context"
	"unicode/utf8"

	"gorm.io/gorm"
)

// Budget holds the process-wide context ceilings: total characters across
// text entities and total image entity count.
type Budget struct {
	MaxTextChars int
	MaxImages    int
}

type Usage struct {
	TextUsed   int `json:"text_used"`
	ImagesUsed int `json:"images_used"`
}

type Remaining struct {
	TextLeft   int `json:"text_left"`
	ImagesLeft int `json:"images_left"`
}

// Engine enforces the budget over a context's entity set. Usage is always
// recomputed from the persisted rows, never cached, so concurrent task
// completions can at worst overshoot once and are corrected by the next
// Append.
type Engine struct {
	repo   *Repo
	budget Budget
}

func NewEngine(repo *Repo, budget Budget) *Engine {
	if budget.MaxTextChars <= 0 {
		budget.MaxTextChars = 30000
	}
	if budget.MaxImages <= 0 {
		budget.MaxImages = 16
	}
	return &Engine{repo: repo, budget: budget}
}

func (e *Engine) Budget() Budget { return e.budget }

// Usage sums character lengths of text entities and counts image entities.
// Returns gorm.ErrRecordNotFound for an unknown context.
func (e *Engine) Usage(ctx context.Context, contextID string) (Usage, error) {
	if _, err := e.repo.Get(ctx, contextID); err != nil {
		return Usage{}, err
	}
	entities, err := e.repo.ListEntities(ctx, contextID)
	if err != nil {
		return Usage{}, err
	}
	return measure(entities), nil
}

// Remaining can report negative values when a concurrent append overshot the
// budget; callers treat <= 0 as "must evict before appending".
func (e *Engine) Remaining(ctx context.Context, contextID string) (Remaining, error) {
	usage, err := e.Usage(ctx, contextID)
	if err != nil {
		return Remaining{}, err
	}
	return Remaining{
		TextLeft:   e.budget.MaxTextChars - usage.TextUsed,
		ImagesLeft: e.budget.MaxImages - usage.ImagesUsed,
	}, nil
}

// Append persists the batch, evicting first when a dimension present in the
// batch has no room left. Evict-then-append runs in one transaction so no
// reader observes the intermediate state.
func (e *Engine) Append(ctx context.Context, contextID string, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if _, err := e.repo.Get(ctx, contextID); err != nil {
		return err
	}

	return e.repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []Entity
		if err := tx.Where("context_id = ?", contextID).Order("id ASC").Find(&current).Error; err != nil {
			return err
		}
		usage := measure(current)
		batch := measure(entities)

		textLeft := e.budget.MaxTextChars - usage.TextUsed
		imagesLeft := e.budget.MaxImages - usage.ImagesUsed

		// Request just enough eviction to reopen each exhausted dimension;
		// a single entry larger than the whole budget is still accepted.
		var textNeed, imageNeed int
		if batch.TextUsed > 0 && textLeft <= 0 {
			textNeed = 1 - textLeft
		}
		if batch.ImagesUsed > 0 && imagesLeft <= 0 {
			imageNeed = 1 - imagesLeft
		}
		if textNeed > 0 || imageNeed > 0 {
			if err := evictScan(tx, current, textNeed, imageNeed); err != nil {
				return err
			}
		}

		for i := range entities {
			entities[i].ID = 0
			entities[i].ContextID = contextID
			if err := tx.Create(&entities[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Evict removes oldest entities until textAmount characters and imageAmount
// images have been freed, or the context runs out of entities. Exhaustion is
// not an error.
func (e *Engine) Evict(ctx context.Context, contextID string, textAmount, imageAmount int) error {
	if _, err := e.repo.Get(ctx, contextID); err != nil {
		return err
	}
	return e.repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []Entity
		if err := tx.Where("context_id = ?", contextID).Order("id ASC").Find(&current).Error; err != nil {
			return err
		}
		return evictScan(tx, current, textAmount, imageAmount)
	})
}

// evictScan walks entities oldest-first and deletes those whose dimension
// still has an outstanding deficit. Deleting a text entity reduces the text
// deficit by its character length, an image entity reduces the image deficit
// by one. The scan stops once both deficits are satisfied.
//
// The scan direction is a deliberate choice: the original system stripped
// from the newest end, which throws away the freshest conversation turns.
// Oldest-first keeps recent exchanges relevant.
func evictScan(tx *gorm.DB, entities []Entity, textDeficit, imageDeficit int) error {
	for _, ent := range entities {
		if textDeficit <= 0 && imageDeficit <= 0 {
			return nil
		}
		switch ent.ContentType {
		case ContentText:
			if textDeficit <= 0 {
				continue
			}
			if err := tx.Delete(&Entity{}, "id = ?", ent.ID).Error; err != nil {
				return err
			}
			textDeficit -= utf8.RuneCountInString(ent.Content)
		case ContentImage:
			if imageDeficit <= 0 {
				continue
			}
			if err := tx.Delete(&Entity{}, "id = ?", ent.ID).Error; err != nil {
				return err
			}
			imageDeficit--
		}
	}
	// Fewer entities than requested: everything eligible is gone, done.
	return nil
}

func measure(entities []Entity) Usage {
	var u Usage
	for _, ent := range entities {
		switch ent.ContentType {
		case ContentText:
			u.TextUsed += utf8.RuneCountInString(ent.Content)
		case ContentImage:
			u.ImagesUsed++
		}
	}
	return u
}
