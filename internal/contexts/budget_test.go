package contexts

import (
	"context"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Context{}, &Entity{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func listEntities(t *testing.T, repo *Repo, contextID string) []Entity {
	t.Helper()
	out, err := repo.ListEntities(context.Background(), contextID)
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	return out
}

func TestUsage_CountsCharsAndImages(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 100, MaxImages: 4})

	cx, err := repo.Create(context.Background(), "user-usage")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	batch := []Entity{
		{ContentType: ContentText, Content: "hello", Role: RoleUser},
		{ContentType: ContentImage, Content: "some-key", ImageRef: ImageRefKey, Role: RoleAssistant},
	}
	if err := eng.Append(context.Background(), cx.ID, batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	u, err := eng.Usage(context.Background(), cx.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.TextUsed != 5 {
		t.Fatalf("expected 5 text chars, got %d", u.TextUsed)
	}
	if u.ImagesUsed != 1 {
		t.Fatalf("expected 1 image, got %d", u.ImagesUsed)
	}

	rem, err := eng.Remaining(context.Background(), cx.ID)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if rem.TextLeft != 95 || rem.ImagesLeft != 3 {
		t.Fatalf("unexpected remaining: %+v", rem)
	}
}

func TestUsage_UnknownContext(t *testing.T) {
	db := openTestDB(t)
	eng := NewEngine(NewRepo(db), Budget{MaxTextChars: 100, MaxImages: 4})

	_, err := eng.Usage(context.Background(), "no-such-context")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestAppend_EvictsOldestImageWhenFull(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 1000, MaxImages: 3})

	cx, err := repo.Create(context.Background(), "user-img-evict")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	for i, key := range []string{"img-a", "img-b", "img-c"} {
		batch := []Entity{{ContentType: ContentImage, Content: key, ImageRef: ImageRefKey, Role: RoleUser}}
		if err := eng.Append(context.Background(), cx.ID, batch); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Budget is full: the next image must push out the oldest one only.
	batch := []Entity{{ContentType: ContentImage, Content: "img-d", ImageRef: ImageRefKey, Role: RoleUser}}
	if err := eng.Append(context.Background(), cx.ID, batch); err != nil {
		t.Fatalf("append over budget: %v", err)
	}

	got := listEntities(t, repo, cx.ID)
	if len(got) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(got))
	}
	if got[0].Content != "img-b" || got[2].Content != "img-d" {
		t.Fatalf("unexpected survivors: %q, %q, %q", got[0].Content, got[1].Content, got[2].Content)
	}
}

func TestAppend_EvictsOldestTextWhenFull(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 10, MaxImages: 3})

	cx, err := repo.Create(context.Background(), "user-text-evict")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	for _, s := range []string{"aaaaa", "bbbbb"} { // exactly at budget
		if err := eng.Append(context.Background(), cx.ID, []Entity{
			{ContentType: ContentText, Content: s, Role: RoleUser},
		}); err != nil {
			t.Fatalf("append %q: %v", s, err)
		}
	}

	if err := eng.Append(context.Background(), cx.ID, []Entity{
		{ContentType: ContentText, Content: "cc", Role: RoleUser},
	}); err != nil {
		t.Fatalf("append over budget: %v", err)
	}

	got := listEntities(t, repo, cx.ID)
	if len(got) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(got))
	}
	if got[0].Content != "bbbbb" || got[1].Content != "cc" {
		t.Fatalf("unexpected survivors: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestAppend_TextDoesNotEvictImages(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 5, MaxImages: 3})

	cx, err := repo.Create(context.Background(), "user-mixed")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	if err := eng.Append(context.Background(), cx.ID, []Entity{
		{ContentType: ContentImage, Content: "img-keep", ImageRef: ImageRefKey, Role: RoleUser},
		{ContentType: ContentText, Content: "aaaaa", Role: RoleUser},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Text budget exhausted; the image entity must survive the eviction.
	if err := eng.Append(context.Background(), cx.ID, []Entity{
		{ContentType: ContentText, Content: "bb", Role: RoleUser},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := listEntities(t, repo, cx.ID)
	var images, texts int
	for _, ent := range got {
		switch ent.ContentType {
		case ContentImage:
			images++
		case ContentText:
			texts++
		}
	}
	if images != 1 {
		t.Fatalf("expected image to survive, got %d images", images)
	}
	if texts != 1 || got[len(got)-1].Content != "bb" {
		t.Fatalf("unexpected text entities after eviction: %+v", got)
	}
}

func TestAppend_OversizedSingleEntryAccepted(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 10, MaxImages: 3})

	cx, err := repo.Create(context.Background(), "user-oversized")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	big := strings.Repeat("x", 50)
	if err := eng.Append(context.Background(), cx.ID, []Entity{
		{ContentType: ContentText, Content: big, Role: RoleUser},
	}); err != nil {
		t.Fatalf("append oversized: %v", err)
	}

	got := listEntities(t, repo, cx.ID)
	if len(got) != 1 || got[0].Content != big {
		t.Fatalf("expected the oversized entry to be stored, got %d entities", len(got))
	}
}

func TestEvict_ExhaustionIsNotAnError(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	eng := NewEngine(repo, Budget{MaxTextChars: 10, MaxImages: 3})

	cx, err := repo.Create(context.Background(), "user-exhaust")
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if err := eng.Append(context.Background(), cx.ID, []Entity{
		{ContentType: ContentText, Content: "abc", Role: RoleUser},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Ask for far more than the context holds.
	if err := eng.Evict(context.Background(), cx.ID, 1000, 1000); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if got := listEntities(t, repo, cx.ID); len(got) != 0 {
		t.Fatalf("expected empty context, got %d entities", len(got))
	}
}
