package store

import (
	"context"
	"errors"
	"testing"
)

func TestTags(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cats, err := s.CreateTag(ctx, " cats ", "")
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if cats.Name != "cats" || cats.Color != DefaultTagColor {
		t.Errorf("Unexpected tag %+v", cats)
	}
	if _, err := s.CreateTag(ctx, "cats", "#000000"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
	dogs, err := s.CreateTag(ctx, "dogs", "#00FF00")
	if err != nil {
		t.Fatal(err)
	}

	again, err := s.GetOrCreateTag(ctx, "cats", "#FFFFFF")
	if err != nil || again.ID != cats.ID || again.Color != DefaultTagColor {
		t.Errorf("GetOrCreateTag existing = %+v, %v", again, err)
	}
	birds, err := s.GetOrCreateTag(ctx, "birds", "#123456")
	if err != nil || birds.ID == 0 || birds.Color != "#123456" {
		t.Errorf("GetOrCreateTag new = %+v, %v", birds, err)
	}
	if _, err := s.GetOrCreateTag(ctx, "  ", ""); err == nil {
		t.Error("Expected an error for a blank tag name")
	}

	w1 := createTestWorkflow(t, s, "one")
	w2 := createTestWorkflow(t, s, "two")
	if err := s.SetWorkflowTags(ctx, w1, []int64{cats.ID, dogs.ID}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddWorkflowTags(ctx, w2, []int64{cats.ID, cats.ID}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetWorkflowTags(ctx, 999, []int64{cats.ID}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing workflow, got %v", err)
	}

	tags, err := s.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name  string
		count int
	}{{"birds", 0}, {"cats", 2}, {"dogs", 1}}
	if len(tags) != len(want) {
		t.Fatalf("ListTags = %+v", tags)
	}
	for i, w := range want {
		if tags[i].Name != w.name || tags[i].WorkflowCount != w.count {
			t.Errorf("tags[%d] = %+v, want %s/%d", i, tags[i], w.name, w.count)
		}
	}

	if err := s.RemoveWorkflowTags(ctx, w1, []int64{dogs.ID}); err != nil {
		t.Fatal(err)
	}
	got, err := s.WorkflowTags(ctx, w1)
	if err != nil || len(got) != 1 || got[0].ID != cats.ID {
		t.Errorf("WorkflowTags = %+v, %v", got, err)
	}

	if err := s.SetWorkflowTags(ctx, w1, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.WorkflowTags(ctx, w1)
	if len(got) != 0 {
		t.Errorf("Expected no tags after clearing, got %+v", got)
	}
}

func TestUpdateAndDeleteTag(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	tag, err := s.CreateTag(ctx, "old", "#111111")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTag(ctx, "taken", ""); err != nil {
		t.Fatal(err)
	}

	name, color := "new", "#222222"
	updated, err := s.UpdateTag(ctx, tag.ID, TagUpdate{Name: &name, Color: &color})
	if err != nil {
		t.Fatalf("UpdateTag: %v", err)
	}
	if updated.Name != "new" || updated.Color != "#222222" {
		t.Errorf("Unexpected tag %+v", updated)
	}

	taken := "taken"
	if _, err := s.UpdateTag(ctx, tag.ID, TagUpdate{Name: &taken}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
	if _, err := s.UpdateTag(ctx, 999, TagUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	w := createTestWorkflow(t, s, "tagged")
	if err := s.AddWorkflowTags(ctx, w, []int64{tag.ID}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTag(ctx, tag.ID); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if _, err := s.GetTag(ctx, tag.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteTag(ctx, tag.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	tags, _ := s.WorkflowTags(ctx, w)
	if len(tags) != 0 {
		t.Errorf("Expected the tag link to be removed, got %+v", tags)
	}
}
