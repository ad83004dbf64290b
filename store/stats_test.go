package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	createTestWorkflow(t, s, "one", func(w *NewWorkflow) { w.Favorite = true })
	createTestWorkflow(t, s, "two")
	createTestWorkflow(t, s, "three", func(w *NewWorkflow) {
		w.Prompts = []PromptRecord{{NodeID: "9", PromptType: "unknown", PromptText: "x"}}
		w.Metadata = []MetadataEntry{
			{Key: "models", Value: json.RawMessage(`[{"type":"checkpoint","name":"flux1-dev.safetensors","nodeId":"1"},{"type":"lora","name":"detail.safetensors","nodeId":"2"}]`)},
			{Key: "samplers", Value: json.RawMessage(`[{"sampler_name":"dpmpp_2m","nodeId":"3"}]`)},
			{Key: "dimensions", Value: json.RawMessage(`null`)},
			{Key: "broken", Value: json.RawMessage(`not json`)},
		}
	})
	tag, err := s.CreateTag(ctx, "cats", "#FF0000")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddWorkflowTags(ctx, 1, []int64{tag.ID}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	want := Summary{TotalWorkflows: 3, TotalPrompts: 5, TotalTags: 1, FavoriteCount: 1, RecentActivity: 3}
	if st.Summary != want {
		t.Errorf("Summary = %+v, want %+v", st.Summary, want)
	}

	if len(st.ModelUsage) != 3 || st.ModelUsage[0] != (Count{Name: "sd_xl_base_1.0.safetensors", Count: 2}) {
		t.Errorf("ModelUsage = %+v", st.ModelUsage)
	}
	if len(st.SamplerUsage) != 2 || st.SamplerUsage[0] != (Count{Name: "euler", Count: 2}) {
		t.Errorf("SamplerUsage = %+v", st.SamplerUsage)
	}
	wantTypes := []Count{{"negative", 2}, {"positive", 2}, {"unknown", 1}}
	if len(st.PromptTypes) != len(wantTypes) {
		t.Fatalf("PromptTypes = %+v", st.PromptTypes)
	}
	for i := range wantTypes {
		if st.PromptTypes[i] != wantTypes[i] {
			t.Errorf("PromptTypes[%d] = %+v, want %+v", i, st.PromptTypes[i], wantTypes[i])
		}
	}
	wantSizes := []Count{{"513-768", 2}, {"769-1024", 2}}
	if len(st.SizeDistribution) != 2 || st.SizeDistribution[0] != wantSizes[0] || st.SizeDistribution[1] != wantSizes[1] {
		t.Errorf("SizeDistribution = %+v", st.SizeDistribution)
	}
	if len(st.TagDistribution) != 1 || st.TagDistribution[0] != (TagCount{Name: "cats", Color: "#FF0000", Count: 1}) {
		t.Errorf("TagDistribution = %+v", st.TagDistribution)
	}
	if len(st.Timeline) != 1 || st.Timeline[0] != (MonthCount{Month: "2026-03", Count: 3}) {
		t.Errorf("Timeline = %+v", st.Timeline)
	}

	later, err := s.Stats(ctx, testNow.AddDate(1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if later.Summary.RecentActivity != 0 || len(later.Timeline) != 0 {
		t.Errorf("Expected old workflows outside the windows, got %+v / %+v", later.Summary, later.Timeline)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)
	st, err := s.Stats(context.Background(), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if st.ModelUsage == nil || st.Timeline == nil || st.TagDistribution == nil {
		t.Errorf("Expected empty, non-nil slices: %+v", st)
	}
}
