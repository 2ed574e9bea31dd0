package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mangaflow/internal/schema"
)

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("xai:primary|openai|mock")
	require.Len(t, refs, 3)
	require.Equal(t, "xai", refs[0].Name)
	require.Equal(t, "primary", refs[0].KeyAlias)
	require.Equal(t, "openai", refs[1].Name)
	require.Empty(t, refs[1].KeyAlias)
	require.Equal(t, "mock", refs[2].Name)
}

func TestParseProviderListEmptyFallsBackToMock(t *testing.T) {
	refs := ParseProviderList("  ")
	require.Len(t, refs, 1)
	require.Equal(t, "mock", refs[0].Name)
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, ErrorTimeout, ClassifyError(context.DeadlineExceeded))
	require.Equal(t, ErrorQuota, ClassifyError(errors.New("insufficient_quota for key")))
	require.Equal(t, ErrorRate, ClassifyError(errors.New("xai error 429: slow down")))
	require.Equal(t, ErrorContext, ClassifyError(errors.New("maximum prompt length exceeded")))
	require.Equal(t, ErrorPermanent, ClassifyError(errors.New("model not found")))
	require.True(t, ErrorRate.Retryable())
	require.False(t, ErrorPermanent.Retryable())
}

func TestMockProviderEmitsValidArtifacts(t *testing.T) {
	mock := NewMockProvider()
	cases := []struct {
		operation string
		dst       schema.Artifact
	}{
		{"chapter_summary", &schema.ChapterSummary{}},
		{"story_index", &schema.StoryIndex{}},
		{"anchor_list", &schema.AnchorList{}},
		{"branch_routes", &schema.BranchRoutes{}},
		{"character_bible", &schema.CharacterBible{}},
		{"chapter_scales", &schema.ChapterScales{}},
		{"chapter_plan", &schema.ChapterPlan{}},
		{"page_batch", &schema.PageBatch{}},
		{"visual_details", &schema.VisualDetails{}},
	}
	for _, tc := range cases {
		resp, info, err := mock.Generate(context.Background(), GenerateRequest{Operation: tc.operation, Prompt: "p"})
		require.NoError(t, err, tc.operation)
		require.Equal(t, "mock", info.Name)
		vs := schema.Decode([]byte(resp.Text), tc.dst)
		require.Empty(t, vs, "operation %s: %s", tc.operation, schema.FormatViolations(vs))
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	mock := NewMockProvider()
	a, _, err := mock.Generate(context.Background(), GenerateRequest{Operation: "story_index", Prompt: "same"})
	require.NoError(t, err)
	b, _, err := mock.Generate(context.Background(), GenerateRequest{Operation: "story_index", Prompt: "same"})
	require.NoError(t, err)
	require.Equal(t, a.Text, b.Text)
}

func TestScriptedProviderReplaysInOrder(t *testing.T) {
	s := NewScriptedProvider()
	s.Queue("first", nil)
	s.Queue("", errors.New("boom"))
	s.Queue("third", nil)

	resp, _, err := s.Generate(context.Background(), GenerateRequest{Operation: "op"})
	require.NoError(t, err)
	require.Equal(t, "first", resp.Text)

	_, _, err = s.Generate(context.Background(), GenerateRequest{Operation: "op"})
	require.Error(t, err)

	resp, _, err = s.Generate(context.Background(), GenerateRequest{Operation: "op"})
	require.NoError(t, err)
	require.Equal(t, "third", resp.Text)

	_, _, err = s.Generate(context.Background(), GenerateRequest{Operation: "op"})
	require.ErrorContains(t, err, "exhausted")
	require.Len(t, s.Calls, 4)
}
