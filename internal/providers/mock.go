package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// MockProvider returns deterministic, schema-shaped JSON keyed by the request
// operation. It keeps the pipeline runnable offline and in tests.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-text", Key: "none"}
	return GenerateResponse{Text: mockPayload(req.Operation, req.Prompt)}, info, nil
}

func (m *MockProvider) Describe(ctx context.Context, req VisionRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-vision", Key: "none"}
	return GenerateResponse{Text: mockPayload(req.Operation, req.Prompt)}, info, nil
}

func mockPayload(operation, prompt string) string {
	tag := promptTag(prompt)
	switch operation {
	case "chapter_summary", "chapter_summary_refine", "generated_chapter":
		return mockJSON(map[string]any{
			"chapter_id": "ch_001",
			"events":     []string{"A quiet opening scene " + tag, "A confrontation escalates"},
			"dialogues":  []string{"We cannot stay here.", "Then we move at dawn."},
			"visual_details": map[string]any{
				"setting":    "rain-slick rooftops over a harbor town",
				"atmosphere": "tense, storm-lit",
			},
			"page_summaries": []string{
				"Establishing shot of the town at night.",
				"Two figures argue on a rooftop.",
				"A signal flare rises over the harbor.",
			},
			"coverage_notes":   "mock coverage",
			"confidence_score": 0.9,
		})
	case "story_index":
		return mockJSON(map[string]any{
			"chapters": []map[string]any{{
				"chapter_id":         "ch_001",
				"chapter_number":     1,
				"title":              "Departure",
				"timeframe_label":    "night one",
				"primary_locations":  []string{"harbor town"},
				"primary_characters": []string{"Aki", "Rin"},
				"summary":            "The leads resolve to leave before dawn " + tag,
				"chapter_intent":     "establish stakes and the pact between the leads",
			}},
			"global_arcs":      []string{"flight from the syndicate"},
			"recurring_themes": []string{"trust under pressure"},
		})
	case "anchor_list":
		return mockJSON(map[string]any{
			"anchors": []map[string]any{{
				"anchor_id":           "a001",
				"summary":             "Rin chooses to burn the ledger " + tag,
				"characters":          []string{"Rin"},
				"cause":               "the syndicate demands repayment",
				"immediate_effect":    "the debt record is destroyed",
				"long_term_impact":    "the syndicate marks both leads",
				"importance_score":    4,
				"branching_potential": 4,
			}},
		})
	case "branch_routes":
		return mockJSON(map[string]any{
			"branches": []map[string]any{
				{
					"anchor_id":         "a001",
					"branch_type":       "Behavioral",
					"what_if":           "Rin hides the ledger instead of burning it " + tag,
					"trigger_character": "Rin",
					"short_effect":      "the syndicate believes the debt stands",
					"long_effect":       "the ledger becomes leverage",
					"tone":              "tense",
				},
				{
					"anchor_id":         "a001",
					"branch_type":       "BadEnd",
					"what_if":           "the fire spreads beyond the office",
					"trigger_character": "Rin",
					"short_effect":      "the leads are blamed for the blaze",
					"long_effect":       "flight becomes exile",
					"tone":              "grim",
				},
				{
					"anchor_id":         "a001",
					"branch_type":       "Wildcard",
					"what_if":           "a stranger extinguishes the fire and keeps the ledger",
					"trigger_character": "Aki",
					"short_effect":      "an unknown party holds the debt",
					"long_effect":       "a new faction enters the story",
					"tone":              "mysterious",
				},
			},
		})
	case "character_bible":
		return mockJSON(map[string]any{
			"characters": []map[string]any{
				{
					"character_id": "c001",
					"names":        []string{"Aki"},
					"role":         "protagonist",
					"appearance":   "short dark hair, dockworker's coat",
					"personality":  "steady, slow to anger " + tag,
					"relationships": []map[string]any{{
						"to":   "c002",
						"type": "partner",
						"arc":  "from wary allies to sworn companions",
					}},
					"arc_summary": []string{"resolves to leave the harbor town"},
				},
				{
					"character_id":  "c002",
					"names":         []string{"Rin"},
					"role":          "deuteragonist",
					"appearance":    "scarred hands, pale scarf",
					"personality":   "impulsive, loyal",
					"relationships": []map[string]any{},
					"arc_summary":   []string{"destroys the ledger binding her family"},
				},
			},
		})
	case "chapter_scales":
		return mockJSON(map[string]any{
			"chapter_id":     "ch_001",
			"erotism_score":  0,
			"romance_score":  2,
			"action_score":   3,
			"genre_labels":   []string{"drama", "thriller"},
			"content_labels": []string{"violence:mild"},
		})
	case "chapter_plan":
		return mockJSON(map[string]any{
			"chapter_id":      "ch_002",
			"title":           "Crossing",
			"chapter_purpose": "move the leads out of the harbor and raise pursuit " + tag,
			"acts": []map[string]any{
				{
					"act_id":           1,
					"page_range":       "1-6",
					"objective":        "the leads slip past the dock patrol",
					"focus_characters": []string{"Aki", "Rin"},
					"arc_focus":        []string{"flight from the syndicate"},
				},
				{
					"act_id":           2,
					"page_range":       "7-12",
					"objective":        "a ferry bargain goes wrong",
					"focus_characters": []string{"Rin"},
					"arc_focus":        []string{"trust under pressure"},
				},
				{
					"act_id":           3,
					"page_range":       "13-18",
					"objective":        "pursuit closes in as the ferry departs",
					"focus_characters": []string{"Aki"},
					"arc_focus":        []string{"flight from the syndicate"},
				},
			},
		})
	case "page_batch":
		pages := make([]string, 0, 10)
		for i := 1; i <= 10; i++ {
			pages = append(pages, fmt.Sprintf("Page beat %d of the act %s.", i, tag))
		}
		return mockJSON(map[string]any{
			"events":            []string{"the ferry bargain collapses " + tag},
			"dialogues":         []string{"That was not the price we agreed."},
			"page_summaries":    pages,
			"narrative_closure": false,
		})
	case "visual_details":
		return mockJSON(map[string]any{
			"setting":    "a fog-bound ferry crossing " + tag,
			"atmosphere": "uneasy, hushed",
		})
	case "novel_prose":
		return "The harbor town never slept so much as held its breath. " + tag +
			" Aki counted the patrol lamps along the quay while Rin struck the match."
	default:
		return mockJSON(map[string]any{"operation": operation, "note": "mock response " + tag})
	}
}

func mockJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func promptTag(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "[" + hex.EncodeToString(sum[:4]) + "]"
}

// ScriptedProvider replays queued responses in order and is used to exercise
// retry and correction paths in tests.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	Calls     []GenerateRequest
}

func NewScriptedProvider() *ScriptedProvider { return &ScriptedProvider{} }

// Queue appends a response; a non-nil err takes precedence over text.
func (s *ScriptedProvider) Queue(text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, text)
	s.errs = append(s.errs, err)
}

func (s *ScriptedProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := ProviderInfo{Name: "scripted", Model: "scripted", Key: "none"}
	s.Calls = append(s.Calls, req)
	if len(s.responses) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("scripted provider exhausted")
	}
	text, err := s.responses[0], s.errs[0]
	s.responses, s.errs = s.responses[1:], s.errs[1:]
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func (s *ScriptedProvider) Describe(ctx context.Context, req VisionRequest) (GenerateResponse, ProviderInfo, error) {
	return s.Generate(ctx, GenerateRequest{Operation: req.Operation, Prompt: req.Prompt})
}
