package schema

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindChapterSummary    Kind = "chapter_summary"
	KindStoryIndex        Kind = "story_index"
	KindAnchorList        Kind = "anchor_list"
	KindBranchRoutes      Kind = "branch_routes"
	KindBranchSuggestions Kind = "branch_suggestions"
	KindBranchConfig      Kind = "branch_config"
	KindCharacterBible    Kind = "character_bible"
	KindChapterScales     Kind = "chapter_scales"
	KindChapterPlan       Kind = "chapter_plan"
	KindPageBatch         Kind = "page_batch"
	KindVisualDetails     Kind = "visual_details"
	KindGeneratedChapter  Kind = "generated_chapter"
)

// Artifact is implemented by every pipeline JSON structure. Validate reports
// field-level violations; an empty slice means the value is well formed.
type Artifact interface {
	Kind() Kind
	Validate() []Violation
}

type PageSummary struct {
	PageNumber int    `json:"page_number" validate:"min=1"`
	Text       string `json:"text" validate:"required"`
}

// PageSummaryList accepts either structured entries or bare strings; models
// frequently return plain strings, which are coerced with positional page
// numbers.
type PageSummaryList []PageSummary

func (l *PageSummaryList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]PageSummary, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, PageSummary{PageNumber: i + 1, Text: s})
			continue
		}
		var ps PageSummary
		if err := json.Unmarshal(item, &ps); err != nil {
			return fmt.Errorf("page_summaries[%d]: %w", i, err)
		}
		if ps.PageNumber == 0 {
			ps.PageNumber = i + 1
		}
		out = append(out, ps)
	}
	*l = out
	return nil
}

type VisualDetails struct {
	Setting    string `json:"setting"`
	Atmosphere string `json:"atmosphere"`
}

func (VisualDetails) Kind() Kind { return KindVisualDetails }

type ChapterSummary struct {
	ChapterID     string          `json:"chapter_id" validate:"required"`
	Events        []string        `json:"events"`
	Dialogues     []string        `json:"dialogues"`
	VisualDetails VisualDetails   `json:"visual_details"`
	PageSummaries PageSummaryList `json:"page_summaries"`
	CoverageNotes string          `json:"coverage_notes,omitempty"`
	Confidence    *float64        `json:"confidence_score,omitempty" validate:"omitempty,min=0,max=1"`

	// Set on refined variants: the story index version the regeneration saw.
	StoryIndexVersion string `json:"story_index_version,omitempty"`
}

func (ChapterSummary) Kind() Kind { return KindChapterSummary }

// GeneratedChapter is a ChapterSummary plus provenance. Timeline is
// "mainline" or a branch id; branch chapters also record the mainline chapter
// they diverged from.
type GeneratedChapter struct {
	ChapterSummary
	Timeline        string `json:"timeline" validate:"required"`
	ParentChapterID string `json:"parent_chapter_id,omitempty"`
}

func (GeneratedChapter) Kind() Kind { return KindGeneratedChapter }

type ChapterIndexEntry struct {
	ChapterID         string   `json:"chapter_id" validate:"required"`
	ChapterNumber     int      `json:"chapter_number" validate:"min=1"`
	Title             string   `json:"title,omitempty"`
	TimeframeLabel    string   `json:"timeframe_label,omitempty"`
	PrimaryLocations  []string `json:"primary_locations"`
	PrimaryCharacters []string `json:"primary_characters"`
	Summary           string   `json:"summary" validate:"required"`
	ChapterIntent     string   `json:"chapter_intent" validate:"required"`
}

type StoryIndex struct {
	Chapters        []ChapterIndexEntry `json:"chapters" validate:"dive"`
	GlobalArcs      []string            `json:"global_arcs"`
	RecurringThemes []string            `json:"recurring_themes"`

	// Content hash of the summary corpus the index was built from. Refined
	// summaries reference it so stale cross-references are detectable.
	Version string `json:"version,omitempty"`
}

func (StoryIndex) Kind() Kind { return KindStoryIndex }

type Anchor struct {
	AnchorID           string   `json:"anchor_id" validate:"required"`
	ChapterID          string   `json:"chapter_id"`
	Summary            string   `json:"summary" validate:"required"`
	Characters         []string `json:"characters"`
	Cause              string   `json:"cause"`
	ImmediateEffect    string   `json:"immediate_effect"`
	LongTermImpact     string   `json:"long_term_impact"`
	ImportanceScore    int      `json:"importance_score" validate:"min=1,max=5"`
	BranchingPotential int      `json:"branching_potential" validate:"min=1,max=5"`
}

type AnchorList struct {
	Anchors []Anchor `json:"anchors" validate:"dive"`
}

func (AnchorList) Kind() Kind { return KindAnchorList }

type RouteKind string

const (
	RouteBehavioral RouteKind = "Behavioral"
	RouteBadEnd     RouteKind = "BadEnd"
	RouteWildcard   RouteKind = "Wildcard"
)

// RouteKinds is the fixed set every qualifying anchor must receive, in order.
var RouteKinds = []RouteKind{RouteBehavioral, RouteBadEnd, RouteWildcard}

type BranchOption struct {
	BranchID         string            `json:"branch_id"`
	AnchorID         string            `json:"anchor_id"`
	BranchType       RouteKind         `json:"branch_type" validate:"required,oneof=Behavioral BadEnd Wildcard"`
	WhatIf           string            `json:"what_if" validate:"required"`
	TriggerCharacter string            `json:"trigger_character"`
	ShortEffect      string            `json:"short_effect"`
	LongEffect       string            `json:"long_effect"`
	Tone             string            `json:"tone,omitempty"`
	NewCharacters    []json.RawMessage `json:"new_characters,omitempty"`
	ForcedDecisions  []string          `json:"forced_decisions,omitempty"`
}

// BranchRoutes is the per-anchor generation target: exactly one option per
// route kind.
type BranchRoutes struct {
	Branches []BranchOption `json:"branches" validate:"dive"`
}

func (BranchRoutes) Kind() Kind { return KindBranchRoutes }

type BranchSuggestions struct {
	ByAnchor map[string][]BranchOption `json:"branches_by_anchor"`
}

func (BranchSuggestions) Kind() Kind { return KindBranchSuggestions }

type ForcedDecision struct {
	Character string `json:"character"`
	Decision  string `json:"decision"`
}

// BranchConfig is operator input, consumed only by branch continuation.
type BranchConfig struct {
	BranchID            string            `json:"branch_id" validate:"required"`
	IntroduceCharacters []json.RawMessage `json:"introduce_characters,omitempty"`
	ForceDecisions      []ForcedDecision  `json:"force_decisions,omitempty"`
}

func (BranchConfig) Kind() Kind { return KindBranchConfig }

type Relationship struct {
	To   string `json:"to" validate:"required"`
	Type string `json:"type"`
	Arc  string `json:"arc"`
}

type Character struct {
	CharacterID   string         `json:"character_id" validate:"required"`
	Names         []string       `json:"names" validate:"min=1"`
	Role          string         `json:"role" validate:"required"`
	Appearance    string         `json:"appearance"`
	Personality   string         `json:"personality"`
	Relationships []Relationship `json:"relationships" validate:"dive"`
	ArcSummary    []string       `json:"arc_summary"`
}

type CharacterBible struct {
	Characters []Character `json:"characters" validate:"dive"`
}

func (CharacterBible) Kind() Kind { return KindCharacterBible }

type ChapterScales struct {
	ChapterID     string   `json:"chapter_id" validate:"required"`
	ErotismScore  int      `json:"erotism_score"`
	RomanceScore  int      `json:"romance_score"`
	ActionScore   int      `json:"action_score"`
	GenreLabels   []string `json:"genre_labels"`
	ContentLabels []string `json:"content_labels"`
}

func (ChapterScales) Kind() Kind { return KindChapterScales }

type ChapterAct struct {
	ActID           int      `json:"act_id" validate:"min=1"`
	PageRange       string   `json:"page_range" validate:"required"`
	Objective       string   `json:"objective" validate:"required"`
	FocusCharacters []string `json:"focus_characters"`
	ArcFocus        []string `json:"arc_focus"`
}

type ChapterPlan struct {
	ChapterID      string       `json:"chapter_id" validate:"required"`
	Title          string       `json:"title"`
	ChapterPurpose string       `json:"chapter_purpose" validate:"required"`
	Acts           []ChapterAct `json:"acts" validate:"dive"`
}

func (ChapterPlan) Kind() Kind { return KindChapterPlan }

// PageBatch is one continuation generation step. NarrativeClosure lets the
// model end a chapter before the page target is reached.
type PageBatch struct {
	Events           []string        `json:"events"`
	Dialogues        []string        `json:"dialogues"`
	PageSummaries    PageSummaryList `json:"page_summaries" validate:"min=1"`
	NarrativeClosure bool            `json:"narrative_closure,omitempty"`
}

func (PageBatch) Kind() Kind { return KindPageBatch }

// NovelChapter is prose keyed by chapter id plus the rolling story snapshot
// it was produced from.
type NovelChapter struct {
	ChapterID  string `json:"chapter_id"`
	Prose      string `json:"prose"`
	StorySoFar string `json:"story_so_far"`
}
