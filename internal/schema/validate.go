package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Violation is a single field-level schema failure.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

func FormatViolations(vs []Violation) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkStruct runs the declarative tag rules and translates failures into
// violations.
func checkStruct(v any) []Violation {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ferrs validator.ValidationErrors
	if !errors.As(err, &ferrs) {
		return []Violation{{Rule: "struct", Message: err.Error()}}
	}
	out := make([]Violation, 0, len(ferrs))
	for _, fe := range ferrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msg := "failed rule " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, Violation{Field: field, Rule: fe.Tag(), Message: msg})
	}
	return out
}

func (s ChapterSummary) Validate() []Violation {
	vs := checkStruct(s)
	for i, ps := range s.PageSummaries {
		if strings.TrimSpace(ps.Text) == "" {
			vs = append(vs, Violation{
				Field:   fmt.Sprintf("page_summaries[%d].text", i),
				Rule:    "required",
				Message: "page summary text is empty",
			})
		}
	}
	return vs
}

func (g GeneratedChapter) Validate() []Violation {
	vs := g.ChapterSummary.Validate()
	if g.Timeline == "" {
		vs = append(vs, Violation{Field: "timeline", Rule: "required", Message: "timeline provenance missing"})
	}
	if g.Timeline != "mainline" && g.ParentChapterID == "" {
		vs = append(vs, Violation{Field: "parent_chapter_id", Rule: "required", Message: "branch chapters must record the parent chapter"})
	}
	return vs
}

func (idx StoryIndex) Validate() []Violation {
	vs := checkStruct(idx)
	seen := make(map[string]bool, len(idx.Chapters))
	for i, ch := range idx.Chapters {
		if seen[ch.ChapterID] {
			vs = append(vs, Violation{
				Field:   fmt.Sprintf("chapters[%d].chapter_id", i),
				Rule:    "unique",
				Message: "duplicate chapter id " + ch.ChapterID,
			})
		}
		seen[ch.ChapterID] = true
	}
	return vs
}

func (l AnchorList) Validate() []Violation {
	vs := checkStruct(l)
	seen := make(map[string]bool, len(l.Anchors))
	for i, a := range l.Anchors {
		if seen[a.AnchorID] {
			vs = append(vs, Violation{
				Field:   fmt.Sprintf("anchors[%d].anchor_id", i),
				Rule:    "unique",
				Message: "duplicate anchor id " + a.AnchorID,
			})
		}
		seen[a.AnchorID] = true
	}
	return vs
}

// Validate on BranchRoutes enforces that every required route kind appears
// exactly once; a response omitting a kind is a schema violation, not a
// partial success.
func (r BranchRoutes) Validate() []Violation {
	vs := checkStruct(r)
	counts := make(map[RouteKind]int, len(RouteKinds))
	for _, b := range r.Branches {
		counts[b.BranchType]++
	}
	for _, kind := range RouteKinds {
		switch counts[kind] {
		case 0:
			vs = append(vs, Violation{Field: "branches", Rule: "route_kinds", Message: fmt.Sprintf("missing route kind %s", kind)})
		case 1:
		default:
			vs = append(vs, Violation{Field: "branches", Rule: "route_kinds", Message: fmt.Sprintf("route kind %s appears more than once", kind)})
		}
	}
	return vs
}

func (s BranchSuggestions) Validate() []Violation {
	var vs []Violation
	for anchorID, opts := range s.ByAnchor {
		for i, b := range opts {
			if b.BranchID == "" {
				vs = append(vs, Violation{
					Field:   fmt.Sprintf("branches_by_anchor[%s][%d].branch_id", anchorID, i),
					Rule:    "required",
					Message: "branch id missing",
				})
			}
		}
	}
	return vs
}

func (c BranchConfig) Validate() []Violation { return checkStruct(c) }

func (b CharacterBible) Validate() []Violation {
	vs := checkStruct(b)
	seen := make(map[string]bool, len(b.Characters))
	for i, c := range b.Characters {
		if seen[c.CharacterID] {
			vs = append(vs, Violation{
				Field:   fmt.Sprintf("characters[%d].character_id", i),
				Rule:    "unique",
				Message: "duplicate character id " + c.CharacterID,
			})
		}
		seen[c.CharacterID] = true
	}
	return vs
}

func (s ChapterScales) Validate() []Violation { return checkStruct(s) }

// ScaleLimits are the configured per-axis bounds. Out-of-range scores are
// violations and trigger regeneration; they are never silently clamped.
type ScaleLimits struct {
	ErotismMin, ErotismMax int
	RomanceMin, RomanceMax int
	ActionMin, ActionMax   int
}

func (s ChapterScales) ValidateBounds(lim ScaleLimits) []Violation {
	vs := s.Validate()
	check := func(field string, val, lo, hi int) {
		if val < lo || val > hi {
			vs = append(vs, Violation{
				Field:   field,
				Rule:    "range",
				Message: fmt.Sprintf("score %d outside configured range [%d,%d]", val, lo, hi),
			})
		}
	}
	check("erotism_score", s.ErotismScore, lim.ErotismMin, lim.ErotismMax)
	check("romance_score", s.RomanceScore, lim.RomanceMin, lim.RomanceMax)
	check("action_score", s.ActionScore, lim.ActionMin, lim.ActionMax)
	return vs
}

func (p ChapterPlan) Validate() []Violation { return checkStruct(p) }

func (b PageBatch) Validate() []Violation { return checkStruct(b) }

func (VisualDetails) Validate() []Violation { return nil }

// Decode unmarshals raw JSON into dst and validates it. Decode failures and
// violations share one reporting channel so callers treat both as schema
// failures.
func Decode(raw []byte, dst Artifact) []Violation {
	if err := json.Unmarshal(raw, dst); err != nil {
		return []Violation{{Rule: "json", Message: "invalid JSON: " + err.Error()}}
	}
	return deref(dst).Validate()
}

// deref re-validates through the value the pointer refers to, since Validate
// is declared on value receivers.
func deref(a Artifact) Artifact {
	switch v := a.(type) {
	case *ChapterSummary:
		return *v
	case *GeneratedChapter:
		return *v
	case *StoryIndex:
		return *v
	case *AnchorList:
		return *v
	case *BranchRoutes:
		return *v
	case *BranchSuggestions:
		return *v
	case *BranchConfig:
		return *v
	case *CharacterBible:
		return *v
	case *ChapterScales:
		return *v
	case *ChapterPlan:
		return *v
	case *PageBatch:
		return *v
	case *VisualDetails:
		return *v
	default:
		return a
	}
}
