package activities

import (
	"encoding/json"
	"fmt"
	"strings"

	"mangaflow/internal/schema"
	"mangaflow/internal/util"
)

func fieldDirective(kind schema.Kind) string {
	names, err := schema.FieldNames(kind)
	if err != nil || len(names) == 0 {
		return "Respond with a single JSON object."
	}
	return "Respond with a single JSON object using exactly these top-level fields: " + strings.Join(names, ", ") + "."
}

func extractPagesPrompt(in ExtractPageBatchInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reading manga pages %d-%d of %d from chapter %s.\n",
		in.StartPage, in.StartPage+len(in.PagePaths)-1, in.TotalPages, in.ChapterID)
	if strings.TrimSpace(in.StorySoFar) != "" {
		b.WriteString("\nStory so far in this chapter:\n")
		b.WriteString(in.StorySoFar)
		b.WriteString("\n")
	}
	b.WriteString(`
Describe exactly what happens on these pages. Capture:
- events: concrete plot events in order
- dialogues: notable spoken lines, verbatim where legible
- page_summaries: one entry per page, in page order
- visual_details: setting and atmosphere

`)
	b.WriteString(fieldDirective(schema.KindChapterSummary))
	return b.String()
}

func storyIndexPrompt(summaries []schema.ChapterSummary, budget int) string {
	var b strings.Builder
	b.WriteString("Build a story index over the following chapter summaries.\n")
	b.WriteString("For every chapter give its number, a timeframe label, primary locations and characters, a one-paragraph summary, and the chapter's narrative intent. Also list global story arcs and recurring themes.\n\n")
	for _, s := range summaries {
		raw, _ := json.Marshal(s)
		fmt.Fprintf(&b, "--- %s ---\n%s\n", s.ChapterID, string(raw))
	}
	b.WriteString("\n")
	b.WriteString(fieldDirective(schema.KindStoryIndex))
	return util.TruncateHead(b.String(), budget)
}

func refinePrompt(summary schema.ChapterSummary, index schema.StoryIndex, budget int) string {
	idxRaw, _ := json.Marshal(index)
	sumRaw, _ := json.Marshal(summary)
	var b strings.Builder
	b.WriteString("Rewrite this chapter summary with full knowledge of the whole story.\n")
	b.WriteString("Correct misread names, resolve ambiguous references, and tie events to the arcs they serve. ")
	fmt.Fprintf(&b, "Keep chapter_id %q and keep exactly %d page_summaries entries.\n\n", summary.ChapterID, len(summary.PageSummaries))
	b.WriteString("Story index:\n")
	b.WriteString(util.TruncateHead(string(idxRaw), budget))
	b.WriteString("\n\nOriginal summary:\n")
	b.WriteString(string(sumRaw))
	b.WriteString("\n\n")
	b.WriteString(fieldDirective(schema.KindChapterSummary))
	return b.String()
}

func novelizePrompt(summary schema.ChapterSummary, storySoFar string) string {
	raw, _ := json.Marshal(summary)
	var b strings.Builder
	b.WriteString("Write this manga chapter as novel prose.\n")
	b.WriteString("Use close third person, keep every event and line of dialogue from the summary, and do not invent plot. End the chapter where the summary ends.\n\n")
	if strings.TrimSpace(storySoFar) != "" {
		b.WriteString("The story so far:\n")
		b.WriteString(storySoFar)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Chapter %s summary:\n%s\n", summary.ChapterID, string(raw))
	b.WriteString("\nReturn only the prose, no headings or commentary.")
	return b.String()
}

func synopsisPrompt(chapterID, prose string) string {
	return fmt.Sprintf(`Summarize chapter %s below in roughly 300 words, keeping every named character and plot-relevant event.

%s

Return only the synopsis text.`, chapterID, prose)
}

func anchorsPrompt(chapterID, prose string, requireNonEmpty bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identify the pivotal story moments (anchors) in chapter %s.\n", chapterID)
	b.WriteString(`An anchor is a decision, revelation, or event the later story hinges on. For each anchor give:
- anchor_id: "a" plus a three-digit ordinal within the chapter (a001, a002, ...)
- summary, characters involved, cause, immediate_effect, long_term_impact
- importance_score 1-5 and branching_potential 1-5

`)
	if requireNonEmpty {
		b.WriteString("Every chapter has at least one anchor; an empty list is not an acceptable answer.\n\n")
	}
	b.WriteString("Chapter prose:\n")
	b.WriteString(prose)
	b.WriteString("\n\n")
	b.WriteString(fieldDirective(schema.KindAnchorList))
	return b.String()
}

func branchRoutesPrompt(chapterID string, anchor schema.Anchor, prose string) string {
	raw, _ := json.Marshal(anchor)
	var b strings.Builder
	fmt.Fprintf(&b, "Propose alternate story routes diverging at this anchor in chapter %s.\n\n", chapterID)
	b.WriteString("Anchor:\n")
	b.WriteString(string(raw))
	b.WriteString(`

Produce exactly three branches, one of each branch_type:
- Behavioral: a character makes a different in-character choice
- BadEnd: the moment goes as badly as it plausibly could
- Wildcard: an unexpected but story-consistent twist

For each give what_if, trigger_character, short_effect, long_effect, and tone. Leave branch_id empty.

`)
	b.WriteString("Chapter prose for grounding:\n")
	b.WriteString(prose)
	b.WriteString("\n\n")
	b.WriteString(fieldDirective(schema.KindBranchRoutes))
	return b.String()
}

func characterBiblePrompt(novelTail string) string {
	var b strings.Builder
	b.WriteString(`Build a character bible from the novel text below. For every recurring character give:
- character_id: "c" plus a three-digit ordinal (c001, c002, ...)
- names: every name and alias used in the text
- role, appearance, personality
- relationships to other character_ids with type and arc
- arc_summary: the character's arc as a list of stages

`)
	b.WriteString("Novel text:\n")
	b.WriteString(novelTail)
	b.WriteString("\n\n")
	b.WriteString(fieldDirective(schema.KindCharacterBible))
	return b.String()
}

func scalesPrompt(chapterID, prose string, lim schema.ScaleLimits) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score chapter %s on content scales and label its genres.\n\n", chapterID)
	fmt.Fprintf(&b, "Scores are integers: erotism_score %d-%d, romance_score %d-%d, action_score %d-%d. Scores outside these ranges are invalid.\n",
		lim.ErotismMin, lim.ErotismMax, lim.RomanceMin, lim.RomanceMax, lim.ActionMin, lim.ActionMax)
	b.WriteString("genre_labels are genre names; content_labels are \"topic:severity\" pairs.\n\n")
	b.WriteString("Chapter prose:\n")
	b.WriteString(prose)
	b.WriteString("\n\n")
	b.WriteString(fieldDirective(schema.KindChapterScales))
	return b.String()
}

func chapterPlanPrompt(in PlanChapterInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan the next chapter, %s, of this ongoing story as a manga chapter of %d pages.\n\n", in.ChapterID, in.TargetPages)
	b.WriteString(in.Context)
	fmt.Fprintf(&b, `

Structure the chapter as acts covering pages 1-%d. For each act give act_id, page_range ("start-end"), objective, focus_characters, and arc_focus. State the chapter_purpose: what this chapter changes in the story.

`, in.TargetPages)
	b.WriteString(fieldDirective(schema.KindChapterPlan))
	return b.String()
}

func pageBatchPrompt(in GeneratePageBatchInput) string {
	planRaw, _ := json.Marshal(in.Plan)
	var b strings.Builder
	endPage := in.StartPage + in.BatchSize - 1
	fmt.Fprintf(&b, "Continue chapter %s by writing pages %d-%d (of %d planned).\n\n", in.ChapterID, in.StartPage, endPage, in.TargetPages)
	b.WriteString(in.Context)
	b.WriteString("\n\nChapter plan:\n")
	b.WriteString(string(planRaw))
	if len(in.PriorEvents) > 0 {
		b.WriteString("\n\nEvents already written in this chapter:\n")
		for _, e := range in.PriorEvents {
			b.WriteString("- " + e + "\n")
		}
	}
	if len(in.PriorPages) > 0 {
		b.WriteString("\nPages already written:\n")
		for _, p := range in.PriorPages {
			fmt.Fprintf(&b, "%d. %s\n", p.PageNumber, p.Text)
		}
	}
	if in.RouteKind != "" {
		fmt.Fprintf(&b, "\nThis is a %s branch diverging from the anchor: %s\n", in.RouteKind, in.AnchorSummary)
		b.WriteString("Nothing on these pages may contradict the divergence premise.\n")
	}
	fmt.Fprintf(&b, `
Give events, dialogues, and page_summaries with one entry per new page numbered %d onward. If the chapter reaches a natural ending within this batch, stop there and set narrative_closure to true.

`, in.StartPage)
	b.WriteString(fieldDirective(schema.KindPageBatch))
	return b.String()
}

func visualsPrompt(in SynthesizeVisualsInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Derive the overall setting and atmosphere of chapter %s from its content.\n\nEvents:\n", in.ChapterID)
	for _, e := range in.Events {
		b.WriteString("- " + e + "\n")
	}
	b.WriteString("\nPages:\n")
	for _, p := range in.PageSummaries {
		fmt.Fprintf(&b, "%d. %s\n", p.PageNumber, p.Text)
	}
	b.WriteString("\n")
	b.WriteString(fieldDirective(schema.KindVisualDetails))
	return b.String()
}
