package schema

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/invopop/jsonschema"

	"mangaflow/internal/util"
)

// registry maps every artifact kind to a fresh zero value; export and decode
// callers share it.
var registry = map[Kind]func() Artifact{
	KindChapterSummary:    func() Artifact { return &ChapterSummary{} },
	KindStoryIndex:        func() Artifact { return &StoryIndex{} },
	KindAnchorList:        func() Artifact { return &AnchorList{} },
	KindBranchRoutes:      func() Artifact { return &BranchRoutes{} },
	KindBranchSuggestions: func() Artifact { return &BranchSuggestions{} },
	KindBranchConfig:      func() Artifact { return &BranchConfig{} },
	KindCharacterBible:    func() Artifact { return &CharacterBible{} },
	KindChapterScales:     func() Artifact { return &ChapterScales{} },
	KindChapterPlan:       func() Artifact { return &ChapterPlan{} },
	KindPageBatch:         func() Artifact { return &PageBatch{} },
	KindVisualDetails:     func() Artifact { return &VisualDetails{} },
	KindGeneratedChapter:  func() Artifact { return &GeneratedChapter{} },
}

func New(kind Kind) (Artifact, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	return factory(), nil
}

func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FieldNames lists the top-level JSON fields of a kind, used to steer the
// model toward the exact shape in prompts.
func FieldNames(kind Kind) ([]string, error) {
	doc, err := Export(kind)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Defs map[string]struct {
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"$defs"`
		Ref string `json:"$ref"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	name := filepath.Base(parsed.Ref)
	def, ok := parsed.Defs[name]
	if !ok {
		return nil, fmt.Errorf("schema for %s has no root definition", kind)
	}
	fields := make([]string, 0, len(def.Properties))
	for f := range def.Properties {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields, nil
}

// Export renders one kind as a portable JSON Schema document.
func Export(kind Kind) ([]byte, error) {
	a, err := New(kind)
	if err != nil {
		return nil, err
	}
	reflector := jsonschema.Reflector{DoNotReference: false}
	doc := reflector.Reflect(a)
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", kind, err)
	}
	return out, nil
}

// ExportAll writes <kind>.schema.json for every registered kind so external
// consumers can validate artifacts without this codebase.
func ExportAll(dir string) error {
	for _, kind := range Kinds() {
		doc, err := Export(kind)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, string(kind)+".schema.json")
		if err := util.WriteTextAtomic(path, string(doc)); err != nil {
			return fmt.Errorf("write schema %s: %w", kind, err)
		}
	}
	return nil
}
