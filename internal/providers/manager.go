package providers

import (
	"fmt"
	"strings"
	"time"

	"mangaflow/internal/config"
)

type NamedTextProvider struct {
	Ref      ProviderRef
	Provider TextProvider
}

type NamedVisionProvider struct {
	Ref      ProviderRef
	Provider VisionProvider
}

type Manager struct {
	textProviders   []NamedTextProvider
	visionProviders []NamedVisionProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	textRefs := ParseProviderList(cfg.TextProviders)
	visionRefs := ParseProviderList(cfg.VisionProviders)

	timeout := time.Duration(cfg.ProviderTimeout) * time.Second
	m := &Manager{}
	for _, ref := range textRefs {
		p, err := buildProvider(ref, cfg.TextModel, cfg.VisionModel, timeout)
		if err != nil {
			return nil, err
		}
		text, ok := p.(TextProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support text generation", ref.Raw)
		}
		m.textProviders = append(m.textProviders, NamedTextProvider{Ref: ref, Provider: text})
	}
	for _, ref := range visionRefs {
		p, err := buildProvider(ref, cfg.TextModel, cfg.VisionModel, timeout)
		if err != nil {
			return nil, err
		}
		vision, ok := p.(VisionProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support vision", ref.Raw)
		}
		m.visionProviders = append(m.visionProviders, NamedVisionProvider{Ref: ref, Provider: vision})
	}
	if len(m.textProviders) == 0 {
		m.textProviders = []NamedTextProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider()}}
	}
	if len(m.visionProviders) == 0 {
		m.visionProviders = []NamedVisionProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider()}}
	}
	return m, nil
}

func buildProvider(ref ProviderRef, textModel, visionModel string, timeout time.Duration) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "xai", "grok":
		return NewXAIProvider(ref.KeyAlias, textModel, visionModel, timeout), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias, "", "", timeout), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", ref.Name)
	}
}

func (m *Manager) FirstTextProvider() TextProvider {
	return m.textProviders[0].Provider
}

func (m *Manager) FirstVisionProvider() VisionProvider {
	return m.visionProviders[0].Provider
}

func (m *Manager) TextProviderByIndex(i int) (TextProvider, ProviderRef) {
	if len(m.textProviders) == 0 {
		return NewMockProvider(), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.textProviders) {
		i = 0
	}
	return m.textProviders[i].Provider, m.textProviders[i].Ref
}

func (m *Manager) VisionProviderByIndex(i int) (VisionProvider, ProviderRef) {
	if len(m.visionProviders) == 0 {
		return NewMockProvider(), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.visionProviders) {
		i = 0
	}
	return m.visionProviders[i].Provider, m.visionProviders[i].Ref
}

func (m *Manager) TextCount() int {
	return len(m.textProviders)
}

func (m *Manager) VisionCount() int {
	return len(m.visionProviders)
}

// PreferredTextOrder lists provider indexes with real backends first so the
// mock only serves as a terminal fallback.
func (m *Manager) PreferredTextOrder() []int {
	return preferredOrder(len(m.textProviders), func(i int) string { return strings.ToLower(m.textProviders[i].Ref.Name) })
}

func (m *Manager) PreferredVisionOrder() []int {
	return preferredOrder(len(m.visionProviders), func(i int) string { return strings.ToLower(m.visionProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}
