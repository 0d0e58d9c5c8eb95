package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vos/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

// Attempt describes one provider call made while failing over.
type Attempt struct {
	Ref       ProviderRef
	Info      ProviderInfo
	Err       error
	ErrorType ErrorType
	Duration  time.Duration
}

type Manager struct {
	llmProviders []NamedLLMProvider
	cooldown     time.Duration
	now          func() time.Time

	mu            sync.Mutex
	disabledUntil map[int]time.Time
}

func NewManager(cfg config.Config) (*Manager, error) {
	refs := ParseProviderList(cfg.LLMProviders)
	list := make([]NamedLLMProvider, 0, len(refs))
	for _, ref := range refs {
		p, err := buildProvider(ref)
		if err != nil {
			return nil, err
		}
		list = append(list, NamedLLMProvider{Ref: ref, Provider: p})
	}
	return NewManagerWithProviders(list, time.Duration(cfg.ProviderCooldownSecs)*time.Second), nil
}

// NewManagerWithProviders wires an explicit provider list, falling back to
// the mock provider when the list is empty.
func NewManagerWithProviders(list []NamedLLMProvider, cooldown time.Duration) *Manager {
	if len(list) == 0 {
		list = []NamedLLMProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider()}}
	}
	return &Manager{
		llmProviders:  list,
		cooldown:      cooldown,
		now:           time.Now,
		disabledUntil: map[int]time.Time{},
	}
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	return m.llmProviders[i].Provider, m.llmProviders[i].Ref
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) LLMProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.llmProviders))
	for i := range m.llmProviders {
		out = append(out, m.llmProviders[i].Ref)
	}
	return out
}

// HasRealProvider reports whether anything other than the mock is configured.
func (m *Manager) HasRealProvider() bool {
	for i := range m.llmProviders {
		if strings.ToLower(m.llmProviders[i].Ref.Name) != "mock" {
			return true
		}
	}
	return false
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
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

// Generate walks the preferred provider order until one succeeds. Providers
// that report quota exhaustion are skipped for the cooldown window. observe,
// when non-nil, sees every attempt.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest, observe func(Attempt)) (GenerateResponse, ProviderInfo, error) {
	var lastErr error
	tried := 0
	for _, idx := range m.PreferredLLMOrder() {
		if m.coolingDown(idx) {
			continue
		}
		tried++
		provider, ref := m.LLMProviderByIndex(idx)
		start := m.now()
		resp, info, err := provider.Generate(ctx, req)
		at := Attempt{Ref: ref, Info: info, Err: err, Duration: m.now().Sub(start)}
		if err == nil {
			if observe != nil {
				observe(at)
			}
			return resp, info, nil
		}
		at.ErrorType = ClassifyError(err)
		if observe != nil {
			observe(at)
		}
		lastErr = fmt.Errorf("llm generate via %s failed: %w", ref.Raw, err)
		if at.ErrorType == ErrorQuota {
			m.disable(idx)
		}
		if ctx.Err() != nil || !ShouldFailover(at.ErrorType) {
			return GenerateResponse{}, info, lastErr
		}
	}
	if tried == 0 {
		return GenerateResponse{}, ProviderInfo{}, ErrNoProviderAvailable
	}
	return GenerateResponse{}, ProviderInfo{}, lastErr
}

func (m *Manager) coolingDown(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.disabledUntil[idx]
	if !ok {
		return false
	}
	if m.now().After(until) {
		delete(m.disabledUntil, idx)
		return false
	}
	return true
}

func (m *Manager) disable(idx int) {
	if m.cooldown <= 0 {
		return
	}
	m.mu.Lock()
	m.disabledUntil[idx] = m.now().Add(m.cooldown)
	m.mu.Unlock()
}

func buildProvider(ref ProviderRef) (LLMProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "anthropic":
		return NewAnthropicProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
