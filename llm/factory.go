// Provider construction.
//
// Every provider is described once in providerSpecs; ProviderType and the
// fluent ProviderBuilder read from that table.
//
//	gemini, err := llm.ProviderGemini.APIKey(key)            // gemini-2.5-flash
//	custom, err := llm.ProviderOpenAI.
//	    Model(llm.ModelOpenAIGPT4oMini).
//	    MaxTokens(2048).
//	    Temperature(0.2).
//	    APIKey(key)

package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Model identifiers used as defaults or commonly selected.
const (
	ModelGeminiFlash25 = "gemini-2.5-flash"
	ModelGeminiPro25   = "gemini-2.5-pro"

	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"

	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelAnthropicClaudeHaiku4  = "claude-haiku-4-20250514"

	ModelDeepSeekChat     = "deepseek-chat"
	ModelDeepSeekReasoner = "deepseek-reasoner"
)

// Generation defaults applied when a builder leaves them unset.
const (
	defaultMaxTokens   uint32  = 4096
	defaultTemperature float32 = 0.7
)

// ProviderType identifies a supported model provider.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderDeepSeek
	ProviderGemini
)

// DefaultProvider is used when no provider is configured.
const DefaultProvider = ProviderGemini

type providerSpec struct {
	name         string
	aliases      []string
	envVar       string
	defaultModel string
	build        func(apiKey, model string, maxTokens uint32, temperature float32) Provider
}

var providerSpecs = map[ProviderType]providerSpec{
	ProviderOpenAI: {
		name: "openai", aliases: []string{"gpt"},
		envVar: "OPENAI_API_KEY", defaultModel: ModelOpenAIGPT4o,
		build: func(k, m string, n uint32, t float32) Provider { return NewOpenAIProvider(k, m, n, t) },
	},
	ProviderAnthropic: {
		name: "anthropic", aliases: []string{"claude"},
		envVar: "ANTHROPIC_API_KEY", defaultModel: ModelAnthropicClaudeSonnet4,
		build: func(k, m string, n uint32, t float32) Provider { return NewAnthropicProvider(k, m, n, t) },
	},
	ProviderDeepSeek: {
		name:   "deepseek",
		envVar: "DEEPSEEK_API_KEY", defaultModel: ModelDeepSeekChat,
		build: func(k, m string, n uint32, t float32) Provider { return NewDeepSeekProvider(k, m, n, t) },
	},
	ProviderGemini: {
		name: "gemini", aliases: []string{"google"},
		envVar: "GEMINI_API_KEY", defaultModel: ModelGeminiFlash25,
		build: func(k, m string, n uint32, t float32) Provider { return NewGeminiProvider(k, m, n, t) },
	},
}

// String returns the canonical provider name.
func (p ProviderType) String() string {
	if spec, ok := providerSpecs[p]; ok {
		return spec.name
	}
	return "unknown"
}

// EnvVar returns the environment variable holding this provider's API key.
func (p ProviderType) EnvVar() string {
	return providerSpecs[p].envVar
}

// ModelEnvVar returns the environment variable overriding this provider's model.
func (p ProviderType) ModelEnvVar() string {
	return strings.ToUpper(p.String()) + "_MODEL"
}

// DefaultModel returns the model used when none is configured.
func (p ProviderType) DefaultModel() string {
	return providerSpecs[p].defaultModel
}

// ProviderNames returns the canonical provider names, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(providerSpecs))
	for _, spec := range providerSpecs {
		names = append(names, spec.name)
	}
	sort.Strings(names)
	return names
}

// ParseProviderType parses a provider name or alias (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, spec := range providerSpecs {
		if s == spec.name {
			return p, nil
		}
		for _, alias := range spec.aliases {
			if s == alias {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown provider: %s", s)
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey creates a provider with an explicit API key and default settings.
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder configures a provider before construction.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{providerType: providerType}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens caps the length of each reply.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets sampling temperature. Zero is honoured.
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	spec, ok := providerSpecs[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}

	model := b.model
	if model == "" {
		model = spec.defaultModel
	}
	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if b.temperature != nil {
		temperature = *b.temperature
	}

	return spec.build(apiKey, model, maxTokens, temperature), nil
}
