package llm

import (
	"strings"

	"github.com/alanmaizon/taskplan/internal/domain"
	"github.com/rs/zerolog"
)

type Selector string

const (
	ProviderDeepSeek    Selector = "deepseek"
	ProviderSiliconFlow Selector = "siliconflow"

	DefaultSelector = ProviderDeepSeek
)

const (
	deepSeekBaseURL    = "https://api.deepseek.com"
	deepSeekModel      = "deepseek-chat"
	siliconFlowBaseURL = "https://api.siliconflow.cn/v1"
	siliconFlowModel   = "deepseek-ai/DeepSeek-V2.5"
)

// ProviderConfig is the connection data for one provider. Values are fixed
// after NewRegistry returns.
type ProviderConfig struct {
	Selector Selector
	APIKey   string
	BaseURL  string
	ModelID  string
}

func (p ProviderConfig) String() string {
	return string(p.Selector) + "(" + p.ModelID + " @ " + p.BaseURL + ")"
}

func (p ProviderConfig) MarshalZerologObject(e *zerolog.Event) {
	e.Str("provider", string(p.Selector)).
		Str("base_url", p.BaseURL).
		Str("model", p.ModelID).
		Bool("has_key", p.APIKey != "")
}

// Credentials carries the only externally supplied part of each provider.
type Credentials struct {
	DeepSeekAPIKey    string
	SiliconFlowAPIKey string
}

type Registry struct {
	providers map[Selector]ProviderConfig
}

func NewRegistry(creds Credentials) *Registry {
	return &Registry{
		providers: map[Selector]ProviderConfig{
			ProviderDeepSeek: {
				Selector: ProviderDeepSeek,
				APIKey:   strings.TrimSpace(creds.DeepSeekAPIKey),
				BaseURL:  deepSeekBaseURL,
				ModelID:  deepSeekModel,
			},
			ProviderSiliconFlow: {
				Selector: ProviderSiliconFlow,
				APIKey:   strings.TrimSpace(creds.SiliconFlowAPIKey),
				BaseURL:  siliconFlowBaseURL,
				ModelID:  siliconFlowModel,
			},
		},
	}
}

// ParseSelector maps a name to a known selector. An empty name selects the
// default provider.
func ParseSelector(name string) (Selector, error) {
	normalized := Selector(strings.ToLower(strings.TrimSpace(name)))
	switch normalized {
	case "":
		return DefaultSelector, nil
	case ProviderDeepSeek, ProviderSiliconFlow:
		return normalized, nil
	default:
		return "", &UnsupportedProviderError{Selector: name}
	}
}

func (r *Registry) Lookup(selector Selector) (ProviderConfig, error) {
	provider, ok := r.providers[selector]
	if !ok {
		return ProviderConfig{}, &UnsupportedProviderError{Selector: string(selector)}
	}
	return provider, nil
}

// Providers lists registered providers in a stable order, without credentials.
func (r *Registry) Providers() []domain.ProviderInfo {
	order := []Selector{ProviderDeepSeek, ProviderSiliconFlow}
	infos := make([]domain.ProviderInfo, 0, len(order))
	for _, selector := range order {
		provider := r.providers[selector]
		infos = append(infos, domain.ProviderInfo{
			Name:       string(selector),
			BaseURL:    provider.BaseURL,
			Model:      provider.ModelID,
			Configured: provider.APIKey != "",
		})
	}
	return infos
}
