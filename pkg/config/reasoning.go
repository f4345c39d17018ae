package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment targets
const (
	DeploymentCloud  = "cloud"
	DeploymentLocal  = "local"
	DeploymentHybrid = "hybrid"
)

// Quantization modes for local backends
const (
	QuantizationNone = "none"
	Quantization4Bit = "4bit"
)

// Backend provider kinds
const (
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Reasoning roles with a fallback chain
const (
	RoleHistorian    = "historian"
	RoleVision       = "vision"
	RoleTrend        = "trend"
	RolePharmacology = "pharmacology"
	RoleSafety       = "safety"
)

// ModelIDs names the models the default catalog is built from
type ModelIDs struct {
	MedGemma4B  string `yaml:"medgemma_4b"`
	MedGemma27B string `yaml:"medgemma_27b"`
	TxGemma9B   string `yaml:"txgemma_9b"`
	TxGemma2B   string `yaml:"txgemma_2b"`
}

// BackendSpec describes one reasoning backend in the catalog
type BackendSpec struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SizeTier     string `yaml:"size_tier"`
	Locality     string `yaml:"locality"`
	Multimodal   bool   `yaml:"multimodal"`
	Quantization string `yaml:"quantization"`
}

// ReasoningConfig is the immutable configuration threaded into the backend
// selector. Use the accessors; they return copies.
type ReasoningConfig struct {
	DeploymentTarget string              `yaml:"deployment_target"`
	Quantization     string              `yaml:"quantization"`
	Models           ModelIDs            `yaml:"models"`
	InvokeTimeout    time.Duration       `yaml:"invoke_timeout"`
	Backends         []BackendSpec       `yaml:"backends"`
	Chains           map[string][]string `yaml:"chains"`
}

// Clone returns a deep copy
func (c ReasoningConfig) Clone() ReasoningConfig {
	out := c
	out.Backends = append([]BackendSpec(nil), c.Backends...)
	out.Chains = make(map[string][]string, len(c.Chains))
	for role, chain := range c.Chains {
		out.Chains[role] = append([]string(nil), chain...)
	}
	return out
}

// Chain returns the ordered fallback chain for a role
func (c ReasoningConfig) Chain(role string) []string {
	return append([]string(nil), c.Chains[role]...)
}

// Backend looks up a catalog entry by name
func (c ReasoningConfig) Backend(name string) (BackendSpec, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendSpec{}, false
}

// Validate checks that every chain entry names a catalog backend
func (c ReasoningConfig) Validate() error {
	switch c.Quantization {
	case QuantizationNone, Quantization4Bit:
	default:
		return fmt.Errorf("unsupported quantization mode %q", c.Quantization)
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend with empty name in catalog")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend %q in catalog", b.Name)
		}
		seen[b.Name] = true
		switch b.Provider {
		case ProviderGenAI, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("backend %q: unsupported provider %q", b.Name, b.Provider)
		}
	}
	for role, chain := range c.Chains {
		if len(chain) == 0 {
			return fmt.Errorf("role %q has an empty fallback chain", role)
		}
		listed := make(map[string]bool, len(chain))
		for _, name := range chain {
			if !seen[name] {
				return fmt.Errorf("role %q references unknown backend %q", role, name)
			}
			if listed[name] {
				return fmt.Errorf("role %q lists backend %q more than once", role, name)
			}
			listed[name] = true
		}
	}
	return nil
}

// LoadBackendCatalog reads a YAML catalog file over the given defaults.
// Fields absent from the file keep their default value.
func LoadBackendCatalog(path string, defaults ReasoningConfig) (ReasoningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReasoningConfig{}, fmt.Errorf("failed to read backend catalog: %w", err)
	}

	out := defaults.Clone()
	var file ReasoningConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ReasoningConfig{}, fmt.Errorf("failed to parse backend catalog: %w", err)
	}

	if file.DeploymentTarget != "" {
		out.DeploymentTarget = file.DeploymentTarget
	}
	if file.Quantization != "" {
		out.Quantization = file.Quantization
	}
	if file.InvokeTimeout > 0 {
		out.InvokeTimeout = file.InvokeTimeout
	}
	if len(file.Backends) > 0 {
		out.Backends = file.Backends
	}
	for role, chain := range file.Chains {
		out.Chains[role] = chain
	}
	return out, nil
}

func loadReasoningConfig(cfg *Config) (ReasoningConfig, error) {
	rc := ReasoningConfig{
		DeploymentTarget: getEnv("DEPLOYMENT_TARGET", DeploymentCloud),
		Quantization:     getEnv("QUANTIZATION", QuantizationNone),
		InvokeTimeout:    getEnvAsDuration("BACKEND_INVOKE_TIMEOUT", 60*time.Second),
		Models: ModelIDs{
			MedGemma4B:  getEnv("MEDGEMMA_4B_MODEL", "medgemma-4b-it"),
			MedGemma27B: getEnv("MEDGEMMA_27B_MODEL", "medgemma-27b-text-it"),
			TxGemma9B:   getEnv("TXGEMMA_9B_MODEL", "txgemma-9b-chat"),
			TxGemma2B:   getEnv("TXGEMMA_2B_MODEL", "txgemma-2b-predict"),
		},
	}
	rc.Backends, rc.Chains = DefaultCatalog(rc, cfg.OpenAI.APIKey != "")

	if path := getEnv("BACKENDS_FILE", ""); path != "" {
		return LoadBackendCatalog(path, rc)
	}
	return rc, nil
}

// DefaultCatalog derives backends and fallback chains from the deployment
// target. Remote backends go through GenAI, local ones through Ollama.
func DefaultCatalog(rc ReasoningConfig, withOpenAI bool) ([]BackendSpec, map[string][]string) {
	remote := []BackendSpec{
		{Name: "remote-medgemma-4b", Provider: ProviderGenAI, Model: rc.Models.MedGemma4B, SizeTier: "small", Locality: "remote", Multimodal: true, Quantization: QuantizationNone},
		{Name: "remote-medgemma-27b", Provider: ProviderGenAI, Model: rc.Models.MedGemma27B, SizeTier: "large", Locality: "remote", Quantization: QuantizationNone},
		{Name: "remote-txgemma-9b", Provider: ProviderGenAI, Model: rc.Models.TxGemma9B, SizeTier: "medium", Locality: "remote", Quantization: QuantizationNone},
		{Name: "remote-txgemma-2b", Provider: ProviderGenAI, Model: rc.Models.TxGemma2B, SizeTier: "small", Locality: "remote", Quantization: QuantizationNone},
	}
	local := []BackendSpec{
		{Name: "local-medgemma-4b", Provider: ProviderOllama, Model: localTag(rc.Models.MedGemma4B, rc.Quantization), SizeTier: "small", Locality: "local", Multimodal: true, Quantization: rc.Quantization},
		{Name: "local-medgemma-27b", Provider: ProviderOllama, Model: localTag(rc.Models.MedGemma27B, rc.Quantization), SizeTier: "large", Locality: "local", Quantization: rc.Quantization},
		{Name: "local-txgemma-9b", Provider: ProviderOllama, Model: localTag(rc.Models.TxGemma9B, rc.Quantization), SizeTier: "medium", Locality: "local", Quantization: rc.Quantization},
		{Name: "local-txgemma-2b", Provider: ProviderOllama, Model: localTag(rc.Models.TxGemma2B, rc.Quantization), SizeTier: "small", Locality: "local", Quantization: rc.Quantization},
	}

	var primary, secondary []BackendSpec
	switch rc.DeploymentTarget {
	case DeploymentLocal:
		primary = local
	case DeploymentHybrid:
		primary, secondary = local, remote
	default:
		primary = remote
	}

	backends := append(append([]BackendSpec(nil), primary...), secondary...)
	names := func(suffix string) []string {
		var out []string
		for _, group := range [][]BackendSpec{primary, secondary} {
			for _, b := range group {
				if strings.HasSuffix(b.Name, suffix) {
					out = append(out, b.Name)
				}
			}
		}
		return out
	}

	chains := map[string][]string{
		RoleHistorian:    append(names("medgemma-4b"), names("medgemma-27b")...),
		RoleVision:       names("medgemma-4b"),
		RoleTrend:        append(names("medgemma-27b"), names("medgemma-4b")...),
		RolePharmacology: append(names("medgemma-27b"), names("medgemma-4b")...),
		RoleSafety:       append(names("txgemma-9b"), names("txgemma-2b")...),
	}

	if withOpenAI {
		backends = append(backends, BackendSpec{Name: "openai", Provider: ProviderOpenAI, SizeTier: "medium", Locality: "remote", Quantization: QuantizationNone})
		for _, role := range []string{RoleHistorian, RoleTrend, RolePharmacology} {
			chains[role] = append(chains[role], "openai")
		}
	}
	return backends, chains
}

func localTag(model, quantization string) string {
	if quantization == Quantization4Bit {
		return model + "-q4_K_M"
	}
	return model
}
