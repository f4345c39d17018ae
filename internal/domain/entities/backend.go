package entities

import "time"

// BackendRole is the reasoning role a stage requests
type BackendRole string

const (
	RoleHistorian    BackendRole = "historian"
	RoleVision       BackendRole = "vision"
	RoleTrend        BackendRole = "trend"
	RolePharmacology BackendRole = "pharmacology"
	RoleSafety       BackendRole = "safety"
)

// SizeTier is the capacity class of a backend model
type SizeTier string

const (
	SizeSmall  SizeTier = "small"
	SizeMedium SizeTier = "medium"
	SizeLarge  SizeTier = "large"
)

// Rank orders tiers small (1) < medium (2) < large (3)
func (t SizeTier) Rank() int {
	switch t {
	case SizeSmall:
		return 1
	case SizeMedium:
		return 2
	case SizeLarge:
		return 3
	default:
		return 0
	}
}

// Locality says where a backend runs
type Locality string

const (
	LocalityLocal  Locality = "local"
	LocalityRemote Locality = "remote"
)

// BackendDescriptor identifies a reasoning capability. Healthy is written
// only by the backend selector.
type BackendDescriptor struct {
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	SizeTier     SizeTier `json:"size_tier"`
	Locality     Locality `json:"locality"`
	Multimodal   bool     `json:"multimodal"`
	Quantized    bool     `json:"quantized"`
	Fallbacks    []string `json:"fallbacks,omitempty"`
	Healthy      bool     `json:"healthy"`
	CircuitState string   `json:"circuit_state,omitempty"`
}

// CapabilityRequest is what a stage asks of the backend selector
type CapabilityRequest struct {
	Role          BackendRole `json:"role"`
	PreferredTier SizeTier    `json:"preferred_tier"`
	Multimodal    bool        `json:"multimodal"`
}

// Provenance records which backend actually served a request
type Provenance struct {
	Backend           string        `json:"backend"`
	Model             string        `json:"model"`
	Role              BackendRole   `json:"role"`
	Attempted         []string      `json:"attempted"`
	ReducedCapability bool          `json:"reduced_capability"`
	ReducedReason     string        `json:"reduced_reason,omitempty"`
	Latency           time.Duration `json:"latency"`
}
