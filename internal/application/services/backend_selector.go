package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Circuit breaker policy per backend
const (
	breakerTripAfter   = 3
	breakerOpenTimeout = 30 * time.Second
	breakerInterval    = time.Minute
)

// BackendSelector walks a role's fallback chain and invokes the first
// backend that answers. It is the only writer of descriptor health.
type BackendSelector struct {
	cfg      config.ReasoningConfig
	backends map[string]providers.ReasoningBackend
	metrics  *observability.Metrics
	now      func() time.Time

	mu          sync.RWMutex
	descriptors map[string]*entities.BackendDescriptor
	breakers    map[string]*gobreaker.CircuitBreaker
}

// Ensure BackendSelector implements ReasoningInvoker
var _ providers.ReasoningInvoker = (*BackendSelector)(nil)

// NewBackendSelector builds descriptors and breakers from the catalog.
// backends maps a catalog provider name to its client.
func NewBackendSelector(cfg config.ReasoningConfig, backends map[string]providers.ReasoningBackend, metrics *observability.Metrics) (*BackendSelector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reasoning config: %w", err)
	}

	s := &BackendSelector{
		cfg:         cfg.Clone(),
		backends:    make(map[string]providers.ReasoningBackend, len(backends)),
		metrics:     metrics,
		now:         time.Now,
		descriptors: make(map[string]*entities.BackendDescriptor),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
	for provider, b := range backends {
		if b != nil {
			s.backends[provider] = b
		}
	}

	for _, spec := range s.cfg.Backends {
		s.descriptors[spec.Name] = &entities.BackendDescriptor{
			Name:         spec.Name,
			Provider:     spec.Provider,
			Model:        spec.Model,
			SizeTier:     entities.SizeTier(spec.SizeTier),
			Locality:     entities.Locality(spec.Locality),
			Multimodal:   spec.Multimodal,
			Quantized:    spec.Quantization == config.Quantization4Bit,
			Healthy:      true,
			CircuitState: gobreaker.StateClosed.String(),
		}
		s.breakers[spec.Name] = gobreaker.NewCircuitBreaker(s.breakerSettings(spec.Name))
	}
	return s, nil
}

func (s *BackendSelector) breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.mu.Lock()
			if d, ok := s.descriptors[name]; ok {
				d.Healthy = to != gobreaker.StateOpen
				d.CircuitState = to.String()
			}
			s.mu.Unlock()
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("backend circuit state changed")
		},
		// Content errors mean the backend answered
		IsSuccessful: func(err error) bool {
			return err == nil || !providers.IsBackendFailure(err)
		},
	}
}

// Invoke tries each backend in the role's chain at most once. Backend
// failures move to the next entry; any other error is returned as is.
func (s *BackendSelector) Invoke(ctx context.Context, req entities.CapabilityRequest, payload providers.PromptPayload) (*providers.Invocation, error) {
	ctx, span := observability.StartSpan(ctx, "backend.invoke")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("reasoning.role", string(req.Role)))

	chain := s.cfg.Chain(string(req.Role))
	if len(chain) == 0 {
		return nil, apperrors.NewNoBackendAvailableError(fmt.Sprintf("no fallback chain configured for role %s", req.Role), nil)
	}

	var (
		attempted []string
		lastErr   error
	)
	for _, name := range chain {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTransientBackendError(fmt.Sprintf("role %s interrupted before invoking %s", req.Role, name), err)
		}

		desc, ok := s.descriptor(name)
		if !ok {
			continue
		}
		if req.Multimodal && !desc.Multimodal {
			continue
		}
		backend, ok := s.backends[desc.Provider]
		if !ok {
			lastErr = fmt.Errorf("%w: no client configured for provider %s", providers.ErrBackendUnavailable, desc.Provider)
			continue
		}
		breaker := s.breakers[name]
		if breaker.State() == gobreaker.StateOpen {
			log.Debug().Str("backend", name).Str("role", string(req.Role)).Msg("skipping backend with open circuit")
			lastErr = fmt.Errorf("%w: circuit open for %s", providers.ErrBackendUnavailable, name)
			continue
		}

		attempted = append(attempted, name)
		start := s.now()
		result, err := s.call(ctx, breaker, backend, req.Role, payload, desc)
		observability.RecordBackendInvocation(ctx, s.metrics, string(req.Role), name, err)
		if err == nil {
			return s.served(ctx, req, desc, result, attempted, s.now().Sub(start)), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", providers.ErrBackendUnavailable, err)
		}
		if !providers.IsBackendFailure(err) {
			observability.RecordError(span, err)
			return nil, err
		}

		lastErr = err
		observability.RecordBackendFallback(ctx, s.metrics, string(req.Role), name)
		log.Warn().Err(err).Str("backend", name).Str("role", string(req.Role)).Msg("backend failed, trying next in chain")
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTransientBackendError(fmt.Sprintf("role %s interrupted", req.Role), err)
	}
	err := apperrors.NewNoBackendAvailableError(
		fmt.Sprintf("all backends for role %s failed (attempted %v)", req.Role, attempted), lastErr)
	observability.RecordError(span, err)
	return nil, err
}

func (s *BackendSelector) call(ctx context.Context, breaker *gobreaker.CircuitBreaker, backend providers.ReasoningBackend, role entities.BackendRole, payload providers.PromptPayload, desc entities.BackendDescriptor) (*providers.StructuredResult, error) {
	if s.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InvokeTimeout)
		defer cancel()
	}
	out, err := breaker.Execute(func() (interface{}, error) {
		return backend.Invoke(ctx, role, payload, desc)
	})
	if err != nil {
		return nil, err
	}
	result, _ := out.(*providers.StructuredResult)
	if result == nil {
		return nil, fmt.Errorf("backend %s returned no result", desc.Name)
	}
	return result, nil
}

func (s *BackendSelector) served(ctx context.Context, req entities.CapabilityRequest, desc entities.BackendDescriptor, result *providers.StructuredResult, attempted []string, latency time.Duration) *providers.Invocation {
	model := result.Model
	if model == "" {
		model = desc.Model
	}
	p := entities.Provenance{
		Backend:   desc.Name,
		Model:     model,
		Role:      req.Role,
		Attempted: append([]string(nil), attempted...),
		Latency:   latency,
	}
	if reduced, reason := ReducedCapability(req, desc); reduced {
		p.ReducedCapability = true
		p.ReducedReason = reason
		observability.RecordReducedCapability(ctx, s.metrics, string(req.Role), desc.Name)
		log.Warn().Str("backend", desc.Name).Str("role", string(req.Role)).Str("reason", reason).Msg("request served with reduced capability")
	}
	return &providers.Invocation{Result: result, Provenance: p}
}

// ReducedCapability reports whether a backend serves below what was asked:
// a smaller size tier, or a quantized model where a large one was requested
func ReducedCapability(req entities.CapabilityRequest, desc entities.BackendDescriptor) (bool, string) {
	if req.PreferredTier != "" && desc.SizeTier.Rank() < req.PreferredTier.Rank() {
		return true, fmt.Sprintf("requested %s tier, served by %s tier backend %s", req.PreferredTier, desc.SizeTier, desc.Name)
	}
	if req.PreferredTier == entities.SizeLarge && desc.Quantized {
		return true, fmt.Sprintf("requested %s tier, served by quantized backend %s", req.PreferredTier, desc.Name)
	}
	return false, ""
}

// ProvenanceEvidence records which backend served a stage
func ProvenanceEvidence(p entities.Provenance) entities.EvidenceItem {
	snippet := fmt.Sprintf("%s served by %s (%s) after attempting %v", p.Role, p.Backend, p.Model, p.Attempted)
	if p.ReducedCapability {
		snippet += "; reduced capability: " + p.ReducedReason
	}
	return newEvidence(entities.SourceBackend, entities.EvidenceProvenance, "backend:"+p.Backend, snippet, p, 0)
}

func (s *BackendSelector) descriptor(name string) (entities.BackendDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[name]
	if !ok {
		return entities.BackendDescriptor{}, false
	}
	return *d, true
}

// Descriptors returns a snapshot of every backend, sorted by name
func (s *BackendSelector) Descriptors() []entities.BackendDescriptor {
	s.mu.RLock()
	out := make([]entities.BackendDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, *d)
	}
	s.mu.RUnlock()

	for i := range out {
		out[i].Fallbacks = s.fallbacksOf(out[i].Name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fallbacksOf lists, per role, the names following a backend in its chain
func (s *BackendSelector) fallbacksOf(name string) []string {
	var out []string
	seen := map[string]bool{}
	roles := make([]string, 0, len(s.cfg.Chains))
	for role := range s.cfg.Chains {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		chain := s.cfg.Chain(role)
		for i, n := range chain {
			if n != name {
				continue
			}
			for _, next := range chain[i+1:] {
				if !seen[next] {
					seen[next] = true
					out = append(out, next)
				}
			}
		}
	}
	return out
}

// Chains returns a copy of the per-role fallback chains
func (s *BackendSelector) Chains() map[string][]string {
	return s.cfg.Clone().Chains
}
