package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/adapters/embedding"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/utils"
)

type mockBackend struct {
	mock.Mock
	name string
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Invoke(ctx context.Context, role entities.BackendRole, payload providers.PromptPayload, descriptor entities.BackendDescriptor) (*providers.StructuredResult, error) {
	args := m.Called(ctx, role, payload, descriptor)
	if res := args.Get(0); res != nil {
		return res.(*providers.StructuredResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, req entities.CapabilityRequest, payload providers.PromptPayload) (*providers.Invocation, error) {
	args := m.Called(ctx, req, payload)
	if inv := args.Get(0); inv != nil {
		return inv.(*providers.Invocation), args.Error(1)
	}
	return nil, args.Error(1)
}

// onRole matches requests for one backend role
func onRole(role entities.BackendRole) interface{} {
	return mock.MatchedBy(func(req entities.CapabilityRequest) bool { return req.Role == role })
}

func reply(role entities.BackendRole, text string) *providers.Invocation {
	return &providers.Invocation{
		Result: &providers.StructuredResult{Text: text, Model: "test-model"},
		Provenance: entities.Provenance{
			Backend:   "test-" + string(role),
			Model:     "test-model",
			Role:      role,
			Attempted: []string{"test-" + string(role)},
		},
	}
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*entities.LabExtract, error) {
	args := m.Called(ctx, data, mimeType)
	if e := args.Get(0); e != nil {
		return e.(*entities.LabExtract), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Save(ctx context.Context, record *entities.CaseRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockAudit) GetByRunID(ctx context.Context, runID string) (*entities.CaseRecord, error) {
	args := m.Called(ctx, runID)
	if r := args.Get(0); r != nil {
		return r.(*entities.CaseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func f64(v float64) *float64 { return &v }

func fixtureSnapshot() *entities.ReferenceSnapshot {
	return &entities.ReferenceSnapshot{
		Version: "2025.1",
		Antibiotics: []*entities.Antibiotic{
			{ID: 1, MedicineName: "nitrofurantoin", Tier: entities.TierAccess, Year: 2023},
			{ID: 2, MedicineName: "ciprofloxacin", Tier: entities.TierWatch, Year: 2023},
			{ID: 3, MedicineName: "meropenem", Tier: entities.TierWatch, Year: 2023},
			{ID: 4, MedicineName: "amoxicillin", Tier: entities.TierAccess, Year: 2023},
			{ID: 5, MedicineName: "ceftriaxone", Tier: entities.TierWatch, Year: 2021},
			{ID: 6, MedicineName: "colistin", Tier: entities.TierReserve, Year: 2023},
		},
		Susceptibility: []*entities.SusceptibilityRate{
			{ID: 1, Species: "Escherichia coli", Antibiotic: "nitrofurantoin", PercentSusceptible: 94, PercentResistant: 4, TotalIsolates: 812, Year: 2023},
			{ID: 2, Species: "Escherichia coli", Antibiotic: "ciprofloxacin", PercentSusceptible: 71, PercentResistant: 27, TotalIsolates: 790, Year: 2023},
		},
		Breakpoints: []*entities.Breakpoint{
			{ID: 1, PathogenGroup: "Enterobacterales", Antibiotic: "ciprofloxacin", MICSusceptible: f64(0.25), MICResistant: f64(0.5), Year: 2025},
			{ID: 2, PathogenGroup: "Enterobacterales", Antibiotic: "meropenem", MICSusceptible: f64(2), MICResistant: f64(8), Year: 2025},
			{ID: 3, PathogenGroup: "Enterobacterales", Antibiotic: "ceftriaxone", MICSusceptible: f64(1), MICResistant: f64(2), Year: 2025},
		},
		Interactions: []*entities.DrugInteraction{
			{ID: 1, Drug1: "warfarin", Drug2: "ciprofloxacin", Severity: entities.SeverityMajor, Description: "increased INR and bleeding risk"},
			{ID: 2, Drug1: "ciprofloxacin", Drug2: "warfarin", Severity: entities.SeverityModerate, Description: "CYP1A2 inhibition"},
			{ID: 3, Drug1: "nitrofurantoin", Drug2: "magnesium trisilicate", Severity: entities.SeverityMinor, Description: "reduced absorption"},
		},
		DosageRules: []*entities.DosageRule{
			{ID: 1, Antibiotic: "nitrofurantoin", Indication: "urinary tract", RenalCategory: entities.RenalAny, Dose: "100 mg", Route: "PO", Frequency: "every 12 hours", Duration: "5 days"},
			{ID: 2, Antibiotic: "ciprofloxacin", Indication: "urinary tract", RenalCategory: entities.RenalAny, Dose: "500 mg", Route: "PO", Frequency: "every 12 hours", Duration: "7 days"},
			{ID: 3, Antibiotic: "ciprofloxacin", RenalCategory: entities.RenalSevere, Dose: "250 mg", Route: "PO", Frequency: "every 12 hours", Duration: "7 days"},
			{ID: 4, Antibiotic: "meropenem", RenalCategory: entities.RenalAny, Dose: "1 g", Route: "IV", Frequency: "every 8 hours", Duration: "7 days"},
		},
	}
}

func fixtureChunks() []entities.GuidelineChunk {
	return []entities.GuidelineChunk{
		{ID: "idsa-1", Collection: services.CollectionTreatment, Source: "IDSA AMR guidance 2024", Page: 12, PathogenType: "ESBL-E", Year: 2024,
			Text: "For ESBL-E cystitis nitrofurantoin and trimethoprim-sulfamethoxazole are preferred treatment options."},
		{ID: "idsa-2", Collection: services.CollectionTreatment, Source: "IDSA AMR guidance 2024", Page: 20, PathogenType: "CRE", Year: 2024,
			Text: "Meropenem-vaborbactam is preferred for CRE infections outside the urinary tract."},
		{ID: "idsa-3", Collection: services.CollectionTreatment, Source: "IDSA UTI guidance 2011", Page: 3, PathogenType: "General", Year: 2011,
			Text: "Empirical treatment of uncomplicated cystitis urinary tract infection: nitrofurantoin 100 mg twice daily for 5 days."},
	}
}

type fixture struct {
	store      *memory.ReferenceStore
	index      *memory.SemanticIndex
	normalizer *utils.ClinicalNameNormalizer
	fusion     *services.RetrievalFusion
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder := embedding.NewHashingEmbedder(64)
	chunks, err := memory.IndexChunks(context.Background(), embedder, fixtureChunks())
	require.NoError(t, err)

	f := &fixture{
		store:      memory.NewReferenceStore(fixtureSnapshot()),
		index:      memory.NewSemanticIndex(embedder, chunks),
		normalizer: utils.NewDefaultClinicalNameNormalizer(),
	}
	f.fusion = services.NewRetrievalFusion(f.store, f.index, f.normalizer, 3)
	return f
}

func patient() entities.PatientInput {
	return entities.PatientInput{
		PatientID:           "p-1",
		AgeYears:            65,
		Sex:                 entities.SexFemale,
		WeightKg:            70,
		SerumCreatinineMgDl: 1.0,
		InfectionSite:       "urinary tract",
		SuspectedSource:     "cystitis",
		Medications:         []string{"warfarin"},
	}
}

func daysAgo(n int) time.Time {
	return time.Now().Add(-time.Duration(n) * 24 * time.Hour)
}
