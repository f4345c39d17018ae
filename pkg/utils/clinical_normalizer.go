package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// NormalizationConfig holds antibiotic and organism shorthand mappings
type NormalizationConfig struct {
	Antibiotics       map[string]string   `json:"antibiotics"`
	Organisms         map[string]string   `json:"organisms"`
	PathogenKeywords  map[string][]string `json:"pathogenKeywords"`
	PathogenPriority  []string            `json:"pathogenPriority"`
	AllergyCrossClass map[string][]string `json:"allergyCrossClass"`
	BreakpointGroups  map[string]string   `json:"breakpointGroups"`
}

// DefaultNormalizationConfig returns the built-in clinical shorthand tables
func DefaultNormalizationConfig() *NormalizationConfig {
	return &NormalizationConfig{
		Antibiotics: map[string]string{
			"amox":      "amoxicillin",
			"amox/clav": "amoxicillin-clavulanate",
			"augmentin": "amoxicillin-clavulanate",
			"pip/tazo":  "piperacillin-tazobactam",
			"zosyn":     "piperacillin-tazobactam",
			"tmp/smx":   "trimethoprim-sulfamethoxazole",
			"bactrim":   "trimethoprim-sulfamethoxazole",
			"cipro":     "ciprofloxacin",
			"levo":      "levofloxacin",
			"moxi":      "moxifloxacin",
			"vanc":      "vancomycin",
			"vanco":     "vancomycin",
			"mero":      "meropenem",
			"imi":       "imipenem",
			"gent":      "gentamicin",
			"tobra":     "tobramycin",
			"ceftriax":  "ceftriaxone",
			"rocephin":  "ceftriaxone",
			"maxipime":  "cefepime",
		},
		Organisms: map[string]string{
			"e. coli":       "Escherichia coli",
			"e.coli":        "Escherichia coli",
			"k. pneumoniae": "Klebsiella pneumoniae",
			"k.pneumoniae":  "Klebsiella pneumoniae",
			"p. aeruginosa": "Pseudomonas aeruginosa",
			"p.aeruginosa":  "Pseudomonas aeruginosa",
			"s. aureus":     "Staphylococcus aureus",
			"s.aureus":      "Staphylococcus aureus",
			"mrsa":          "Staphylococcus aureus (MRSA)",
			"mssa":          "Staphylococcus aureus (MSSA)",
			"enterococcus":  "Enterococcus species",
			"vre":           "Enterococcus (VRE)",
		},
		PathogenKeywords: map[string][]string{
			"ESBL-E":        {"esbl", "extended-spectrum", "e. coli", "escherichia", "klebsiella"},
			"CRE":           {"carbapenem-resistant", "cre", "carbapenemase"},
			"CRAB":          {"acinetobacter", "crab"},
			"DTR-PA":        {"pseudomonas", "dtr"},
			"S.maltophilia": {"stenotrophomonas", "maltophilia"},
		},
		PathogenPriority: []string{"CRE", "CRAB", "DTR-PA", "S.maltophilia", "ESBL-E"},
		AllergyCrossClass: map[string][]string{
			"penicillin":      {"amoxicillin", "ampicillin", "piperacillin", "amoxicillin-clavulanate"},
			"cephalosporin":   {"ceftriaxone", "cefotaxime", "ceftazidime", "cefepime", "cefazolin"},
			"sulfa":           {"sulfamethoxazole", "trimethoprim-sulfamethoxazole"},
			"fluoroquinolone": {"ciprofloxacin", "levofloxacin", "moxifloxacin"},
		},
		BreakpointGroups: map[string]string{
			"escherichia":      "Enterobacterales",
			"klebsiella":       "Enterobacterales",
			"enterobacter":     "Enterobacterales",
			"proteus":          "Enterobacterales",
			"serratia":         "Enterobacterales",
			"citrobacter":      "Enterobacterales",
			"salmonella":       "Enterobacterales",
			"pseudomonas":      "Pseudomonas",
			"acinetobacter":    "Acinetobacter",
			"stenotrophomonas": "Stenotrophomonas maltophilia",
			"staphylococcus":   "Staphylococcus",
			"enterococcus":     "Enterococcus",
			"streptococcus":    "Streptococcus",
		},
	}
}

// ClinicalNameNormalizer maps clinical shorthand onto canonical names
type ClinicalNameNormalizer struct {
	config *NormalizationConfig
}

// NewClinicalNameNormalizer loads mappings from a JSON file, merged over the defaults
func NewClinicalNameNormalizer(configPath string) (*ClinicalNameNormalizer, error) {
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var override NormalizationConfig
	if err := json.Unmarshal(configFile, &override); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config := DefaultNormalizationConfig()
	for k, v := range override.Antibiotics {
		config.Antibiotics[strings.ToLower(k)] = v
	}
	for k, v := range override.Organisms {
		config.Organisms[strings.ToLower(k)] = v
	}
	for k, v := range override.AllergyCrossClass {
		config.AllergyCrossClass[strings.ToLower(k)] = v
	}
	for k, v := range override.PathogenKeywords {
		config.PathogenKeywords[k] = v
	}
	for k, v := range override.BreakpointGroups {
		config.BreakpointGroups[strings.ToLower(k)] = v
	}
	if len(override.PathogenPriority) > 0 {
		config.PathogenPriority = override.PathogenPriority
	}

	return &ClinicalNameNormalizer{config: config}, nil
}

// NewDefaultClinicalNameNormalizer uses the built-in tables
func NewDefaultClinicalNameNormalizer() *ClinicalNameNormalizer {
	return &ClinicalNameNormalizer{config: DefaultNormalizationConfig()}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Antibiotic returns the canonical lower-case antibiotic name
func (n *ClinicalNameNormalizer) Antibiotic(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " ")))
	if mapped, ok := n.config.Antibiotics[normalized]; ok {
		return mapped
	}
	return normalized
}

// Organism returns the canonical organism name; unknown names are returned trimmed
func (n *ClinicalNameNormalizer) Organism(name string) string {
	trimmed := strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
	if mapped, ok := n.config.Organisms[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return trimmed
}

// PathogenCategory classifies an organism into a guideline pathogen type, or "General"
func (n *ClinicalNameNormalizer) PathogenCategory(organism string) string {
	lower := strings.ToLower(organism)
	for _, category := range n.config.PathogenPriority {
		for _, keyword := range n.config.PathogenKeywords[category] {
			if strings.Contains(lower, keyword) {
				return category
			}
		}
	}
	return "General"
}

// BreakpointGroup returns the breakpoint table group for an organism by
// genus, or "" when the genus is not mapped
func (n *ClinicalNameNormalizer) BreakpointGroup(organism string) string {
	fields := strings.Fields(strings.ToLower(n.Organism(organism)))
	if len(fields) == 0 {
		return ""
	}
	return n.config.BreakpointGroups[fields[0]]
}

// AllergyConflict reports whether the antibiotic matches a recorded allergy,
// directly or through a drug class. The matching allergy is returned.
func (n *ClinicalNameNormalizer) AllergyConflict(antibiotic string, allergies []string) (string, bool) {
	drug := n.Antibiotic(antibiotic)
	for _, allergy := range allergies {
		a := strings.ToLower(strings.TrimSpace(allergy))
		if a == "" {
			continue
		}
		if strings.Contains(drug, n.Antibiotic(a)) {
			return allergy, true
		}
		for class, members := range n.config.AllergyCrossClass {
			if !strings.Contains(a, class) {
				continue
			}
			for _, member := range members {
				if strings.Contains(drug, member) {
					return allergy, true
				}
			}
		}
	}
	return "", false
}
