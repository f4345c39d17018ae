package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// interactionsCmd screens a medication list pairwise
var interactionsCmd = &cobra.Command{
	Use:   "interactions [drug] [drug...]",
	Short: "Check every pair of drugs for recorded interactions",
	Long: `Looks up each unordered pair in the interaction table of the active
reference snapshot and prints the most severe recorded interaction per pair.

Example:
  amrguard interactions ciprofloxacin warfarin amiodarone`,
	Args: cobra.MinimumNArgs(2),
	RunE: checkInteractions,
}

// interpretCmd classifies a single MIC
var interpretCmd = &cobra.Command{
	Use:   "interpret [pathogen] [antibiotic] [mic]",
	Short: "Interpret a MIC against the clinical breakpoint",
	Args:  cobra.ExactArgs(3),
	RunE:  interpretMIC,
}

// backendsCmd lists the reasoning backend catalog
var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List reasoning backends and their fallback chains",
	RunE:  listBackends,
}

func checkInteractions(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var found []*entities.DrugInteraction
	for i := 0; i < len(args); i++ {
		for j := i + 1; j < len(args); j++ {
			row, _, err := a.Fusion.CheckInteraction(ctx, args[i], args[j])
			if err != nil {
				return err
			}
			if row != nil {
				found = append(found, row)
			}
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, found)
	}
	if len(found) == 0 {
		fmt.Fprintf(out, "No known interactions (snapshot %s)\n", a.Fusion.SnapshotVersion())
		return nil
	}
	for _, r := range found {
		fmt.Fprintf(out, "%-9s %s + %s: %s\n", r.Severity, r.Drug1, r.Drug2, r.Description)
	}
	return nil
}

func interpretMIC(cmd *cobra.Command, args []string) error {
	mic, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid MIC %q: %w", args[2], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	category, evidence, err := a.Fusion.InterpretConcentration(ctx, args[0], args[1], mic)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, map[string]any{"category": category.String(), "evidence": evidence})
	}
	fmt.Fprintf(out, "%s %s MIC %g: %s\n", args[0], args[1], mic, category)
	for _, e := range evidence {
		fmt.Fprintf(out, "  [%s] %s\n", e.Locator, e.Snippet)
	}
	return nil
}

func listBackends(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	descriptors := a.Selector.Descriptors()
	if jsonOutput {
		return writeJSON(out, map[string]any{"backends": descriptors, "chains": a.Selector.Chains()})
	}
	for _, d := range descriptors {
		quant := ""
		if d.Quantized {
			quant = " quantized"
		}
		fmt.Fprintf(out, "%-20s %-8s %-28s %s/%s%s healthy=%t\n", d.Name, d.Provider, d.Model, d.SizeTier, d.Locality, quant, d.Healthy)
	}
	chains := a.Selector.Chains()
	roles := make([]string, 0, len(chains))
	for role := range chains {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(out, "chain %-14s %v\n", role, chains[role])
	}
	return nil
}
