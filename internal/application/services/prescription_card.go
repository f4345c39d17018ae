package services

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/zatekoja/amrguard/internal/domain/entities"
)

var severityColors = map[entities.AlertSeverity]lipgloss.Color{
	entities.AlertCritical: lipgloss.Color("#e53935"),
	entities.AlertMajor:    lipgloss.Color("#ff8a65"),
	entities.AlertModerate: lipgloss.Color("#FFC107"),
	entities.AlertMinor:    lipgloss.Color("#4db6ac"),
	entities.AlertInfo:     lipgloss.Color("#2196F3"),
}

var tierColors = map[entities.RiskTier]lipgloss.Color{
	entities.RiskCritical: lipgloss.Color("#e53935"),
	entities.RiskHigh:     lipgloss.Color("#ff8a65"),
	entities.RiskModerate: lipgloss.Color("#FFC107"),
	entities.RiskLow:      lipgloss.Color("#8BC34A"),
}

type cardStyles struct {
	title   lipgloss.Style
	heading lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	r       *lipgloss.Renderer
}

func newCardStyles(w io.Writer) cardStyles {
	r := lipgloss.NewRenderer(w)
	return cardStyles{
		title:   r.NewStyle().Bold(true).Underline(true),
		heading: r.NewStyle().Bold(true).MarginTop(1),
		label:   r.NewStyle().Width(14),
		muted:   r.NewStyle().Faint(true),
		r:       r,
	}
}

// WritePrescriptionCard renders a case record for a terminal. Colour is
// only emitted when w is a terminal.
func WritePrescriptionCard(w io.Writer, record *entities.CaseRecord) error {
	s := newCardStyles(w)
	var b strings.Builder

	b.WriteString(s.title.Render("AMR-Guard prescription"))
	fmt.Fprintf(&b, "  %s\n", s.muted.Render("run "+record.RunID))
	b.WriteString(s.line("State", string(record.State)))
	if record.Renal != nil {
		b.WriteString(s.line("Renal", fmt.Sprintf("CrCl %.1f mL/min (%s)", record.Renal.CreatinineClearanceMlMin, record.Renal.Category)))
	}
	if record.ReducedCapability {
		b.WriteString(s.line("Capability", "reduced: review with extra care"))
	}

	if f := record.Failure; f != nil {
		b.WriteString(s.heading.Render("Failure"))
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s at %s: %s\n", f.Type, f.Stage, f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(&b, "  %s\n", f.Suggestion)
		}
	}

	if rx := record.Prescription; rx != nil {
		b.WriteString(s.heading.Render("Prescription"))
		b.WriteString("\n")
		b.WriteString(s.line("Antibiotic", fmt.Sprintf("%s (%s, %s)", rx.Antibiotic, rx.StewardshipTier, rx.Therapy)))
		b.WriteString(s.line("Regimen", fmt.Sprintf("%s %s %s for %s", rx.Dose, rx.Route, rx.Frequency, rx.Duration)))
		if rx.Alternative != "" {
			b.WriteString(s.line("Alternative", rx.Alternative))
		}
		if rx.Rationale != "" {
			b.WriteString(s.line("Rationale", rx.Rationale))
		}
		s.writeAlerts(&b, rx.Alerts)
	}

	s.writeTrend(&b, record.Trend)

	if rx := record.Prescription; rx != nil {
		b.WriteString(s.heading.Render("Citations"))
		b.WriteString("\n")
		for _, field := range entities.CitedFields {
			var locators []string
			for _, id := range rx.Citations[field] {
				if item, ok := record.Evidence.ByID(id); ok {
					locators = append(locators, item.Locator)
				}
			}
			fmt.Fprintf(&b, "  %s %s\n", s.label.Render(string(field)), strings.Join(locators, "; "))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (s cardStyles) line(label, value string) string {
	return s.label.Render(label) + value + "\n"
}

func (s cardStyles) writeAlerts(b *strings.Builder, alerts []entities.SafetyAlert) {
	if len(alerts) == 0 {
		return
	}
	b.WriteString(s.heading.Render("Alerts"))
	b.WriteString("\n")
	for _, a := range alerts {
		badge := s.r.NewStyle().Bold(true).Foreground(severityColors[a.Severity]).
			Render("[" + strings.ToUpper(string(a.Severity)) + "]")
		fmt.Fprintf(b, "  %s %s: %s\n", badge, a.Kind, a.Message)
	}
}

func (s cardStyles) writeTrend(b *strings.Builder, report *entities.TrendReport) {
	if report == nil || (len(report.Assessments) == 0 && len(report.Failures) == 0) {
		return
	}
	b.WriteString(s.heading.Render("Resistance trend"))
	b.WriteString("\n")
	for _, a := range report.Assessments {
		tier := s.r.NewStyle().Foreground(tierColors[a.Tier]).Render(string(a.Tier))
		fmt.Fprintf(b, "  %s / %s: %s. %s\n", a.Pathogen, a.Antibiotic, tier, a.Rationale)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(b, "  %s / %s: not assessed (%s)\n", f.Pathogen, f.Antibiotic, f.Reason)
	}
	if report.Narrative != "" {
		fmt.Fprintf(b, "  %s\n", s.muted.Render(report.Narrative))
	}
}
