package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
)

var (
	labPath     string
	historyPath string
	manualPath  string
)

// runCmd runs the full pipeline for one patient
var runCmd = &cobra.Command{
	Use:   "run [patient.json]",
	Short: "Run the prescription pipeline for a patient",
	Long: `Runs one case through the pipeline and prints the prescription card.

Without --lab the case takes the empirical path. With a culture report the
report is extracted, compared against prior readings from --history, and
used for a targeted prescription.

Examples:
  amrguard run patient.json
  amrguard run patient.json --lab culture.pdf --history mic_history.json
  amrguard run patient.json --manual extract.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCase,
}

func init() {
	runCmd.Flags().StringVar(&labPath, "lab", "", "Culture and sensitivity report (PDF, image or text)")
	runCmd.Flags().StringVar(&historyPath, "history", "", "JSON array of prior MIC readings")
	runCmd.Flags().StringVar(&manualPath, "manual", "", "JSON lab extract used when the report cannot be read")
}

func runCase(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var req entities.RunRequest
	if err := readJSON(args[0], &req.Patient); err != nil {
		return err
	}
	if labPath != "" {
		lab, err := readLabFile(labPath)
		if err != nil {
			return err
		}
		req.LabFile = lab
	}
	if historyPath != "" {
		if err := readJSON(historyPath, &req.History); err != nil {
			return err
		}
	}
	if manualPath != "" {
		req.ManualLabExtract = &entities.LabExtract{}
		if err := readJSON(manualPath, req.ManualLabExtract); err != nil {
			return err
		}
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	record, runErr := a.Orchestrator.Run(ctx, req)
	if record == nil {
		return runErr
	}
	if err := printRecord(cmd.OutOrStdout(), record); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", record.RunID, runErr)
	}
	return nil
}

func printRecord(w io.Writer, record *entities.CaseRecord) error {
	if jsonOutput {
		return writeJSON(w, record)
	}
	return services.WritePrescriptionCard(w, record)
}

// readLabFile loads a report and guesses its media type from the extension,
// then from the content
func readLabFile(path string) (*entities.LabFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lab report: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &entities.LabFile{Filename: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
