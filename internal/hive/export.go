package hive

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NethermindEth/juno/core/felt"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Exporter writes run results to files
type Exporter struct {
	outputDir string
}

// NewExporter creates a new Exporter
func NewExporter(outputDir string) *Exporter {
	return &Exporter{
		outputDir: outputDir,
	}
}

// Export writes result in the given format and returns the file name
func (e *Exporter) Export(result *Result, format ExportFormat) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	base := fmt.Sprintf("hive_%s_%s", result.StartTime.Format("20060102_150405"), shortRunID(result.RunID))

	switch format {
	case FormatJSON:
		return e.exportJSON(result, base)
	case FormatCSV:
		return e.exportCSV(result, base)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// ExportAll writes result in every supported format
func (e *Exporter) ExportAll(result *Result) ([]string, error) {
	var files []string
	for _, format := range []ExportFormat{FormatJSON, FormatCSV} {
		f, err := e.Export(result, format)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// JSONReport is a JSON-serializable version of Result
type JSONReport struct {
	RunID     string `json:"run_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  string `json:"duration"`
	Success   bool   `json:"success"`

	ChainID     string `json:"chain_id,omitempty"`
	SpecVersion string `json:"spec_version,omitempty"`
	BlockNumber uint64 `json:"block_number"`

	Account    string `json:"account,omitempty"`
	StartNonce string `json:"start_nonce,omitempty"`
	FinalNonce string `json:"final_nonce,omitempty"`

	ClassHash       string `json:"class_hash,omitempty"`
	DeclareTxHash   string `json:"declare_tx_hash,omitempty"`
	AlreadyDeclared bool   `json:"already_declared"`

	Salt            string `json:"salt,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	DeployTxHash    string `json:"deploy_tx_hash,omitempty"`

	InvokeTxHash      string  `json:"invoke_tx_hash,omitempty"`
	InvokeBlockNumber *uint64 `json:"invoke_block_number,omitempty"`
	HeadBlockNumber   uint64  `json:"head_block_number,omitempty"`
	BalanceBefore     string  `json:"balance_before,omitempty"`
	BalanceAfter      string  `json:"balance_after,omitempty"`

	CustomSignatureTxHash  string `json:"custom_signature_tx_hash,omitempty"`
	CustomSignatureOutcome string `json:"custom_signature_outcome,omitempty"`

	Stages []JSONStage `json:"stages"`
}

// JSONStage is a JSON-serializable stage result
type JSONStage struct {
	Stage    string `json:"stage"`
	Success  bool   `json:"success"`
	Duration string `json:"duration"`
	TxHash   string `json:"tx_hash,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e *Exporter) exportJSON(result *Result, base string) (string, error) {
	filename := filepath.Join(e.outputDir, base+".json")

	data, err := json.MarshalIndent(createJSONReport(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return filename, nil
}

func createJSONReport(result *Result) *JSONReport {
	jr := &JSONReport{
		RunID:                  result.RunID,
		StartTime:              result.StartTime.Format(time.RFC3339),
		EndTime:                result.EndTime.Format(time.RFC3339),
		Duration:               result.Duration.String(),
		Success:                result.Success(),
		ChainID:                feltString(result.ChainID),
		SpecVersion:            result.SpecVersion,
		BlockNumber:            result.BlockNumber,
		Account:                feltString(result.AccountAddress),
		StartNonce:             feltString(result.StartNonce),
		FinalNonce:             feltString(result.FinalNonce),
		ClassHash:              feltString(result.ClassHash),
		DeclareTxHash:          feltString(result.DeclareTxHash),
		AlreadyDeclared:        result.AlreadyDeclared,
		Salt:                   feltString(result.Salt),
		ContractAddress:        feltString(result.ContractAddress),
		DeployTxHash:           feltString(result.DeployTxHash),
		InvokeTxHash:           feltString(result.InvokeTxHash),
		InvokeBlockNumber:      result.InvokeBlockNumber,
		HeadBlockNumber:        result.HeadBlockNumber,
		BalanceBefore:          feltString(result.BalanceBefore),
		BalanceAfter:           feltString(result.BalanceAfter),
		CustomSignatureTxHash:  feltString(result.CustomSignatureTxHash),
		CustomSignatureOutcome: result.CustomSignatureOutcome,
		Stages:                 make([]JSONStage, 0, len(result.StageResults)),
	}

	for _, sr := range result.StageResults {
		js := JSONStage{
			Stage:    sr.Stage.String(),
			Success:  sr.Success,
			Duration: sr.Duration.String(),
			TxHash:   feltString(sr.TxHash),
		}
		if sr.Error != nil {
			js.Error = sr.Error.Error()
		}
		jr.Stages = append(jr.Stages, js)
	}
	return jr
}

// exportCSV writes one row per stage
func (e *Exporter) exportCSV(result *Result, base string) (string, error) {
	filename := filepath.Join(e.outputDir, base+".csv")

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	records := [][]string{{"Run ID", "Stage", "Success", "Duration", "Tx Hash", "Error"}}
	for _, sr := range result.StageResults {
		errText := ""
		if sr.Error != nil {
			errText = sr.Error.Error()
		}
		records = append(records, []string{
			result.RunID,
			sr.Stage.String(),
			fmt.Sprintf("%t", sr.Success),
			sr.Duration.String(),
			feltString(sr.TxHash),
			errText,
		})
	}

	if err := writer.WriteAll(records); err != nil {
		return "", fmt.Errorf("failed to write records: %w", err)
	}
	return filename, nil
}

func feltString(f *felt.Felt) string {
	if f == nil {
		return ""
	}
	return f.String()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
