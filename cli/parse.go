package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KANAsho116/PromptStorage/client"
	"github.com/KANAsho116/PromptStorage/ingest"
)

// NewParseCmd creates the "parse" subcommand.
func NewParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Validate a workflow and print its prompts and metadata",
		Long:  "Parse a ComfyUI workflow (.json, or a .png carrying one) without storing it.",
		Args:  cobra.ExactArgs(1),
		RunE:  runParse,
	}

	cmd.Flags().StringP("output", "o", "json", "Output format: json | yaml")

	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	output, _ := cmd.Flags().GetString("output")
	if output != "json" && output != "yaml" {
		return exitError(exitValidation, "unknown output format %q (want json or yaml)", output)
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	data, err := readWorkflowFile(filePath)
	if err != nil {
		return err
	}

	preview := ingest.PreviewDocument(newParser(cfg), data, time.Now())
	if err := writeValue(cmd.OutOrStdout(), preview, output); err != nil {
		return err
	}
	if !preview.Valid {
		return exitError(exitValidation, "invalid workflow: %s", *preview.Error)
	}
	return nil
}

// readWorkflowFile returns the workflow JSON in a .json file or embedded
// in a ComfyUI PNG.
func readWorkflowFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if !client.IsPNG(data) {
		return data, nil
	}
	workflow, err := ingest.WorkflowFromPNG(bytes.NewReader(data))
	if err != nil {
		return nil, exitError(exitValidation, "%s: %v", filePath, err)
	}
	return workflow, nil
}

// writeValue prints v as indented JSON, or as YAML keeping the JSON field
// order.
func writeValue(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if format != "yaml" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("converting output to yaml: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles the JSON source left on n.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
