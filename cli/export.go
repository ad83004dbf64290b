package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KANAsho116/PromptStorage/archive"
	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/store"
)

// NewExportCmd creates the "export" subcommand.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored workflows to a JSON or zip bundle",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().StringSlice("ids", nil, "Workflow IDs to export (comma separated)")
	cmd.Flags().StringP("out", "o", "", "Output file; .zip writes a zip archive, anything else JSON. Defaults to stdout")
	addDatabaseFlag(cmd)

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	rawIDs, _ := cmd.Flags().GetStringSlice("ids")
	out, _ := cmd.Flags().GetString("out")

	ids := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return exitError(exitValidation, "invalid workflow id %q", raw)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return exitError(exitValidation, "--ids is required")
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()
	arch, err := archive.New(archive.Config{Store: st, Logger: logger.Service("archive")})
	if err != nil {
		return err
	}

	b, err := arch.Export(cmd.Context(), ids)
	if errors.Is(err, store.ErrNotFound) {
		return exitError(exitValidation, "%v", err)
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(out), ".zip") {
		err = archive.WriteZip(&buf, b)
	} else {
		err = writeIndentedJSON(&buf, b)
	}
	if err != nil {
		return err
	}

	if out == "" {
		_, err = buf.WriteTo(cmd.OutOrStdout())
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d workflow(s) to %s\n", len(b.Workflows), out)
	return nil
}

func writeIndentedJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRestoreCmd creates the "restore" subcommand.
func NewRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <bundle>",
		Short: "Import a bundle written by export (.json or .zip)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}

	cmd.Flags().String("duplicate", string(archive.DuplicateRename), "What to do with a name already in use: skip | rename | overwrite")
	addDatabaseFlag(cmd)

	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	duplicate, _ := cmd.Flags().GetString("duplicate")
	policy, err := archive.ParseDuplicatePolicy(duplicate)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}
	var b *archive.Bundle
	if archive.IsZip(data) {
		b, err = archive.ReadZip(bytes.NewReader(data), int64(len(data)))
	} else {
		b, err = archive.DecodeBundle(data)
	}
	if err != nil {
		return exitError(exitValidation, "%s: %v", filePath, err)
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()
	arch, err := archive.New(archive.Config{Store: st, Logger: logger.Service("archive")})
	if err != nil {
		return err
	}

	res, err := arch.Import(cmd.Context(), b, policy)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, imp := range res.Success {
		if imp.Name != imp.OriginalName {
			fmt.Fprintf(out, "imported %q as %q (id %d)\n", imp.OriginalName, imp.Name, imp.ID)
		} else {
			fmt.Fprintf(out, "imported %q (id %d)\n", imp.Name, imp.ID)
		}
	}
	for _, sk := range res.Skipped {
		fmt.Fprintf(out, "skipped %q: %s\n", sk.Name, sk.Reason)
	}
	for _, f := range res.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed %q: %s\n", f.Name, f.Error)
	}
	fmt.Fprintln(out, importSummary{Imported: len(res.Success), Skipped: len(res.Skipped), Failed: len(res.Errors)})
	return nil
}
