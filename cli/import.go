package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/KANAsho116/PromptStorage/client"
	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/logger"
)

const defaultImportPattern = "**/*.{json,png}"

// NewImportCmd creates the "import" subcommand.
func NewImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Store every workflow file found under a directory",
		Long: "Store the workflows in the .json files and ComfyUI PNGs under <dir>. " +
			"Each workflow is named after its file; a name already in use gets a \" (2)\" suffix.",
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("pattern", defaultImportPattern, "Glob selecting the files to import, relative to <dir>")
	cmd.Flags().Bool("skip-duplicates", false, "Skip files whose workflow content is already stored")
	cmd.Flags().StringSlice("tags", nil, "Tags attached to every imported workflow")
	cmd.Flags().String("category", "", "Category of the imported workflows")
	cmd.Flags().Bool("progress", true, "Show a progress bar")
	addDatabaseFlag(cmd)

	return cmd
}

// importSummary counts the outcome of an import run.
type importSummary struct {
	Imported int
	Skipped  int
	Failed   int
}

type outcome int

const (
	outcomeImported outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *importSummary) add(o outcome) {
	switch o {
	case outcomeImported:
		s.Imported++
	case outcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

func (s importSummary) String() string {
	return fmt.Sprintf("Imported %d, skipped %d, failed %d", s.Imported, s.Skipped, s.Failed)
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	pattern, _ := cmd.Flags().GetString("pattern")
	skipDuplicates, _ := cmd.Flags().GetBool("skip-duplicates")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	category, _ := cmd.Flags().GetString("category")
	showProgress, _ := cmd.Flags().GetBool("progress")

	if !doublestar.ValidatePattern(pattern) {
		return exitError(exitValidation, "invalid pattern %q", pattern)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return exitError(exitFileNotFound, "directory not found: %s", dir)
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := logger.Service("import")

	fsys := os.DirFS(dir)
	files, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return fmt.Errorf("matching %s: %w", pattern, err)
	}
	if len(files) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No files match %s in %s\n", pattern, dir)
		return nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()
	svc, err := newIngest(cfg, st)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("importing"),
			progressbar.OptionShowCount(),
		)
	}

	var sum importSummary
	for _, name := range files {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		res, err := importFile(cmd, svc, fsys, name, ingest.Request{
			Name:                 fileStem(name),
			Category:             category,
			Tags:                 tags,
			RenameOnConflict:     true,
			SkipDuplicateContent: skipDuplicates,
		})
		switch {
		case errors.Is(err, ingest.ErrDuplicateContent):
			sum.Skipped++
			log.Debug("Skipped duplicate", "file", name)
		case err != nil:
			sum.Failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
		default:
			sum.Imported++
			log.Debug("Imported workflow", "file", name, "id", res.ID, "name", res.Name)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	fmt.Fprintln(cmd.OutOrStdout(), sum)
	if sum.Imported == 0 && sum.Skipped == 0 && sum.Failed > 0 {
		return exitError(exitValidation, "no workflow imported")
	}
	return nil
}

func importFile(cmd *cobra.Command, svc *ingest.Service, fsys fs.FS, name string, req ingest.Request) (ingest.Result, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return ingest.Result{}, err
	}
	if client.IsPNG(data) {
		return svc.CreateFromPNG(cmd.Context(), bytes.NewReader(data), req)
	}
	req.Workflow = data
	return svc.Create(cmd.Context(), req)
}

// fileStem is the base name of a slash separated path without its
// extension.
func fileStem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}
