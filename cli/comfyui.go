package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/KANAsho116/PromptStorage/client"
	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/settings"
)

func addComfyUIFlags(cmd *cobra.Command) {
	cmd.Flags().String("comfyui-url", "", "ComfyUI base URL (overrides comfyui.url)")
	cmd.Flags().StringSlice("tags", nil, "Tags attached to every stored workflow")
	cmd.Flags().String("category", "", "Category of the stored workflows")
	addDatabaseFlag(cmd)
}

func newComfyClient(cmd *cobra.Command, cfg *settings.Config) (*client.ComfyClient, error) {
	if url, _ := cmd.Flags().GetString("comfyui-url"); url != "" {
		cfg.ComfyUI.URL = url
	}
	c, err := client.NewComfyClient(cfg.ComfyUI.URL, client.ComfyClientConfig{
		ClientID:  cfg.ComfyUI.ClientID,
		MaxRetry:  cfg.ComfyUI.MaxRetry,
		BaseDelay: cfg.ComfyUI.BaseDelay,
		MaxDelay:  cfg.ComfyUI.MaxDelay,
		Logger:    logger.Service("comfyui"),
	})
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	return c, nil
}

// historyRequest is the ingest request used for every prompt taken from
// the ComfyUI history. Names come from the extracted metadata.
func historyRequest(cmd *cobra.Command) ingest.Request {
	tags, _ := cmd.Flags().GetStringSlice("tags")
	category, _ := cmd.Flags().GetString("category")
	return ingest.Request{
		Category:             category,
		Tags:                 tags,
		RenameOnConflict:     true,
		SkipDuplicateContent: true,
	}
}

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Store every prompt a ComfyUI server finishes",
		Long:  "Follow the ComfyUI websocket and store the graph of every prompt that completes, until interrupted.",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	addComfyUIFlags(cmd)
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	c, err := newComfyClient(cmd, cfg)
	if err != nil {
		return err
	}
	log := logger.Service("watch")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		return exitError(exitComfyUI, "connecting to ComfyUI at %s: %v", c.BaseURL(), err)
	}
	log.Info("Connected to ComfyUI",
		"url", c.BaseURL(),
		"comfyui_version", stats.System.ComfyUIVersion,
		"os", stats.System.OS,
		"devices", len(stats.Devices),
	)
	if queue, err := c.GetQueueExecutionInfo(ctx); err == nil {
		log.Info("Queue", "remaining", queue.ExecInfo.QueueRemaining)
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

	req := historyRequest(cmd)
	out := cmd.OutOrStdout()
	handlers := client.DefaultWatchHandlers()
	handlers.OnFinished = func(ctx context.Context, item client.HistoryItem) error {
		res, err := svc.CreateFromHistory(ctx, item, req)
		if errors.Is(err, ingest.ErrDuplicateContent) {
			log.Debug("Prompt already stored", "prompt_id", item.PromptID)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored prompt %s as %q (id %d)\n", item.PromptID, res.Name, res.ID)
		return nil
	}

	fmt.Fprintf(out, "Watching %s, press Ctrl+C to stop\n", c.BaseURL())
	if err := client.NewWatcher(c, handlers).Run(ctx); err != nil {
		return exitError(exitComfyUI, "watching ComfyUI: %v", err)
	}
	return nil
}

// NewPullCmd creates the "pull" subcommand.
func NewPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Store every prompt in the ComfyUI history",
		Args:  cobra.NoArgs,
		RunE:  runPull,
	}
	addComfyUIFlags(cmd)
	cmd.Flags().Bool("progress", true, "Show a progress bar")
	return cmd
}

func runPull(cmd *cobra.Command, _ []string) error {
	showProgress, _ := cmd.Flags().GetBool("progress")
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	c, err := newComfyClient(cmd, cfg)
	if err != nil {
		return err
	}
	log := logger.Service("pull")

	history, err := c.GetPromptHistory(cmd.Context())
	if err != nil {
		return exitError(exitComfyUI, "reading ComfyUI history: %v", err)
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
	if showProgress && len(history) > 0 {
		bar = progressbar.NewOptions(len(history),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("pulling"),
			progressbar.OptionShowCount(),
		)
	}

	req := historyRequest(cmd)
	var sum importSummary
	for _, item := range history {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		sum.add(pullItem(cmd.Context(), svc, item, req, log))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum)
	return nil
}

func pullItem(ctx context.Context, svc *ingest.Service, item client.HistoryItem, req ingest.Request, log *slog.Logger) outcome {
	if !item.Succeeded() {
		log.Debug("Skipping prompt that did not succeed", "prompt_id", item.PromptID)
		return outcomeSkipped
	}
	res, err := svc.CreateFromHistory(ctx, item, req)
	switch {
	case errors.Is(err, ingest.ErrDuplicateContent):
		return outcomeSkipped
	case err != nil:
		log.Warn("Storing prompt failed", "prompt_id", item.PromptID, "error", err)
		return outcomeFailed
	}
	log.Debug("Stored prompt", "prompt_id", item.PromptID, "id", res.ID, "name", res.Name)
	return outcomeImported
}
