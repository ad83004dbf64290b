package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KANAsho116/PromptStorage/archive"
	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides server.port)")
	cmd.Flags().String("host", "", "Listen host (overrides server.host)")
	cmd.Flags().String("api-prefix", "", "Route prefix (overrides server.api_prefix)")
	cmd.Flags().String("cors-origin", "", "Allowed CORS origin (overrides server.cors_origin)")
	cmd.Flags().Int64("max-body", 0, "Max request body size in bytes (overrides server.max_body)")
	cmd.Flags().Duration("read-timeout", 0, "HTTP read timeout (overrides server.read_timeout)")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (overrides server.write_timeout)")
	addDatabaseFlag(cmd)

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("api-prefix") {
		cfg.Server.APIPrefix, _ = flags.GetString("api-prefix")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBody, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("read-timeout") {
		cfg.Server.ReadTimeout, _ = flags.GetDuration("read-timeout")
	}
	if flags.Changed("write-timeout") {
		cfg.Server.WriteTimeout, _ = flags.GetDuration("write-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "invalid server flags: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	ing, err := newIngest(cfg, st)
	if err != nil {
		return err
	}
	arch, err := archive.New(archive.Config{Store: st, Logger: logger.Service("archive")})
	if err != nil {
		return err
	}
	apiServer, err := server.NewServer(server.ServerConfig{
		Store:      st,
		Ingest:     ing,
		Archiver:   arch,
		APIPrefix:  cfg.Server.APIPrefix,
		CORSOrigin: cfg.Server.CORSOrigin,
		MaxBody:    cfg.Server.MaxBody,
		Logger:     logger.Service("server"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	addr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "PromptStorage API listening on http://%s%s\n", addr, cfg.Server.APIPrefix)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
