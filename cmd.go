package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags.
var version = "dev"

// cliOptions are the persistent flags shared by every subcommand.
type cliOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "gearbox",
		Short:         "Scan engine schematics for part numbers and gear ratios",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newSolveCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

// setup loads the configuration and builds the logger, with the
// --log-level flag taking precedence over the config.
func (o *cliOptions) setup() (Config, *log.Logger, error) {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, logger, nil
}

func newSolveCmd(opts *cliOptions) *cobra.Command {
	var showParts, asJSON bool

	cmd := &cobra.Command{
		Use:   "solve <path|url>",
		Short: "Print the part number sum and the gear ratio sum of a schematic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: cfg.Fetch.Timeout}
			schematic, err := LoadSchematic(cmd.Context(), args[0], client)
			if err != nil {
				return fmt.Errorf("load schematic: %w", err)
			}
			logger.Debug("schematic loaded", "source", args[0], "rows", schematic.Rows())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(schematic.Analyze())
			}
			if showParts {
				printParts(out, schematic)
			}
			printSummary(out, schematic.Analyze())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showParts, "parts", false, "list every number with its adjacent symbol")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func printParts(w io.Writer, s *Schematic) {
	for p := range s.Parts() {
		at := fmt.Sprintf("(%d,%d)", p.Token.Anchor.X, p.Token.Anchor.Y)
		if !p.Adjacent {
			fmt.Fprintf(w, "%-10s %6d  -\n", at, p.Token.Value)
			continue
		}
		fmt.Fprintf(w, "%-10s %6d  %s at (%d,%d)\n", at, p.Token.Value,
			symbolStyle.Render(string(p.Symbol.Char)), p.Symbol.At.X, p.Symbol.At.Y)
	}
}

func printSummary(w io.Writer, a Analysis) {
	fmt.Fprintln(w, titleStyle.Render("Engine schematic"))
	fmt.Fprintln(w, labelStyle.Render("numbers")+valueStyle.Render(fmt.Sprint(a.Tokens)))
	fmt.Fprintln(w, labelStyle.Render("part number sum")+valueStyle.Render(fmt.Sprint(a.PartNumberSum)))
	fmt.Fprintln(w, labelStyle.Render("gears")+valueStyle.Render(fmt.Sprint(len(a.Gears))))
	fmt.Fprintln(w, labelStyle.Render("gear ratio sum")+valueStyle.Render(fmt.Sprint(a.GearRatioSum)))
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the schematic HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}

// serve runs the HTTP API until ctx is canceled.
func serve(ctx context.Context, cfg Config, logger *log.Logger) error {
	var transcriber Transcriber
	if cfg.GCP.ProjectID != "" {
		gemini, err := NewGeminiClient(ctx, cfg.GCP)
		if err != nil {
			return err
		}
		transcriber = gemini
		logger.Info("gemini client ready", "project", cfg.GCP.ProjectID, "model", gemini.Model())
	} else {
		logger.Warn("gcp.project_id not set, image transcription disabled")
	}

	if len(cfg.Fetch.AllowedHosts) == 0 {
		logger.Warn("fetch.allowed_hosts empty, URL uploads disabled")
	}
	srv := NewServer(NewStore(), transcriber, logger, cfg.Fetch)
	go srv.RunJanitor(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
