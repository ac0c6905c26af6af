package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/classifier"
	"github.com/pbaille/codebook/internal/config"
	"github.com/pbaille/codebook/internal/fetcher"
	"github.com/pbaille/codebook/internal/logging"
	"github.com/pbaille/codebook/internal/metrics"
	"github.com/pbaille/codebook/internal/session"
	"github.com/pbaille/codebook/internal/store"
)

var (
	dbPath     string
	configPath string
)

func main() {
	// Default config location
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "codebook", "config.yaml")

	rootCmd := &cobra.Command{
		Use:           "codebook",
		Short:         "Code open-ended survey responses against a taxonomy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")

	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(themeCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is everything a command needs, opened once per invocation
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	metrics *metrics.Metrics
	session *session.Session
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	sc := session.Config{
		Persister: st,
		Runs:      st,
		Logger:    logger,
		Metrics:   m,
	}
	clf, err := classifier.New(classifier.Options{
		APIKey:    cfg.Classifier.APIKey,
		Model:     cfg.Classifier.Model,
		Endpoint:  cfg.Classifier.Endpoint,
		MaxTokens: cfg.Classifier.MaxTokens,
		Timeout:   cfg.Classifier.Timeout,
		Logger:    logger.Named("classifier"),
	})
	if err != nil {
		logger.Debug("classification disabled", zap.Error(err))
	} else {
		sc.Classifier = clf
	}

	sess := session.New(sc)
	if err := sess.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Theme() == "" && cfg.Theme != "" {
		sess.SetTheme(cfg.Theme)
	}

	return &app{cfg: cfg, logger: logger, store: st, metrics: m, session: sess}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.session.Flush(ctx); err != nil {
		a.logger.Warn("flush session", zap.Error(err))
	}
	a.logger.Sync()
	a.store.Close()
}

// withApp opens the app around a command body
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(cmd.Context()))
		return fn(cmd, args, a)
	}
}

// readSource loads delimited text from a file, a URL, or stdin ("-")
func readSource(ctx context.Context, src string) (string, error) {
	if src == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	if fetcher.IsURL(src) {
		return fetcher.FetchTable(ctx, src)
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	return string(b), nil
}

// writeOutput writes text to path, or stdout when path is "-"
func writeOutput(path, text string) error {
	if path == "-" {
		_, err := fmt.Println(text)
		return err
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
