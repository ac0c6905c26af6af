package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/codebook/internal/api"
	"github.com/pbaille/codebook/internal/session"
	"github.com/pbaille/codebook/internal/tabular"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect and edit coded responses",
	}
	cmd.AddCommand(resultsListCmd())
	cmd.AddCommand(resultsEditCmd())
	cmd.AddCommand(resultsClearCmd())
	cmd.AddCommand(resultsExportCmd())
	return cmd
}

func resultsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List coded responses",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			results := a.session.Results()
			if len(results) == 0 {
				fmt.Println("No results")
				return nil
			}

			counts := make(map[string]int)
			for i, r := range results {
				counts[r.CategoryName]++
				fmt.Printf("%4d. %-20s %-9s %.2f  %s\n", i+1, truncate(r.CategoryName, 20), r.Sentiment, r.Confidence, truncate(r.Response(), 60))
			}
			fmt.Printf("\n%d results in %d categories\n", len(results), len(counts))
			return nil
		}),
	}
}

func resultsEditCmd() *cobra.Command {
	var category, sentiment string

	cmd := &cobra.Command{
		Use:   "edit [index]",
		Short: "Correct the category or sentiment of a result",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			idx, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			var edit session.ResultEdit
			if cmd.Flags().Changed("category") {
				edit.Category = &category
			}
			if cmd.Flags().Changed("sentiment") {
				edit.Sentiment = &sentiment
			}
			if edit.Category == nil && edit.Sentiment == nil {
				return fmt.Errorf("nothing to change: pass --category or --sentiment")
			}
			r, err := a.session.EditResult(idx, edit)
			if err != nil {
				return err
			}
			fmt.Printf("%d. %s / %s\n", idx+1, r.CategoryName, r.Sentiment)
			return nil
		}),
	}

	cmd.Flags().StringVar(&category, "category", "", "new category name")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "Positive, Negative or Neutral")
	return cmd
}

func resultsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard all results, the report and the chat",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			a.session.ClearResults()
			fmt.Println("Results cleared")
			return nil
		}),
	}
}

func resultsExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export coded responses with their metadata",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			text, err := a.session.ExportResults()
			if err != nil {
				return err
			}
			return writeOutput(out, text)
		}),
	}

	cmd.Flags().StringVarP(&out, "out", "o", tabular.ResultsFileName, "output path, - for stdout")
	return cmd
}

func reportCmd() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate an insights report over the results",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if show {
				report := a.session.Report()
				if report == "" {
					fmt.Println("No report yet")
					return nil
				}
				fmt.Println(report)
				return nil
			}
			report, err := a.session.GenerateReport(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(report)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the last report without regenerating")
	return cmd
}

func chatCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question about the results",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if history {
				for _, m := range a.session.ChatHistory() {
					fmt.Printf("%s: %s\n\n", m.Role, m.Content)
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("message required")
			}
			reply, err := a.session.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&history, "history", false, "print the conversation so far")
	return cmd
}

func themeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "theme [name]",
		Short: "Show or set the display theme preference",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if len(args) == 1 {
				a.session.SetTheme(args[0])
			}
			fmt.Println(a.session.Theme())
			return nil
		}),
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := api.New(a.session, a.store, a.metrics, a.logger.Named("api"), addr)
			return srv.Run(cmd.Context())
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
