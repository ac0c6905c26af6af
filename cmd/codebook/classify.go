package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/session"
	"github.com/pbaille/codebook/internal/tabular"
)

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [file|url]",
		Short: "Show the columns of an upload and the detected response column",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			text, err := readSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			table, err := a.session.ParseUpload(text)
			if err != nil {
				return err
			}
			fmt.Printf("%d rows, columns: %s\n", len(table.Rows), strings.Join(table.Headers, ", "))
			if col, ok := tabular.DetectResponseColumn(table.Headers); ok {
				fmt.Printf("Response column: %s\n", col)
			} else {
				fmt.Println("No response column detected; pass --column to classify")
			}
			return nil
		}),
	}
}

func classifyCmd() *cobra.Command {
	var (
		column  string
		mode    string
		approve string
	)

	cmd := &cobra.Command{
		Use:   "classify [file|url]",
		Short: "Classify survey responses against the active taxonomy",
		Long: `Classify every response in the upload against the active taxonomy.

Responses the service could not place in an existing category come back with
a proposed new category. Proposals are reviewed before anything is added:
--approve ask prompts for each one, all accepts every proposal, none rejects
them all (rejected responses are kept as Uncategorized).`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()

			m, err := domain.ParseMergeMode(mode)
			if err != nil {
				return err
			}
			switch approve {
			case "ask", "all", "none":
			default:
				return fmt.Errorf("invalid --approve %q: use ask, all or none", approve)
			}

			text, err := readSource(ctx, args[0])
			if err != nil {
				return err
			}
			table, err := a.session.ParseUpload(text)
			if err != nil {
				return err
			}

			fmt.Printf("Classifying %d rows...\n", len(table.Rows))
			out, err := a.session.Classify(ctx, session.RunRequest{Table: table, Column: column, Mode: m})
			if err != nil {
				return err
			}
			fmt.Printf("Column %q: %d classified, %d proposals\n", out.Run.Column, out.Run.Finalized, out.Run.Suggested)

			if len(out.Suggestions) == 0 {
				fmt.Printf("Result set: %d rows\n", out.Total)
				return nil
			}

			switch approve {
			case "all":
				for i := range out.Suggestions {
					if err := a.session.SetSuggestionApproved(i, true); err != nil {
						return err
					}
				}
			case "none":
				for i := range out.Suggestions {
					if err := a.session.SetSuggestionApproved(i, false); err != nil {
						return err
					}
				}
			default:
				if err := reviewSuggestions(a.session); err != nil {
					if aerr := a.session.AbandonApproval(ctx); aerr != nil {
						a.logger.Warn("abandon review", zap.Error(aerr))
					}
					return err
				}
			}

			sum, err := a.session.FinishApproval(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Approved %d, rejected %d, %d new categories\n", sum.Approved, sum.Rejected, sum.Added)
			fmt.Printf("Result set: %d rows\n", sum.Total)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&column, "column", "c", "", "response column (default: detected)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "append or replace; required once results exist")
	cmd.Flags().StringVar(&approve, "approve", "ask", "proposal review: ask, all or none")
	return cmd
}

// reviewSuggestions prompts on stdin for every pending proposal
func reviewSuggestions(sess *session.Session) error {
	items, err := sess.Suggestions()
	if err != nil {
		return err
	}

	in := bufio.NewScanner(os.Stdin)
	prompt := func(label string) (string, error) {
		fmt.Print(label)
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", fmt.Errorf("read input: %w", err)
			}
			return "", fmt.Errorf("input closed during review")
		}
		return strings.TrimSpace(in.Text()), nil
	}

	for i, it := range items {
		fmt.Printf("\n[%d/%d] %q\n", i+1, len(items), truncate(it.Result.Response(), 100))
		fmt.Printf("  Proposed: %s - %s\n", it.Name, it.Description)

		for {
			answer, err := prompt("  Accept? [Y]es / [n]o / [e]dit: ")
			if err != nil {
				return err
			}
			switch strings.ToLower(answer) {
			case "", "y", "yes":
				err = sess.SetSuggestionApproved(i, true)
			case "n", "no":
				err = sess.SetSuggestionApproved(i, false)
			case "e", "edit":
				name, perr := prompt(fmt.Sprintf("  Name [%s]: ", it.Name))
				if perr != nil {
					return perr
				}
				desc, perr := prompt(fmt.Sprintf("  Description [%s]: ", truncate(it.Description, 40)))
				if perr != nil {
					return perr
				}
				if name == "" {
					name = it.Name
				}
				if desc == "" {
					desc = it.Description
				}
				if err = sess.EditSuggestion(i, name, desc); err == nil {
					err = sess.SetSuggestionApproved(i, true)
				}
			default:
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent classification runs",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			runs, err := a.store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs yet")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %-18s %-15s %4d responses  %4d coded  %3d proposed",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, truncate(r.Taxonomy, 15),
					r.Responses, r.Finalized, r.Suggested)
				if r.Error != "" {
					fmt.Printf("  (%s)", truncate(r.Error, 40))
				}
				fmt.Println()
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	return cmd
}
