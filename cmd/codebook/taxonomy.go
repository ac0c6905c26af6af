package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/tabular"
)

var taxonomyName string

func taxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "taxonomy",
		Aliases: []string{"tax"},
		Short:   "Manage taxonomies and their categories",
	}
	cmd.PersistentFlags().StringVarP(&taxonomyName, "taxonomy", "t", "", "taxonomy to act on (default: active)")

	cmd.AddCommand(taxonomyListCmd())
	cmd.AddCommand(taxonomyCreateCmd())
	cmd.AddCommand(taxonomyDeleteCmd())
	cmd.AddCommand(taxonomyUseCmd())
	cmd.AddCommand(categoryListCmd())
	cmd.AddCommand(categoryAddCmd())
	cmd.AddCommand(categoryEditCmd())
	cmd.AddCommand(categoryRemoveCmd())
	cmd.AddCommand(categoryImportCmd())
	cmd.AddCommand(categoryExportCmd())
	return cmd
}

// targetTaxonomy resolves --taxonomy, falling back to the active one
func targetTaxonomy(a *app) (string, error) {
	if taxonomyName != "" {
		return taxonomyName, nil
	}
	name, ok := a.session.ActiveTaxonomy()
	if !ok {
		return "", domain.ErrNoActiveTaxonomy
	}
	return name, nil
}

// parseIndex reads a 1-based index as shown by the list commands
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return n - 1, nil
}

func taxonomyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List taxonomies",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			names := a.session.TaxonomyNames()
			if len(names) == 0 {
				fmt.Println("No taxonomies. Create one with: codebook taxonomy create <name>")
				return nil
			}
			active, _ := a.session.ActiveTaxonomy()
			for _, name := range names {
				cats, _ := a.session.Categories(name)
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Printf("%s %-30s %d categories\n", marker, name, len(cats))
			}
			return nil
		}),
	}
}

func taxonomyCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Create a taxonomy and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.session.CreateTaxonomy(args[0]); err != nil {
				return err
			}
			fmt.Printf("Created taxonomy %q (active)\n", args[0])
			return nil
		}),
	}
}

func taxonomyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a taxonomy",
		Long:  "Delete a taxonomy. Deleting the active taxonomy also clears results, the report and the chat.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.session.DeleteTaxonomy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted taxonomy %q\n", args[0])
			if active, ok := a.session.ActiveTaxonomy(); ok {
				fmt.Printf("Active taxonomy: %s\n", active)
			}
			return nil
		}),
	}
}

func taxonomyUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [name]",
		Short: "Make a taxonomy active",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.session.UseTaxonomy(args[0]); err != nil {
				return err
			}
			fmt.Printf("Active taxonomy: %s\n", args[0])
			return nil
		}),
	}
}

func categoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the categories of a taxonomy",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			cats, err := a.session.Categories(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d categories)\n", name, len(cats))
			for i, c := range cats {
				fmt.Printf("%3d. %-25s %s\n", i+1, c.Name, truncate(c.Description, 60))
			}
			return nil
		}),
	}
}

func categoryAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [name] [description]",
		Short: "Add a category",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			if err := a.session.AddCategory(name, domain.Category{Name: args[0], Description: args[1]}); err != nil {
				return err
			}
			fmt.Printf("Added %q to %s\n", args[0], name)
			return nil
		}),
	}
}

func categoryEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit [index] [name] [description]",
		Short: "Replace a category",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			idx, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			if err := a.session.EditCategory(name, idx, domain.Category{Name: args[1], Description: args[2]}); err != nil {
				return err
			}
			fmt.Printf("Updated category %d in %s\n", idx+1, name)
			return nil
		}),
	}
}

func categoryRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [index]",
		Short: "Remove a category",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			idx, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			removed, err := a.session.RemoveCategory(name, idx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %q from %s\n", removed.Name, name)
			return nil
		}),
	}
}

func categoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file|url]",
		Short: "Import categories from a codebook file",
		Long:  "Import categories from delimited text with name and description columns. Names already in the taxonomy are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			text, err := readSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			added, err := a.session.ImportCategories(name, text)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d categories into %s\n", added, name)
			return nil
		}),
	}
}

func categoryExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a taxonomy as a codebook file",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			name, err := targetTaxonomy(a)
			if err != nil {
				return err
			}
			filename, text, err := a.session.ExportCategories(name)
			if err != nil {
				return err
			}
			if out == "" {
				out = filename
			}
			return writeOutput(out, text)
		}),
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output path, - for stdout (default: "+tabular.CodebookFileName("<taxonomy>")+")")
	return cmd
}
