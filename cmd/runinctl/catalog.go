package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/arloliu/go-runin/catalog"
	"github.com/arloliu/go-runin/logger"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the command templates of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Catalog == "" {
			return fmt.Errorf("no catalog configured, set --catalog")
		}

		cat, err := catalog.Load(cmd.Context(), cfg.Catalog, catalog.WithLogger(logger.GetLogger()))
		if err != nil {
			return err
		}

		templates := cat.All()
		if category, _ := cmd.Flags().GetString("category"); category != "" {
			templates = cat.ByCategory(category)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tCOMMAND\tHELP")
		for _, t := range templates {
			id := t.ID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, t.Category, t.Expand(), t.Help)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringP("category", "c", "", "only list templates of this category, e.g. script or monitor")
}
