package cmd

import (
	"fmt"

	"github.com/reddmonchick/VisaScraper/services/records"
	recordsdb "github.com/reddmonchick/VisaScraper/services/records/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <passport number or name>",
	Short: "Look a traveler up by passport number or name in the local store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfig()
		if err != nil {
			return err
		}
		db, err := config.Database.OpenDB(recordsdb.Schema)
		if err != nil {
			return err
		}
		defer db.Close()

		// passports and names may contain spaces, take every arg
		query := args[0]
		for _, arg := range args[1:] {
			query += " " + arg
		}

		result, err := records.NewService(db).SearchByPassport(cmd.Context(), query)
		if err != nil {
			return err
		}

		if len(result.Batch) == 0 && len(result.Permits) == 0 {
			fmt.Println("no records found")
			return nil
		}
		if len(result.Batch) > 0 {
			t := newTable()
			t.AppendHeader(table.Row{"Register No", "Name", "Status", "Document"})
			for _, r := range result.Batch {
				t.AppendRow(table.Row{r.RegisterNumber, r.FullName, r.Status, r.ArtifactLink})
			}
			t.Render()
		}
		if len(result.Permits) > 0 {
			t := newTable()
			t.AppendHeader(table.Row{"Register No", "Name", "Status", "Expires"})
			for _, r := range result.Permits {
				t.AppendRow(table.Row{r.RegisterNumber, r.FullName, r.Status, r.ExpiredDate})
			}
			t.Render()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
