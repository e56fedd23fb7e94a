package cmd

import (
	"fmt"

	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <account>",
	Short: "Log in and fetch the account's tables once, without touching the store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfig()
		if err != nil {
			return err
		}
		account, ok := findAccount(config, args[0])
		if !ok {
			return fmt.Errorf("unknown account %q", args[0])
		}

		client, err := portalClient(config)
		if err != nil {
			return err
		}
		token, err := client.Login(cmd.Context(), account.Username, account.Password)
		if err != nil {
			return err
		}

		batch, err := client.FetchAllBatch(cmd.Context(), token)
		if err != nil {
			return err
		}
		permits, err := client.FetchAllStayPermits(cmd.Context(), token)
		if err != nil {
			return err
		}

		fmt.Printf("%d batch applications, %d stay permits\n", len(batch), len(permits))
		t := newTable()
		t.AppendHeader(table.Row{"Register No", "Name", "Status"})
		for _, item := range batch {
			record, err := evisa.TransformBatchItem(item, account.Name)
			if err != nil {
				continue
			}
			t.AppendRow(table.Row{record.RegisterNumber, record.FullName, record.Status})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
