package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session <account>",
	Short: "Log the account in and print its session token.",
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
		fmt.Println(token)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <token>",
	Short: "Check whether a session token is still alive.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfig()
		if err != nil {
			return err
		}
		client, err := portalClient(config)
		if err != nil {
			return err
		}

		if client.CheckSession(cmd.Context(), args[0]) {
			fmt.Println("live")
			return nil
		}
		fmt.Println("dead")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(probeCmd)
}
