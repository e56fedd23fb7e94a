package cmd

import (
	"fmt"
	"os"

	"github.com/reddmonchick/VisaScraper/lib/captcha"
	"github.com/reddmonchick/VisaScraper/lib/configutil"
	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/lib/sqliteutil"
	"github.com/reddmonchick/VisaScraper/services/scraper"

	"github.com/spf13/cobra"
)

var configPath string

// Config is the subset of the daemon's configuration the CLI needs.
type Config struct {
	Portal struct {
		BaseUrl string `json:"base_url"`
	} `json:"portal"`
	Captcha struct {
		BaseUrl string `json:"base_url"`
		ApiKey  string `json:"api_key"`
	} `json:"captcha"`
	Database sqliteutil.Struct `json:"database"`
	Accounts []scraper.Account `json:"accounts"`
}

func readConfig() (Config, error) {
	return configutil.ReadConfig[Config](configPath)
}

func portalClient(config Config) (*evisa.Client, error) {
	baseUrl := config.Portal.BaseUrl
	if baseUrl == "" {
		baseUrl = "https://evisa.imigrasi.go.id"
	}
	return evisa.NewClient(evisa.ClientOptions{
		BaseUrl: baseUrl,
		Solver: captcha.NewClient(captcha.ClientOptions{
			BaseUrl: config.Captcha.BaseUrl,
			ApiKey:  config.Captcha.ApiKey,
		}),
	})
}

func findAccount(config Config, name string) (scraper.Account, bool) {
	for _, account := range config.Accounts {
		if account.Name == name {
			return account, true
		}
	}
	return scraper.Account{}, false
}

var rootCmd = &cobra.Command{
	Use:   "visa-cli",
	Short: "visa-cli pokes at the visa scraping pipeline from the command line.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "Path to the daemon's config file.")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
