package main

import (
	"context"
	"flag"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/blobstore"
	"github.com/reddmonchick/VisaScraper/lib/captcha"
	"github.com/reddmonchick/VisaScraper/lib/configutil"
	"github.com/reddmonchick/VisaScraper/lib/scrapers/evisa"
	"github.com/reddmonchick/VisaScraper/lib/serviceutil"
	"github.com/reddmonchick/VisaScraper/lib/sheets"
	"github.com/reddmonchick/VisaScraper/lib/sqliteutil"
	"github.com/reddmonchick/VisaScraper/lib/telemetry"
	"github.com/reddmonchick/VisaScraper/services/mirror"
	"github.com/reddmonchick/VisaScraper/services/notify"
	"github.com/reddmonchick/VisaScraper/services/orchestrator"
	"github.com/reddmonchick/VisaScraper/services/records"
	recordsdb "github.com/reddmonchick/VisaScraper/services/records/db"
	"github.com/reddmonchick/VisaScraper/services/replicate"
	"github.com/reddmonchick/VisaScraper/services/scraper"
	scraperdb "github.com/reddmonchick/VisaScraper/services/scraper/db"
)

const defaultPortalUrl = "https://evisa.imigrasi.go.id"

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
}

type CaptchaConfig struct {
	BaseUrl string `json:"base_url"`
	ApiKey  string `json:"api_key"`
}

type S3Config struct {
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
}

type StorageConfig struct {
	// "disk" for Yandex Disk, "s3" for any S3-compatible store
	Backend   string   `json:"backend"`
	DiskToken string   `json:"disk_token"`
	S3        S3Config `json:"s3"`
	CacheDir  string   `json:"cache_dir"`
	RemoteDir string   `json:"remote_dir"`
}

type SheetsConfig struct {
	AccessToken string `json:"access_token"`
}

type Config struct {
	Portal       PortalConfig           `json:"portal"`
	Captcha      CaptchaConfig          `json:"captcha"`
	Database     sqliteutil.Struct      `json:"database"`
	Sessions     sqliteutil.Struct      `json:"sessions"`
	Accounts     []scraper.Account      `json:"accounts"`
	Telegram     notify.TelegramOptions `json:"telegram"`
	Storage      StorageConfig          `json:"storage"`
	Sheets       SheetsConfig           `json:"sheets"`
	Replicate    replicate.Options      `json:"replicate"`
	Orchestrator orchestrator.Options   `json:"orchestrator"`
}

func openBlobStore(ctx context.Context, config StorageConfig) (blobstore.Store, error) {
	if config.Backend == "s3" {
		return blobstore.NewS3Store(ctx, blobstore.S3Options{
			Region:       config.S3.Region,
			BaseEndpoint: config.S3.Endpoint,
			AccessKey:    config.S3.AccessKey,
			SecretKey:    config.S3.SecretKey,
			Bucket:       config.S3.Bucket,
		})
	}
	return blobstore.NewDiskStore(blobstore.DiskOptions{Token: config.DiskToken}), nil
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "visascraper")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InitSlog(*verbose)

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	db, err := config.Database.OpenDB(recordsdb.Schema)
	if err != nil {
		serviceutil.Fatal("open records database", err)
	}
	sessionDB, err := config.Sessions.OpenDB(scraperdb.Schema)
	if err != nil {
		serviceutil.Fatal("open session database", err)
	}

	portalUrl := config.Portal.BaseUrl
	if portalUrl == "" {
		portalUrl = defaultPortalUrl
	}
	client, err := evisa.NewClient(evisa.ClientOptions{
		BaseUrl: portalUrl,
		Solver: captcha.NewClient(captcha.ClientOptions{
			BaseUrl: config.Captcha.BaseUrl,
			ApiKey:  config.Captcha.ApiKey,
		}),
	})
	if err != nil {
		serviceutil.Fatal("init portal client", err)
	}

	store, err := openBlobStore(ctx, config.Storage)
	if err != nil {
		serviceutil.Fatal("init blob storage", err)
	}

	recordStore := records.NewService(db)
	scrapeService := scraper.NewService(
		client,
		recordStore,
		mirror.NewService(store, config.Storage.CacheDir, config.Storage.RemoteDir),
		sessionDB,
		scraper.Options{FetchBirthDates: true},
	)

	notifyService := notify.NewService(
		notify.NewTelegramSender(config.Telegram),
		recordStore,
		time.Second,
	)
	notifyService.Start(ctx)

	replicateService := replicate.NewService(
		sheets.NewClient(sheets.ClientOptions{AccessToken: config.Sheets.AccessToken}),
		config.Replicate,
	)

	orchestrator.NewService(
		scrapeService,
		notifyService,
		replicateService,
		config.Accounts,
		config.Orchestrator,
	).Start(ctx)

	<-ctx.Done()
}
