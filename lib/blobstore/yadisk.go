package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

const defaultDiskBaseUrl = "https://cloud-api.yandex.net"

// DiskStore talks to a Yandex-Disk-style REST API: path addressed
// resources, an upload handshake that hands back a one-shot href, and
// an explicit publish step that mints the public URL.
type DiskStore struct {
	http *resty.Client
}

type DiskOptions struct {
	Token string
	// BaseUrl overrides the production API host, used by tests
	BaseUrl string
}

func NewDiskStore(opts DiskOptions) *DiskStore {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultDiskBaseUrl
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetHeader("authorization", "OAuth "+opts.Token)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "lib/blobstore/disk")

	return &DiskStore{http: client}
}

type diskResourceMeta struct {
	PublicUrl string `json:"public_url"`
}

func (s *DiskStore) Exists(ctx context.Context, path string) (bool, string, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetQueryParam("fields", "public_url").
		Get("/v1/disk/resources")
	if err != nil {
		return false, "", err
	}
	if res.StatusCode() == http.StatusNotFound {
		return false, "", nil
	}
	if res.StatusCode() != http.StatusOK {
		return false, "", fmt.Errorf("disk metadata request returned status %d", res.StatusCode())
	}

	var meta diskResourceMeta
	err = json.Unmarshal(res.Body(), &meta)
	if err != nil {
		return false, "", err
	}
	return true, meta.PublicUrl, nil
}

func (s *DiskStore) EnsureDir(ctx context.Context, dir string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("path", dir).
		Put("/v1/disk/resources")
	if err != nil {
		return err
	}
	// 409 means the folder is already there
	if res.StatusCode() != http.StatusCreated && res.StatusCode() != http.StatusConflict {
		return fmt.Errorf("disk mkdir returned status %d", res.StatusCode())
	}
	return nil
}

type diskUploadTarget struct {
	Href string `json:"href"`
}

func (s *DiskStore) Upload(ctx context.Context, path string, contents []byte) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetQueryParam("overwrite", "true").
		Get("/v1/disk/resources/upload")
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("disk upload handshake returned status %d", res.StatusCode())
	}

	var target diskUploadTarget
	err = json.Unmarshal(res.Body(), &target)
	if err != nil {
		return err
	}
	if target.Href == "" {
		return fmt.Errorf("disk upload handshake returned no target href")
	}

	put, err := s.http.R().
		SetContext(ctx).
		SetBody(contents).
		Put(target.Href)
	if err != nil {
		return err
	}
	if put.StatusCode() != http.StatusCreated && put.StatusCode() != http.StatusOK {
		return fmt.Errorf("disk upload returned status %d", put.StatusCode())
	}
	return nil
}

func (s *DiskStore) Publish(ctx context.Context, path string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		Put("/v1/disk/resources/publish")
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK && res.StatusCode() != http.StatusCreated {
		return fmt.Errorf("disk publish returned status %d", res.StatusCode())
	}
	return nil
}

func (s *DiskStore) PublicURL(ctx context.Context, path string) (string, error) {
	exists, publicUrl, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists || publicUrl == "" {
		return "", fmt.Errorf("no public url available for %q", path)
	}
	return publicUrl, nil
}
