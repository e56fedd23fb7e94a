// Package mirror copies scraped print documents into durable blob
// storage and hands back shareable links. Artifacts are addressed by
// record key, so re-running a scrape never re-uploads a document that
// is already mirrored.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reddmonchick/VisaScraper/lib/blobstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/mirror")

// ErrMirror wraps every failure mode of a mirror attempt. Callers are
// expected to degrade to an empty link rather than fail the scrape.
var ErrMirror = errors.New("failed to mirror artifact")

var pdfMagic = []byte("%PDF")

// Downloader fetches the artifact bytes from the source portal.
type Downloader func(ctx context.Context) ([]byte, error)

type Service struct {
	store     blobstore.Store
	cacheDir  string
	remoteDir string
}

func NewService(store blobstore.Store, cacheDir, remoteDir string) Service {
	return Service{
		store:     store,
		cacheDir:  cacheDir,
		remoteDir: remoteDir,
	}
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, key)
}

// Mirror ensures the artifact named by key exists in blob storage and
// returns its public URL. The remote copy is checked first, then the
// local cache, and only then is download invoked. Any failure returns
// an error wrapping ErrMirror; the store is never left with a partial
// artifact under a published link.
func (s Service) Mirror(ctx context.Context, key string, download Downloader) (string, error) {
	ctx, span := tracer.Start(ctx, "Mirror")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	remotePath := s.remoteDir + "/" + sanitizeKey(key) + ".pdf"

	exists, publicUrl, err := s.store.Exists(ctx, remotePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}
	if exists {
		if publicUrl != "" {
			return publicUrl, nil
		}
		// uploaded previously but never shared
		err := s.store.Publish(ctx, remotePath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("%w: %w", ErrMirror, err)
		}
		url, err := s.store.PublicURL(ctx, remotePath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("%w: %w", ErrMirror, err)
		}
		return url, nil
	}

	content, err := s.localOrDownload(ctx, key, download)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}

	err = s.store.EnsureDir(ctx, s.remoteDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}
	err = s.store.Upload(ctx, remotePath, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}
	err = s.store.Publish(ctx, remotePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}
	url, err := s.store.PublicURL(ctx, remotePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrMirror, err)
	}
	return url, nil
}

func (s Service) localOrDownload(ctx context.Context, key string, download Downloader) ([]byte, error) {
	localPath := filepath.Join(s.cacheDir, sanitizeKey(key)+".pdf")

	content, err := os.ReadFile(localPath)
	if err == nil && bytes.HasPrefix(content, pdfMagic) {
		return content, nil
	}

	content, err = download(ctx)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		return nil, fmt.Errorf("downloaded artifact for %q is not a pdf", key)
	}

	err = os.MkdirAll(s.cacheDir, 0o755)
	if err != nil {
		return nil, err
	}
	err = os.WriteFile(localPath, content, 0o644)
	if err != nil {
		return nil, err
	}
	return content, nil
}
