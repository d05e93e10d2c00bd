package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"mlsync/config"
	"mlsync/models"
	"mlsync/services"
)

// Variant max widths in pixels. Images are never upscaled.
var variantWidths = []struct {
	name  string
	width int
}{
	{models.VariantThumbnail, 320},
	{models.VariantMedium, 800},
	{models.VariantLarge, 1600},
}

// Uploader is the S3 surface the worker needs.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// ErrorLedger records media failures for the admin surface.
type ErrorLedger interface {
	InsertSyncError(ctx context.Context, e *models.SyncError) error
}

// MediaWorker drains the media queue: download, validate, resize into
// variants, upload, persist. Object keys are deterministic per source URL,
// so a retry overwrites its own partial output instead of duplicating it.
type MediaWorker struct {
	media      *services.MediaService
	uploader   Uploader
	httpClient *http.Client
	ledger     ErrorLedger
	cfg        config.MediaConfig
}

func NewMediaWorker(media *services.MediaService, uploader Uploader, httpClient *http.Client, ledger ErrorLedger, cfg config.MediaConfig) *MediaWorker {
	return &MediaWorker{
		media:      media,
		uploader:   uploader,
		httpClient: httpClient,
		ledger:     ledger,
		cfg:        cfg,
	}
}

// Run starts the worker loop.
func (w *MediaWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Media worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims up to BatchSize pending items and processes them with
// bounded concurrency.
func (w *MediaWorker) ProcessBatch(ctx context.Context) {
	pending, err := w.media.GetPending(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Printf("Media worker: query error: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("Media worker: processing %d items", len(pending))

	concurrency := w.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for i := range pending {
		m := &pending[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processOne(ctx, m)
		}()
	}
	wg.Wait()
}

func (w *MediaWorker) processOne(ctx context.Context, m *models.PendingMedia) {
	if err := w.process(ctx, m); err != nil {
		attempts := m.Attempts + 1
		log.Printf("Media worker: %s attempt %d failed: %v", m.SourceURL, attempts, err)
		if markErr := w.media.MarkFailed(ctx, m.ID, err.Error(), attempts); markErr != nil {
			log.Printf("Media worker: failed to record failure for %s: %v", m.ID, markErr)
		}
		if w.ledger != nil {
			e := &models.SyncError{
				ProviderID: m.ProviderID,
				ExternalID: m.ExternalID,
				Category:   models.ErrorCategoryMedia,
				Message:    fmt.Sprintf("%s: %v", m.SourceURL, err),
				CreatedAt:  time.Now(),
			}
			if ledgerErr := w.ledger.InsertSyncError(ctx, e); ledgerErr != nil {
				log.Printf("Media worker: failed to ledger failure for %s: %v", m.ID, ledgerErr)
			}
		}
		return
	}
	if err := w.media.MarkProcessed(ctx, &m.PropertyMedia); err != nil {
		log.Printf("Media worker: failed to finalize %s: %v", m.ID, err)
	}
}

func (w *MediaWorker) process(ctx context.Context, m *models.PendingMedia) error {
	data, err := w.download(ctx, m.SourceURL)
	if err != nil {
		return err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	size := int64(len(data))
	m.Width = &width
	m.Height = &height
	m.FileSizeBytes = &size
	m.Format = format

	urlHash := sha256.Sum256([]byte(m.SourceURL))
	prefix := hex.EncodeToString(urlHash[:8])

	// On the last allowed attempt an upload failure degrades to the source
	// URL instead of failing the row, so a listing is never left imageless
	// because the object store was down.
	lastAttempt := m.Attempts+1 >= models.MaxMediaAttempts

	for _, v := range variantWidths {
		resized := src
		if width > v.width {
			resized = imaging.Resize(src, v.width, 0, imaging.Lanczos)
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(w.cfg.Quality)); err != nil {
			return fmt.Errorf("encode %s: %w", v.name, err)
		}

		key := fmt.Sprintf("media/%s/%s/%s_%s.jpg", m.ProviderID, m.ExternalID, prefix, v.name)

		if w.uploader == nil {
			// No object store configured: serve the source URL directly.
			w.setVariantURL(&m.PropertyMedia, v.name, m.SourceURL)
			continue
		}

		if err := w.uploader.Upload(ctx, key, &buf, "image/jpeg"); err != nil {
			if !lastAttempt {
				return fmt.Errorf("upload %s: %w", v.name, err)
			}
			log.Printf("Media worker: upload %s for %s failed, serving source URL: %v", v.name, m.SourceURL, err)
			w.setVariantURL(&m.PropertyMedia, v.name, m.SourceURL)
			continue
		}
		w.setVariantURL(&m.PropertyMedia, v.name, w.uploader.PublicURL(key))
	}

	return nil
}

func (w *MediaWorker) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > w.cfg.MaxBytes {
		return nil, fmt.Errorf("exceeds size limit of %d bytes", w.cfg.MaxBytes)
	}
	return data, nil
}

func (w *MediaWorker) setVariantURL(m *models.PropertyMedia, variant, url string) {
	switch variant {
	case models.VariantThumbnail:
		m.ThumbnailURL = &url
	case models.VariantMedium:
		m.MediumURL = &url
	case models.VariantLarge:
		m.LargeURL = &url
	}
}
