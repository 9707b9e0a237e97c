// Package pdf downloads open-access full text (PDF or HTML) for paper candidates.
package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

// Sentinel errors for download operations.
var (
	// ErrUnsupportedContent is returned when the response is neither a PDF nor an accepted HTML page.
	ErrUnsupportedContent = errors.New("pdf: unsupported content type")
	// ErrTooLarge is returned when the body exceeds MaxSize.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrTooSmall is returned when a PDF body is below MinSize.
	ErrTooSmall = errors.New("pdf: file below minimum size")
	// ErrDownloadFailed is returned when the download fails due to network or HTTP errors.
	ErrDownloadFailed = errors.New("pdf: download failed")
	// ErrSSRF is returned when the URL is not a public HTTP(S) address.
	ErrSSRF = errors.New("pdf: request to private network denied")
	// ErrNoSource is returned for candidates without an open-access locator.
	ErrNoSource = errors.New("pdf: no open-access source")
)

// DownloadResult holds the bytes of one acquired source.
type DownloadResult struct {
	Content []byte
	// ContentHash is the SHA-256 hex digest of Content.
	ContentHash string
	SizeBytes   int64
	// ContentType is the media type without parameters, e.g. "application/pdf".
	ContentType string
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Config holds downloader configuration.
type Config struct {
	// Timeout bounds one request including redirects. Default: 60 seconds.
	Timeout time.Duration
	// MinSize is the smallest accepted PDF in bytes. Default: 50KB.
	MinSize int64
	// MaxSize is the largest accepted body in bytes. Default: 50MB.
	MaxSize int64
	// UserAgent is sent on every request.
	UserAgent string
	// AcceptHTML accepts text/html landing pages in addition to PDFs.
	AcceptHTML bool
	// AllowPrivateNetworks disables the private-address checks. Tests only.
	AllowPrivateNetworks bool
}

const defaultUserAgent = "Mozilla/5.0 (compatible; ReviewPipeline/1.0; +https://helixir.io/bot)"

// Downloader fetches source documents over HTTP.
type Downloader struct {
	client               *http.Client
	resolver             *net.Resolver
	minSize              int64
	maxSize              int64
	userAgent            string
	acceptHTML           bool
	allowPrivateNetworks bool
}

// NewDownloader creates a Downloader, filling zero Config fields with defaults.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 50 * 1024
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	d := &Downloader{
		resolver:             net.DefaultResolver,
		minSize:              cfg.MinSize,
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		acceptHTML:           cfg.AcceptHTML,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}
	d.client = &http.Client{
		Timeout: cfg.Timeout,
		// Every redirect hop is checked so an open redirect cannot reach an internal host.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrDownloadFailed)
			}
			if d.allowPrivateNetworks {
				return nil
			}
			return checkPublicURL(req.Context(), d.resolver, req.URL.String())
		},
	}
	return d
}

// Fetch downloads the candidate's open-access source. Outcomes that cannot
// change on a later attempt are wrapped with retry.Permanent.
func (d *Downloader) Fetch(ctx context.Context, c domain.PaperCandidate) (*DownloadResult, error) {
	if strings.TrimSpace(c.SourceURL) == "" {
		return nil, retry.Permanent(ErrNoSource)
	}
	res, err := d.Download(ctx, c.SourceURL)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedContent),
		errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrTooSmall),
		errors.Is(err, ErrSSRF):
		return retry.Permanent(err)
	}
	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) && !apiErr.IsTransient() {
		return retry.Permanent(err)
	}
	return err
}

// Download fetches a URL and validates its type and size.
// Non-2xx responses are returned as *domain.ExternalAPIError wrapped in ErrDownloadFailed.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	if !d.allowPrivateNetworks {
		if err := checkPublicURL(ctx, d.resolver, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrSSRF, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	accept := "application/pdf"
	if d.acceptHTML {
		accept += ", text/html;q=0.9"
	}
	req.Header.Set("Accept", accept+", */*;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrSSRF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := domain.NewExternalAPIError("source", resp.StatusCode, http.StatusText(resp.StatusCode), nil)
		return nil, fmt.Errorf("%w: HTTP %d: %w", ErrDownloadFailed, resp.StatusCode, apiErr)
	}
	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}

	mediaType, err := d.mediaType(resp.Header.Get("Content-Type"), content)
	if err != nil {
		return nil, err
	}
	if mediaType == "application/pdf" && int64(len(content)) < d.minSize {
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrTooSmall, len(content), d.minSize)
	}

	sum := sha256.Sum256(content)
	return &DownloadResult{
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(content)),
		ContentType: mediaType,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// mediaType decides the source type from the header, falling back to the PDF
// magic bytes for servers that send application/octet-stream.
func (d *Downloader) mediaType(header string, content []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	switch {
	case ct == "application/pdf", ct == "application/x-pdf":
		return "application/pdf", nil
	case strings.HasPrefix(string(content[:min(len(content), 5)]), "%PDF-"):
		return "application/pdf", nil
	case d.acceptHTML && (ct == "text/html" || ct == "application/xhtml+xml"):
		return "text/html", nil
	}
	return "", fmt.Errorf("%w: Content-Type is %q", ErrUnsupportedContent, header)
}
