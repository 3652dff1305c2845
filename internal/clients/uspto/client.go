package uspto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/openregistry/tmbulk/internal/platform/httpx"
	"github.com/openregistry/tmbulk/internal/platform/logger"
)

// FileListing is one downloadable data file of a product as reported by the
// bulk data search API. Documentation files are filtered out before this
// point.
type FileListing struct {
	FileName    string
	FileSize    int64
	DownloadURL string
	FromDate    string
	ToDate      string
	ReleaseDate string
}

// ProductListing is one bulk data product with its current file bag.
type ProductListing struct {
	ProductID   string
	Title       string
	Description string
	Frequency   string
	Formats     []string
	Files       []FileListing
}

// Client is the bulk data catalog client used to discover trademark
// products and their files.
type Client interface {
	ListTrademarkProducts(ctx context.Context) ([]ProductListing, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewClient(log *logger.Logger, timeout, retryBackoff time.Duration) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("USPTO_API_URL"))
	if baseURL == "" {
		baseURL = "https://data.uspto.gov/ui/datasets/products/search"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retryBackoff <= 0 {
		retryBackoff = 1 * time.Second
	}
	return &client{
		log:        log.With("service", "USPTOClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 4,
		backoff:    retryBackoff,
	}, nil
}

type usptoHTTPError struct {
	StatusCode int
	Body       string
}

func (e *usptoHTTPError) Error() string {
	return fmt.Sprintf("uspto http %d: %s", e.StatusCode, e.Body)
}

func (e *usptoHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Wire shapes of the product search response.
type searchResponse struct {
	Count              int              `json:"count"`
	BulkDataProductBag []productPayload `json:"bulkDataProductBag"`
}

type productPayload struct {
	ProductIdentifier         string         `json:"productIdentifier"`
	ProductTitleText          string         `json:"productTitleText"`
	ProductDescriptionText    string         `json:"productDescriptionText"`
	ProductFrequencyText      string         `json:"productFrequencyText"`
	MimeTypeIdentifierArray   []string       `json:"mimeTypeIdentifierArrayText"`
	ProductFileTotalQuantity  int            `json:"productFileTotalQuantity"`
	ProductTotalFileSize      int64          `json:"productTotalFileSize"`
	ProductFileBag            productFileBag `json:"productFileBag"`
	LastModifiedDateTime      string         `json:"lastModifiedDateTime"`
	ProductFromDate           string         `json:"productFromDate"`
	ProductToDate             string         `json:"productToDate"`
	ProductLabelArrayText     []string       `json:"productLabelArrayText"`
	ProductDatasetArrayText   []string       `json:"productDatasetArrayText"`
	ProductDatasetCategoryArr []string       `json:"productDatasetCategoryArrayText"`
}

type productFileBag struct {
	FileDataBag []filePayload `json:"fileDataBag"`
}

type filePayload struct {
	FileName         string `json:"fileName"`
	FileSize         int64  `json:"fileSize"`
	FileDownloadURI  string `json:"fileDownloadURI"`
	FileDataFromDate string `json:"fileDataFromDate"`
	FileDataToDate   string `json:"fileDataToDate"`
	FileTypeText     string `json:"fileTypeText"`
	FileReleaseDate  string `json:"fileReleaseDate"`
}

// ListTrademarkProducts queries the product search API for the latest
// trademark datasets and keeps only their data files.
func (c *client) ListTrademarkProducts(ctx context.Context) ([]ProductListing, error) {
	q := url.Values{}
	q.Set("facets", "true")
	q.Set("latest", "true")
	q.Set("labels", "Trademark")

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("product search: %w", err)
	}
	c.log.Info("Fetched trademark product catalog", "count", resp.Count)

	out := make([]ProductListing, 0, len(resp.BulkDataProductBag))
	for _, p := range resp.BulkDataProductBag {
		id := strings.TrimSpace(p.ProductIdentifier)
		if id == "" {
			continue
		}
		listing := ProductListing{
			ProductID:   id,
			Title:       strings.TrimSpace(p.ProductTitleText),
			Description: strings.TrimSpace(p.ProductDescriptionText),
			Frequency:   strings.TrimSpace(p.ProductFrequencyText),
			Formats:     p.MimeTypeIdentifierArray,
		}
		for _, f := range p.ProductFileBag.FileDataBag {
			if f.FileTypeText != "Data" {
				continue
			}
			name := strings.TrimSpace(f.FileName)
			if name == "" || strings.TrimSpace(f.FileDownloadURI) == "" {
				continue
			}
			listing.Files = append(listing.Files, FileListing{
				FileName:    name,
				FileSize:    f.FileSize,
				DownloadURL: strings.TrimSpace(f.FileDownloadURI),
				FromDate:    f.FileDataFromDate,
				ToDate:      f.FileDataToDate,
				ReleaseDate: f.FileReleaseDate,
			})
		}
		out = append(out, listing)
	}
	return out, nil
}

func (c *client) getJSON(ctx context.Context, rawURL string, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, raw, err := c.getOnce(ctx, rawURL)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode catalog response: %w", uErr)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Catalog request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *client) getOnce(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(bytes.TrimSpace(raw))
		if len(body) > 500 {
			body = body[:500]
		}
		return resp, raw, &usptoHTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, raw, nil
}
