package allerscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for a local AllerScan backend.
const defaultBaseURL = "http://localhost:8001"

const apiPrefix = "/api/v1"

const (
	defaultTimeout       = 15 * time.Second
	defaultExportTimeout = 90 * time.Second
	defaultBulkPageSize  = 100
	defaultConcurrency   = 4
	defaultMaxRecords    = 1000
)

// Client defines the AllerScan backend API operations.
type Client interface {
	FetchPage(ctx context.Context, page, pageSize int, includeStats bool) (*Page, error)
	FetchAll(ctx context.Context, maxRecords int) ([]PredictionRecord, error)
	FetchStatistics(ctx context.Context) (*BackendStatistics, error)
	DeleteRecord(ctx context.Context, id int64) error
	ExportExcel(ctx context.Context, limit int) ([]byte, error)
	Predict(ctx context.Context, req PredictionRequest) (*PredictionResult, error)
	Health(ctx context.Context) (*HealthStatus, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call deadline for ordinary requests.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithExportTimeout sets the deadline for Excel export, which is slow on
// the server side and needs far more headroom than a page fetch.
func WithExportTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.exportTimeout = d
	}
}

// WithRateLimit caps the request rate of the FetchAll page walk.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithConcurrency bounds the number of in-flight FetchAll page requests.
func WithConcurrency(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithBulkPageSize sets the page size FetchAll walks with.
func WithBulkPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.bulkPageSize = n
		}
	}
}

// httpClient implements Client using net/http. It holds no state between
// calls beyond the underlying connection pool.
type httpClient struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	exportTimeout time.Duration
	limiter       *rate.Limiter
	concurrency   int
	bulkPageSize  int
}

// NewClient creates a new AllerScan backend client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:       defaultBaseURL,
		timeout:       defaultTimeout,
		exportTimeout: defaultExportTimeout,
		limiter:       rate.NewLimiter(10, 10),
		concurrency:   defaultConcurrency,
		bulkPageSize:  defaultBulkPageSize,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchPage(ctx context.Context, page, pageSize int, includeStats bool) (*Page, error) {
	if page < 1 {
		return nil, &APIError{Kind: KindValidation, Detail: fmt.Sprintf("page must be >= 1, got %d", page)}
	}
	if pageSize < 1 {
		return nil, &APIError{Kind: KindValidation, Detail: fmt.Sprintf("page_size must be >= 1, got %d", pageSize)}
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("include_stats", strconv.FormatBool(includeStats))

	body, err := c.get(ctx, "/dataset/predictions?"+q.Encode(), c.timeout)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: fetch page")
	}

	var p Page
	if err := json.Unmarshal(unwrap(body), &p); err != nil {
		return nil, eris.Wrap(err, "allerscan: decode page")
	}
	if p.Pagination == (PageResult{}) {
		// legacy deployments omit pagination entirely
		p.Pagination = PageResult{
			CurrentPage:  page,
			TotalItems:   len(p.Records),
			ItemsPerPage: pageSize,
		}
	}
	p.Pagination.Normalize()
	return &p, nil
}

func (c *httpClient) FetchStatistics(ctx context.Context) (*BackendStatistics, error) {
	body, err := c.get(ctx, "/dataset/statistics", c.timeout)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: fetch statistics")
	}
	var stats BackendStatistics
	if err := json.Unmarshal(unwrap(body), &stats); err != nil {
		return nil, eris.Wrap(err, "allerscan: decode statistics")
	}
	return &stats, nil
}

func (c *httpClient) DeleteRecord(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s%s/dataset/predictions/%d", c.baseURL, apiPrefix, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if _, err := c.do(req); err != nil {
		return eris.Wrapf(err, "allerscan: delete record %d", id)
	}
	return nil
}

func (c *httpClient) Predict(ctx context.Context, preq PredictionRequest) (*PredictionResult, error) {
	if err := validatePrediction(preq); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(preq)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/predict/", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: predict")
	}
	var result PredictionResult
	if err := json.Unmarshal(unwrap(body), &result); err != nil {
		return nil, eris.Wrap(err, "allerscan: decode prediction")
	}
	return &result, nil
}

func validatePrediction(req PredictionRequest) error {
	missing := []string{}
	if strings.TrimSpace(req.NamaProdukMakanan) == "" {
		missing = append(missing, "nama_produk_makanan")
	}
	if strings.TrimSpace(req.Pemanis) == "" {
		missing = append(missing, "pemanis")
	}
	if strings.TrimSpace(req.LemakMinyak) == "" {
		missing = append(missing, "lemak_minyak")
	}
	if strings.TrimSpace(req.PenyedapRasa) == "" {
		missing = append(missing, "penyedap_rasa")
	}
	if len(missing) > 0 {
		return &APIError{Kind: KindValidation, Detail: "missing required fields: " + strings.Join(missing, ", ")}
	}
	return nil
}

func (c *httpClient) Health(ctx context.Context) (*HealthStatus, error) {
	body, err := c.get(ctx, "/health", c.timeout)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: health")
	}
	var hs HealthStatus
	if err := json.Unmarshal(unwrap(body), &hs); err != nil {
		return nil, eris.Wrap(err, "allerscan: decode health")
	}
	return &hs, nil
}

func (c *httpClient) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPrefix+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, data)
	}

	return data, nil
}
