package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

// MaxExportRecords is the hard ceiling on an Excel export request; it
// bounds server-side generation time.
const MaxExportRecords = 5000

const defaultExportLimit = 1000

// ViewState is the lifecycle phase of a dataset view session.
type ViewState int

const (
	StateIdle ViewState = iota
	StateLoading
	StateLoaded
	StateError
)

func (s ViewState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// ViewOptions tunes a View.
type ViewOptions struct {
	// MaxStatsRecords caps how many records a statistics refresh pulls.
	MaxStatsRecords int
	Logger          *zap.Logger
}

// View owns the dataset page state: current page window, search term and
// derived statistics. It sequences gateway calls so that statistics are
// always refreshed after the page fetch that triggered them, and an
// in-flight fetch that has been superseded can never clobber newer state.
// Safe for concurrent use.
type View struct {
	client          allerscan.Client
	log             *zap.Logger
	maxStatsRecords int

	mu      sync.Mutex
	seq     uint64
	state   ViewState
	lastErr error
	records []allerscan.PredictionRecord
	page    allerscan.PageResult
	search  string
	stats   *Statistics

	statsWG sync.WaitGroup
}

// NewView creates an idle view over the given gateway client.
func NewView(client allerscan.Client, opts ViewOptions) *View {
	if opts.MaxStatsRecords <= 0 {
		opts.MaxStatsRecords = 1000
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	return &View{
		client:          client,
		log:             opts.Logger,
		maxStatsRecords: opts.MaxStatsRecords,
		state:           StateIdle,
		page:            allerscan.PageResult{CurrentPage: 1, TotalPages: 1, ItemsPerPage: 20},
	}
}

// Load fetches the given page and makes it current. Overlapping calls
// follow a last-request-wins policy: each fetch is tagged with a
// sequence number and a response whose sequence has been superseded is
// discarded, even when the responses resolve out of order. On failure
// the previously loaded page is kept and only the state and reason
// change.
func (v *View) Load(ctx context.Context, page, pageSize int) error {
	v.mu.Lock()
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = v.page.ItemsPerPage
	}
	v.seq++
	seq := v.seq
	v.state = StateLoading
	v.mu.Unlock()

	res, err := v.client.FetchPage(ctx, page, pageSize, true)

	v.mu.Lock()
	if seq != v.seq {
		// a newer request owns the view now
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.state = StateError
		v.lastErr = err
		v.mu.Unlock()
		return err
	}
	v.records = res.Records
	v.page = res.Pagination
	v.state = StateLoaded
	v.lastErr = nil
	v.mu.Unlock()

	v.log.Debug("dataset page loaded",
		zap.Int("page", res.Pagination.CurrentPage),
		zap.Int("records", len(res.Records)),
		zap.Int("total_items", res.Pagination.TotalItems),
	)

	// Statistics always follow the page fetch, never race it. A failed
	// refresh leaves the previous statistics in place; it must not flip
	// the loaded page into an error.
	v.statsWG.Add(1)
	go func() {
		defer v.statsWG.Done()
		v.refreshStats(ctx, seq, res.Statistics)
	}()

	return nil
}

// Refresh reloads the current page at the current size.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	page, size := v.page.CurrentPage, v.page.ItemsPerPage
	v.mu.Unlock()
	return v.Load(ctx, page, size)
}

// SetPageSize refetches page 1 at the new size, discarding the current
// page position.
func (v *View) SetPageSize(ctx context.Context, pageSize int) error {
	return v.Load(ctx, 1, pageSize)
}

// SetSearch sets the client-side filter term. Search never triggers a
// refetch; it narrows the page that is already loaded.
func (v *View) SetSearch(term string) {
	v.mu.Lock()
	v.search = term
	v.mu.Unlock()
}

// Delete removes a record and then reloads. The reload is strictly
// sequenced after the delete confirms, and there is no optimistic local
// row removal. When the sole record of the last page was deleted the
// reload targets the previous page instead of an empty trailing one.
func (v *View) Delete(ctx context.Context, id int64) error {
	if err := v.client.DeleteRecord(ctx, id); err != nil {
		return err
	}

	v.mu.Lock()
	page, size, total := v.page.CurrentPage, v.page.ItemsPerPage, v.page.TotalItems
	v.mu.Unlock()

	if remaining := total - 1; remaining >= 0 && size > 0 {
		lastPage := (remaining + size - 1) / size
		if lastPage < 1 {
			lastPage = 1
		}
		if page > lastPage {
			page = lastPage
		}
	}
	return v.Load(ctx, page, size)
}

// Export downloads the backend-generated workbook, clamped to
// MaxExportRecords, and writes it to dir under a date-stamped filename.
// It returns the written path.
func (v *View) Export(ctx context.Context, limit int, dir string) (string, error) {
	if limit <= 0 {
		v.mu.Lock()
		limit = v.page.TotalItems
		v.mu.Unlock()
		if limit <= 0 {
			limit = defaultExportLimit
		}
	}
	if limit > MaxExportRecords {
		limit = MaxExportRecords
	}

	blob, err := v.client.ExportExcel(ctx, limit)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, ExportFilename(time.Now()))
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", eris.Wrap(err, "dataset: write export file")
	}
	return path, nil
}

// ExportFilename returns the date-stamped workbook name the dashboard
// has always used.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("AllerScan-Dataset-%s.xlsx", now.Format("2006-01-02"))
}

// State returns the view lifecycle state and, in StateError, the reason.
func (v *View) State() (ViewState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, v.lastErr
}

// Page returns the current page window.
func (v *View) Page() allerscan.PageResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Records returns the current page's records unfiltered.
func (v *View) Records() []allerscan.PredictionRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.records
}

// Rows returns the current page's records narrowed by the search term.
func (v *View) Rows() []allerscan.PredictionRecord {
	v.mu.Lock()
	records, term := v.records, v.search
	v.mu.Unlock()
	return FilterRecords(records, term)
}

// Statistics returns the most recently computed statistics, which may be
// nil before the first refresh completes or stale after a failed one.
func (v *View) Statistics() *Statistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// WaitStatistics blocks until every in-flight statistics refresh has
// settled.
func (v *View) WaitStatistics() {
	v.statsWG.Wait()
}

func (v *View) refreshStats(ctx context.Context, seq uint64, inline *allerscan.BackendStatistics) {
	stats, err := BuildStatistics(ctx, v.client, inline, v.maxStatsRecords)
	if err != nil {
		v.log.Warn("statistics refresh failed; keeping previous statistics", zap.Error(err))
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		// computed against a superseded record set
		return
	}
	v.stats = stats
}

// BuildStatistics assembles statistics the way the dashboard does:
// backend-reported numbers first, with every gap backfilled from an
// actual record walk; a full local fold when the backend statistics
// endpoint is unavailable. An inline statistics block from a page fetch
// saves the extra endpoint call.
func BuildStatistics(ctx context.Context, client allerscan.Client, inline *allerscan.BackendStatistics, maxRecords int) (*Statistics, error) {
	backend := inline
	if backend == nil {
		bs, err := client.FetchStatistics(ctx)
		if err != nil {
			zap.L().Debug("backend statistics unavailable, falling back to local fold", zap.Error(err))
		} else {
			backend = bs
		}
	}

	records, err := client.FetchAll(ctx, maxRecords)
	if err != nil {
		if backend != nil {
			// partial statistics are more useful than none
			return FromBackend(backend), nil
		}
		return nil, err
	}

	if backend != nil {
		stats := FromBackend(backend)
		stats.FillFromRecords(records, time.Now())
		return stats, nil
	}
	return Aggregate(records, time.Now()), nil
}

// FilterRecords narrows records to those matching term case-insensitively
// against the product name, the ingredient text and the rendered
// allergen list. An empty term matches everything.
func FilterRecords(records []allerscan.PredictionRecord, term string) []allerscan.PredictionRecord {
	term = strings.TrimSpace(term)
	if term == "" {
		return records
	}
	fold := cases.Fold()
	needle := fold.String(term)

	var out []allerscan.PredictionRecord
	for _, r := range records {
		haystack := fold.String(r.Name() + " " + r.Ingredients + " " + r.DetectedAllergens.Display())
		if strings.Contains(haystack, needle) {
			out = append(out, r)
		}
	}
	return out
}
