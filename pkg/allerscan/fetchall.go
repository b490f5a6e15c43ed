package allerscan

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// FetchAll walks every page of the prediction collection and returns the
// concatenated records, truncated at maxRecords. Page 1 is fetched first
// to learn the page count; the remaining pages are fetched with bounded
// concurrency behind the client's rate limiter and reassembled in page
// order. This is an expensive call: invoke it once per explicit
// statistics refresh, never per render.
func (c *httpClient) FetchAll(ctx context.Context, maxRecords int) ([]PredictionRecord, error) {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "allerscan: fetch all")
	}
	first, err := c.FetchPage(ctx, 1, c.bulkPageSize, false)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: fetch all")
	}

	totalPages := first.Pagination.TotalPages
	if totalPages <= 1 || len(first.Records) >= maxRecords {
		return truncate(first.Records, maxRecords), nil
	}

	// lastPage is the highest page that still contributes to maxRecords
	lastPage := (maxRecords + c.bulkPageSize - 1) / c.bulkPageSize
	if lastPage > totalPages {
		lastPage = totalPages
	}

	pages := make([][]PredictionRecord, lastPage+1)
	pages[1] = first.Records

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for page := 2; page <= lastPage; page++ {
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			res, err := c.FetchPage(gctx, page, c.bulkPageSize, false)
			if err != nil {
				return err
			}
			pages[page] = res.Records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "allerscan: fetch all")
	}

	all := make([]PredictionRecord, 0, maxRecords)
	for _, page := range pages {
		all = append(all, page...)
	}
	return truncate(all, maxRecords), nil
}

func truncate(records []PredictionRecord, limit int) []PredictionRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
