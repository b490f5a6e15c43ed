package allerscan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

// SpreadsheetMIME is the content type of the exported workbook.
const SpreadsheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportExcel asks the backend to generate a spreadsheet of up to limit
// records and returns the raw workbook bytes. Server-side generation is
// slow, so this call runs under the export deadline rather than the
// ordinary one; a deadline failure surfaces as KindTimeout so the caller
// can suggest reducing the record count instead of checking connectivity.
func (c *httpClient) ExportExcel(ctx context.Context, limit int) ([]byte, error) {
	if limit < 1 {
		return nil, &APIError{Kind: KindValidation, Detail: fmt.Sprintf("limit must be >= 1, got %d", limit)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.exportTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	u := c.baseURL + apiPrefix + "/dataset/export/excel?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", SpreadsheetMIME)

	data, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "allerscan: export excel")
	}
	return data, nil
}
