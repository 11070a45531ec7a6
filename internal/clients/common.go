package clients

import (
	"fmt"
	"io"
	"net/http"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

const metersPerMile = 1609.344

// statusError maps a non-success HTTP response to the error taxonomy:
// 5xx is transient, any other unexpected status is a client error.
func statusError(source activity.SourceName, resp *http.Response) error {
	body := readBodySnippet(resp.Body)
	if resp.StatusCode >= 500 {
		return &activity.TransientError{
			Source: source,
			Msg:    fmt.Sprintf("server error %d: %s", resp.StatusCode, body),
		}
	}
	return &activity.ClientError{
		Source:     source,
		StatusCode: resp.StatusCode,
		Msg:        body,
	}
}

// readBodySnippet pulls a short prefix of the body for error messages.
func readBodySnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return string(b)
}

func metersToMiles(meters float64) float64 {
	return meters / metersPerMile
}
