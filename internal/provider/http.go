package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPClient is shared by the HTTP providers. Per-poll deadlines come
// from the context.
var DefaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// getJSON fetches url into v. Client errors (4xx other than 408 and 429) are
// permanent; everything else is transient.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewPermanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "screensync")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := fmt.Errorf("GET %s: %s: %s", req.URL.Host, resp.Status, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout &&
			resp.StatusCode != http.StatusTooManyRequests {
			return NewPermanent(err)
		}
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}
