package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	requestAttempts  = 3
	requestRetryBase = 500 * time.Millisecond
)

// getJSON fetches url and decodes the JSON body into out, retrying
// transient failures with linear backoff. The caller's context bounds
// the whole sequence.
func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	var lastErr error
	for i := 0; i < requestAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(requestRetryBase * time.Duration(i)):
			}
		}
		if lastErr = fetchJSON(ctx, client, url, out); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", requestAttempts, lastErr)
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
