package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxProviderResponseBytes = 32 << 20

// postJSON sends payload and decodes a 2xx body into out. Error bodies go
// through decodeErr so each provider can pull out its own message shape.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out any, provider string, decodeErr func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s encode: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("%s read: %w", provider, err)
	}
	if resp.StatusCode >= 400 {
		msg := ""
		if decodeErr != nil {
			msg = decodeErr(raw)
		}
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}
