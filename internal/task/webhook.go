package task

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
)

// validWebhookURL accepts anything with a scheme and a host; everything else
// is rejected at task creation.
func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// DeliverWebhook posts the task's read model to the client-supplied URL.
// Delivery is best-effort: a non-2xx response or transport error is logged
// and the job is still considered done.
func (s *Service) DeliverWebhook(ctx context.Context, taskID, rawURL string) error {
	if !validWebhookURL(rawURL) {
		log.Printf("task=%s webhook url rejected: %q", taskID, rawURL)
		return nil
	}

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(t.Read())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.webhookClient.Do(req)
	if err != nil {
		log.Printf("task=%s webhook delivery to %s failed: %v", taskID, rawURL, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("task=%s webhook delivery to %s got status %d", taskID, rawURL, resp.StatusCode)
	}
	return nil
}
