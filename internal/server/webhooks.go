package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"khata/internal/config"
	"khata/internal/domain"
	"khata/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher polls the audit log and posts new events to every
// configured hook. Each hook keeps its own cursor and retries from it after a
// failed delivery.
type webhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.Webhook
	client   *http.Client
	log      *slog.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

func newWebhookDispatcher(r repo.Repo, hooks []config.Webhook, log *slog.Logger) *webhookDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &webhookDispatcher{
		repo:     r,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log,
		cursors:  make(map[int]int64),
	}
}

// StartWebhooks runs the dispatcher until ctx is done. It returns immediately
// when no hooks are configured.
func StartWebhooks(ctx context.Context, r repo.Repo, cfg *config.Config, log *slog.Logger) {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return
	}
	d := newWebhookDispatcher(r, cfg.Webhooks, log)
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.Webhook) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.log.Error("webhook: fetch events failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	var batch []domain.Event
	for _, evt := range events {
		if hook.Matches(evt.Type) {
			batch = append(batch, evt)
		}
	}
	last := events[len(events)-1].ID
	if len(batch) == 0 {
		d.setCursor(idx, last)
		return
	}
	if err := d.post(ctx, hook, batch); err != nil {
		d.log.Warn("webhook: delivery failed", "url", hook.URL, "events", len(batch), "error", err)
		return
	}
	d.setCursor(idx, last)
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// new hooks only see events from now on
	cur, err := d.repo.LatestEventID(ctx)
	if err != nil {
		d.log.Error("webhook: init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

type webhookBody struct {
	Events []webhookEvent `json:"events"`
}

func toWebhookEvent(evt domain.Event) webhookEvent {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	return webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.Webhook, events []domain.Event) error {
	body := webhookBody{Events: make([]webhookEvent, 0, len(events))}
	for _, evt := range events {
		body.Events = append(body.Events, toWebhookEvent(evt))
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Khata-Delivery", fmt.Sprintf("%d-%d", events[0].ID, events[len(events)-1].ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Khata-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
