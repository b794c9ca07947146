// Package syncq drains the durable location queue to the remote
// endpoint: at-least-once delivery, in creation order, with per-record
// or batched requests and retry on the next trigger after any failure.
package syncq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roamkit/roam/internal/config"
	"github.com/roamkit/roam/internal/store"
)

// maxErrorBody caps how much of a rejection response is retained for
// the error message.
const maxErrorBody = 4096

// Storage is the slice of the location store the sync engine needs.
// Claiming is a pending→inflight state transition, so two concurrent
// passes can never send the same record.
type Storage interface {
	ClaimPending(ctx context.Context, limit int) ([]store.Record, error)
	ReleaseLocations(ctx context.Context, seqs ...int64) error
	DeleteLocations(ctx context.Context, seqs ...int64) error
}

// Engine delivers stored locations to the configured endpoint.
type Engine struct {
	cfg    *config.Config
	store  Storage
	client *http.Client
	log    *slog.Logger

	// passMu makes sync passes single-flight: a trigger while a pass is
	// running is coalesced, not queued.
	passMu sync.Mutex
}

// New creates a sync engine. client may be nil (a default with a
// 30-second timeout is used); log may be nil.
func New(cfg *config.Config, storage Storage, client *http.Client, log *slog.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{cfg: cfg, store: storage, client: client, log: log}
}

// Sync runs one delivery pass. Returns nil when there is nothing to do,
// when delivery is not configured, or when another pass is already
// running (the running pass will pick up this trigger's records).
//
// Batch mode sends all claimed records in one request and commits
// all-or-nothing. REST mode sends oldest-first, one request per record,
// and stops the chain at the first failure: later records stay pending
// and untouched, preserving delivery order.
func (e *Engine) Sync(ctx context.Context) error {
	if e.cfg.URL == "" {
		return nil
	}
	if !e.passMu.TryLock() {
		return nil
	}
	defer e.passMu.Unlock()

	if e.cfg.BatchSync {
		return e.syncBatch(ctx)
	}
	return e.syncChain(ctx)
}

// Trigger runs a sync pass in the background when autoSync is enabled.
// Called by the motion engine after each successful append.
func (e *Engine) Trigger(ctx context.Context) {
	if !e.cfg.AutoSync {
		return
	}
	go func() {
		if err := e.Sync(ctx); err != nil {
			e.log.Warn("auto sync failed", "error", err)
		}
	}()
}

// Run triggers periodic sync passes until ctx is done. A daemon-side
// safety net for records stranded by earlier failures.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				e.log.Warn("periodic sync failed", "error", err)
			}
		}
	}
}

func (e *Engine) syncBatch(ctx context.Context) error {
	records, err := e.store.ClaimPending(ctx, e.cfg.MaxBatchSize)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	seqs := make([]int64, len(records))
	for i, r := range records {
		seqs[i] = r.Seq
	}

	body, err := encodeBatch(records, e.cfg.Params)
	if err != nil {
		e.releaseQuietly(ctx, seqs)
		return fmt.Errorf("sync: %w", err)
	}

	if err := e.post(ctx, body); err != nil {
		// No partial commit: the whole batch returns to pending and
		// retries together on the next pass.
		e.releaseQuietly(ctx, seqs)
		return err
	}

	if err := e.store.DeleteLocations(ctx, seqs...); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	e.log.Debug("batch delivered", "count", len(records))
	return nil
}

func (e *Engine) syncChain(ctx context.Context) error {
	for {
		records, err := e.store.ClaimPending(ctx, 1)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		rec := records[0]

		body, err := encodeOne(rec.Location, e.cfg.Params)
		if err != nil {
			e.releaseQuietly(ctx, []int64{rec.Seq})
			return fmt.Errorf("sync: %w", err)
		}

		if err := e.post(ctx, body); err != nil {
			// Head-of-line: the failed record returns to pending and
			// blocks later records until it delivers.
			e.releaseQuietly(ctx, []int64{rec.Seq})
			return err
		}

		if err := e.store.DeleteLocations(ctx, rec.Seq); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		e.log.Debug("location delivered", "seq", rec.Seq)
	}
}

// post issues one delivery request. Success is any 2xx status.
func (e *Engine) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RemoteError{Status: resp.StatusCode, Body: string(snippet)}
}

func (e *Engine) releaseQuietly(ctx context.Context, seqs []int64) {
	if err := e.store.ReleaseLocations(ctx, seqs...); err != nil {
		e.log.Error("release after failed delivery", "error", err)
	}
}
