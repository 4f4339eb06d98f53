// Package prober issues bounded-concurrency retrieval probes against
// storage provider gateways and records their outcomes in a resumable
// checkpoint. A probe failure is data, never a fault: the run keeps going
// and the outcome is recorded like any other.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"retrieval-audit-cli/internal/config"
	"retrieval-audit-cli/internal/deals"
)

const (
	userAgent       = "retrieval-audit-cli/1.0"
	maxBodyCapture  = 1024
	limiterWaitStep = 25 * time.Millisecond
)

// Progress exposes live counters for the status API. All fields are safe
// for concurrent reads while a run is in flight.
type Progress struct {
	Total     atomic.Int64
	Completed atomic.Int64
	Skipped   atomic.Int64 // sentinel no-deal records
}

// Snapshot is one point-in-time view of a run's progress.
type Snapshot struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
}

func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		Total:     p.Total.Load(),
		Completed: p.Completed.Load(),
		Skipped:   p.Skipped.Load(),
	}
}

// Checker probes (content unit, provider) pairs. The active-agreement set
// and provider registry are read-only for the duration of a run; the
// checkpoint is flushed by the run loop only, never by workers.
type Checker struct {
	providers map[string]config.Provider
	order     []string // stable provider iteration order
	active    deals.ActiveSet

	client         *http.Client
	timeout        time.Duration
	concurrency    int
	batchSize      int
	probeNonActive bool
	limiter        *leakybucket.LeakyBucket

	Progress Progress
}

// New builds a Checker. rateRPS <= 0 disables request pacing.
func New(providers map[string]config.Provider, active deals.ActiveSet, cfg *config.Config) *Checker {
	order := make([]string, 0, len(providers))
	for id := range providers {
		order = append(order, id)
	}
	sort.Strings(order)

	c := &Checker{
		providers: providers,
		order:     order,
		active:    active,
		client: &http.Client{
			// Per-probe deadlines come from the request context so that an
			// interrupted run still lets in-flight probes finish naturally.
			Timeout: 0,
		},
		timeout:        cfg.RequestTimeout,
		concurrency:    cfg.Concurrency,
		batchSize:      cfg.BatchSize,
		probeNonActive: cfg.ProbeNonActive,
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = leakybucket.NewLeakyBucket(cfg.RateLimitRPS, int64(cfg.Concurrency))
	}
	return c
}

// Run probes every pending (unit, provider) pair, flushing the checkpoint
// after each batch. Pairs already recorded in the checkpoint are never
// reissued. On cancellation the current batch drains, the checkpoint is
// flushed, and ctx.Err() is returned.
func (c *Checker) Run(ctx context.Context, pieces []string, cids []CIDTarget, cp *Checkpoint) error {
	piecePending := c.pendingPieces(pieces, cp)
	cidPending := c.pendingCIDs(cids, cp)
	c.Progress.Total.Store(int64(len(piecePending) + len(cidPending)))

	log.Info().
		Int("piece_probes", len(piecePending)).
		Int("cid_probes", len(cidPending)).
		Int("already_recorded", cp.Len()).
		Msg("starting retrieval checks")

	if err := c.runBatches(ctx, "Pieces", piecePending, cp); err != nil {
		return err
	}
	return c.runBatches(ctx, "CIDs", cidPending, cp)
}

// pendingPieces expands pieces × providers, minus recorded pairs.
func (c *Checker) pendingPieces(pieces []string, cp *Checkpoint) []Result {
	var pending []Result
	for _, pieceCID := range pieces {
		for _, providerID := range c.order {
			if cp.Has(KindPiece, pieceCID, providerID) {
				continue
			}
			pending = append(pending, Result{
				Kind:         KindPiece,
				PieceCID:     pieceCID,
				ProviderID:   providerID,
				ProviderName: c.providers[providerID].Name,
			})
		}
	}
	return pending
}

func (c *Checker) pendingCIDs(cids []CIDTarget, cp *Checkpoint) []Result {
	var pending []Result
	for _, t := range cids {
		for _, providerID := range c.order {
			if cp.Has(KindCID, t.CID, providerID) {
				continue
			}
			pending = append(pending, Result{
				Kind:         KindCID,
				CID:          t.CID,
				PieceCID:     t.PieceCID,
				Preparation:  t.Preparation,
				ProviderID:   providerID,
				ProviderName: c.providers[providerID].Name,
			})
		}
	}
	return pending
}

func (c *Checker) runBatches(ctx context.Context, title string, pending []Result, cp *Checkpoint) error {
	if len(pending) == 0 {
		return ctx.Err()
	}

	bar, _ := pterm.DefaultProgressbar.WithTotal(len(pending)).WithTitle(title).Start()
	defer func() {
		if bar != nil {
			bar.Stop()
		}
	}()

	for start := 0; start < len(pending); start += c.batchSize {
		end := min(start+c.batchSize, len(pending))

		batch, err := c.processBatch(ctx, pending[start:end], bar)
		if len(batch) > 0 {
			cp.Append(batch)
			if flushErr := cp.Flush(); flushErr != nil {
				return flushErr
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// processBatch runs one batch with bounded concurrency. Workers that
// observe cancellation before starting do nothing; workers already probing
// finish or time out naturally. The batch result is always returned so the
// caller can flush what completed.
func (c *Checker) processBatch(ctx context.Context, targets []Result, bar *pterm.ProgressbarPrinter) ([]Result, error) {
	var (
		mu    sync.Mutex
		batch []Result
	)

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			var res Result
			hasDeal := c.active.Has(target.PieceCID, target.ProviderID)
			if !hasDeal && !c.probeNonActive {
				res = c.noDealResult(target)
				c.Progress.Skipped.Add(1)
			} else {
				if err := c.waitLimiter(ctx); err != nil {
					return nil
				}
				res = c.probe(ctx, target)
			}

			mu.Lock()
			batch = append(batch, res)
			mu.Unlock()

			c.Progress.Completed.Add(1)
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}

	_ = g.Wait()
	return batch, ctx.Err()
}

func (c *Checker) noDealResult(target Result) Result {
	target.URL = ""
	target.Timestamp = time.Now().UTC().Format(time.RFC3339)
	target.Status = StatusNoDeal
	target.StatusCode = NoDealStatusCode
	target.ContentLength = NoDealContentLength
	target.ErrorMessage = "No active deal with this provider"
	target.ResponseTimeMS = NoDealResponseTime
	return target
}

// probe performs one retrieval check: HEAD first, falling back to GET on
// 405 or to capture the error body on any non-200. The request deadline is
// detached from the run context so an interrupt never truncates a probe
// that already started.
func (c *Checker) probe(ctx context.Context, target Result) Result {
	target.URL = c.probeURL(target)
	target.Timestamp = time.Now().UTC().Format(time.RFC3339)

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	resp, usedHead, err := c.fetch(reqCtx, target.URL)
	target.ResponseTimeMS = time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			target.Status = StatusTimeout
			target.ErrorMessage = "Request timeout"
		} else {
			target.Status = StatusError
			target.ErrorMessage = err.Error()
		}
		return target
	}
	defer resp.Body.Close()

	target.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		target.Status = StatusAvailable
		if resp.ContentLength > 0 {
			target.ContentLength = resp.ContentLength
		}
		return target
	}

	target.Status = StatusUnavailable
	target.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	if !usedHead {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
		target.ResponseBody = string(body)
	}
	return target
}

// fetch tries HEAD, then GET when the gateway rejects HEAD or returns an
// error status whose body is worth capturing.
func (c *Checker) fetch(ctx context.Context, url string) (*http.Response, bool, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err == nil && resp.StatusCode == http.StatusOK {
		return resp, true, nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	getResp, getErr := c.do(ctx, http.MethodGet, url)
	if getErr != nil {
		if err != nil {
			return nil, false, err
		}
		return nil, false, getErr
	}
	return getResp, false, nil
}

func (c *Checker) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", userAgent)
	return c.client.Do(req)
}

func (c *Checker) probeURL(target Result) string {
	endpoint := c.providers[target.ProviderID].RetrievalEndpoint
	if target.Kind == KindCID {
		return fmt.Sprintf("%s/ipfs/%s", endpoint, target.CID)
	}
	return fmt.Sprintf("%s/piece/%s", endpoint, target.PieceCID)
}

// waitLimiter blocks until the leaky bucket admits one request, giving up
// on cancellation.
func (c *Checker) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for c.limiter.Add(1) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limiterWaitStep):
		}
	}
	return nil
}
