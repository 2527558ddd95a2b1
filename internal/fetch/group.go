package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"grawlix/internal/book"
	"grawlix/internal/decrypt"
	"grawlix/internal/errs"
	"grawlix/internal/logging"
)

const (
	defaultConcurrency   = 4
	defaultRetryAttempts = 3
	defaultRetryBase     = time.Second
	defaultRetryMax      = 15 * time.Second

	readChunkSize = 64 * 1024
)

// Event reports completion of one unit.
type Event struct {
	UnitIndex int
	Completed int
	Total     int
	Bytes     int64
}

// Sink receives progress events. Delivery is fire-and-forget: a slow sink
// loses events instead of stalling transfers.
type Sink func(Event)

// Group fans out unit fetches with a concurrency bound and reassembles the
// plaintext results in source order.
type Group struct {
	fetcher Fetcher
	logger  *slog.Logger

	concurrency   int
	retryAttempts int
	retryBase     time.Duration
	retryMax      time.Duration
	sink          Sink
	sleep         func(context.Context, time.Duration) error
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithConcurrency bounds simultaneous fetches.
func WithConcurrency(n int) GroupOption {
	return func(g *Group) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRetry overrides the per-unit retry budget and backoff delays.
func WithRetry(attempts int, base, max time.Duration) GroupOption {
	return func(g *Group) {
		if attempts > 0 {
			g.retryAttempts = attempts
		}
		if base > 0 {
			g.retryBase = base
		}
		if max > 0 {
			g.retryMax = max
		}
	}
}

// WithSink installs a progress sink.
func WithSink(sink Sink) GroupOption {
	return func(g *Group) { g.sink = sink }
}

// WithSleeper overrides how retry sleeps are performed (used in tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) GroupOption {
	return func(g *Group) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// NewGroup builds a fetch group over the supplied capability.
func NewGroup(fetcher Fetcher, logger *slog.Logger, opts ...GroupOption) *Group {
	g := &Group{
		fetcher:       fetcher,
		logger:        logging.NewComponentLogger(logger, "fetch"),
		concurrency:   defaultConcurrency,
		retryAttempts: defaultRetryAttempts,
		retryBase:     defaultRetryBase,
		retryMax:      defaultRetryMax,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FetchAll retrieves every unit and returns plaintext bytes in source order
// regardless of completion order. The first fatal unit error cancels the
// remaining in-flight fetches and fails the whole call; no partial result is
// ever returned.
func (g *Group) FetchAll(ctx context.Context, units []book.Unit) ([][]byte, error) {
	if len(units) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, len(units))
	var drained sync.WaitGroup
	if g.sink != nil {
		drained.Add(1)
		go func() {
			defer drained.Done()
			for ev := range events {
				g.sink(ev)
			}
		}()
	}

	results := make([][]byte, len(units))
	sem := make(chan struct{}, g.concurrency)
	errc := make(chan error, len(units))
	var wg sync.WaitGroup
	var completed atomic.Int64
	var totalBytes atomic.Int64

	for i, unit := range units {
		wg.Add(1)
		go func(index int, unit book.Unit) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			data, err := g.fetchUnit(ctx, index, unit)
			if err != nil {
				select {
				case errc <- err:
					cancel()
				default:
				}
				return
			}
			results[index] = data
			done := int(completed.Add(1))
			bytes := totalBytes.Add(int64(len(data)))
			select {
			case events <- Event{UnitIndex: index, Completed: done, Total: len(units), Bytes: bytes}:
			default:
			}
		}(i, unit)
	}

	wg.Wait()
	close(events)
	drained.Wait()

	select {
	case err := <-errc:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchOne retrieves and decrypts a single unit.
func (g *Group) FetchOne(ctx context.Context, unit book.Unit) ([]byte, error) {
	return g.fetchUnit(ctx, 0, unit)
}

func (g *Group) fetchUnit(ctx context.Context, index int, unit book.Unit) ([]byte, error) {
	if unit.Inline() {
		plaintext, err := decrypt.Decrypt(unit.Encryption, unit.Data)
		if err != nil {
			return nil, errs.Wrap(errs.ErrDecryption, "fetch", "decrypt inline unit", fmt.Sprintf("unit %d", index), err)
		}
		return plaintext, nil
	}

	var lastErr error
	for attempt := 1; attempt <= g.retryAttempts; attempt++ {
		data, err := g.fetchOnce(ctx, unit)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errs.Transient(err) {
			return nil, err
		}
		if attempt == g.retryAttempts {
			break
		}
		delay := g.backoff(attempt)
		g.logger.Warn("transient fetch failure, retrying",
			logging.Int("unit", index),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := g.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, errs.Wrap(errs.ErrDownloadFailed, "fetch", "unit", fmt.Sprintf("unit %d failed after %d attempts", index, g.retryAttempts), lastErr)
}

// fetchOnce streams one unit and decrypts it. AES-CTR decryption happens
// chunk by chunk while reading; other schemes decrypt once the unit is
// fully received.
func (g *Group) fetchOnce(ctx context.Context, unit book.Unit) ([]byte, error) {
	body, err := g.fetcher.Fetch(ctx, unit.URL, unit.Headers)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if ctr, ok := unit.Encryption.(decrypt.AESCTR); ok {
		return readCTR(ctr, body)
	}

	ciphertext, err := io.ReadAll(body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrNetwork, "fetch", "read body", unit.URL, err)
	}
	plaintext, err := decrypt.Decrypt(unit.Encryption, ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func readCTR(scheme decrypt.AESCTR, body io.Reader) ([]byte, error) {
	stream, err := decrypt.NewStream(scheme)
	if err != nil {
		return nil, err
	}
	var plaintext []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			plaintext = append(plaintext, stream.Next(chunk[:n])...)
		}
		if err == io.EOF {
			return plaintext, nil
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrNetwork, "fetch", "read body", "stream read", err)
		}
	}
}

func (g *Group) backoff(attempt int) time.Duration {
	delay := g.retryBase << (attempt - 1)
	if delay > g.retryMax {
		delay = g.retryMax
	}
	return delay
}
