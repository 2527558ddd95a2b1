package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"grawlix/internal/book"
	"grawlix/internal/decrypt"
	"grawlix/internal/errs"
	"grawlix/internal/fetch"
	"grawlix/internal/logging"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newGroup(t *testing.T, fetcher fetch.Fetcher, opts ...fetch.GroupOption) *fetch.Group {
	t.Helper()
	opts = append([]fetch.GroupOption{fetch.WithSleeper(noSleep)}, opts...)
	return fetch.NewGroup(fetcher, logging.NewNop(), opts...)
}

func TestFetchAllPreservesSourceOrder(t *testing.T) {
	// The first unit responds slowest so completion order inverts source
	// order; results must still land in source order.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0":
			time.Sleep(120 * time.Millisecond)
		case "/1":
			time.Sleep(60 * time.Millisecond)
		}
		fmt.Fprintf(w, "unit %s", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer server.Close()

	units := []book.Unit{
		{URL: server.URL + "/0"},
		{URL: server.URL + "/1"},
		{URL: server.URL + "/2"},
	}
	group := newGroup(t, fetch.NewClient())
	results, err := group.FetchAll(context.Background(), units)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for i, want := range []string{"unit 0", "unit 1", "unit 2"} {
		if string(results[i]) != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want)
		}
	}
}

func TestFetchAllRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "eventually fine")
	}))
	defer server.Close()

	group := newGroup(t, fetch.NewClient(), fetch.WithRetry(3, time.Millisecond, time.Millisecond))
	results, err := group.FetchAll(context.Background(), []book.Unit{{URL: server.URL}})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if string(results[0]) != "eventually fine" {
		t.Errorf("unexpected body %q", results[0])
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestFetchAllSurfacesExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	group := newGroup(t, fetch.NewClient(), fetch.WithRetry(2, time.Millisecond, time.Millisecond))
	_, err := group.FetchAll(context.Background(), []book.Unit{{URL: server.URL}})
	if !errors.Is(err, errs.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
}

func TestFetchAllDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	group := newGroup(t, fetch.NewClient(), fetch.WithRetry(5, time.Millisecond, time.Millisecond))
	_, err := group.FetchAll(context.Background(), []book.Unit{{URL: server.URL}})
	if !errors.Is(err, errs.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

// blockingFetcher serves one failing unit immediately and parks every other
// request until its context is cancelled.
type blockingFetcher struct {
	failPath string
	started  sync.WaitGroup
}

func (f *blockingFetcher) Fetch(ctx context.Context, url string, _ map[string]string) (io.ReadCloser, error) {
	if strings.HasSuffix(url, f.failPath) {
		return nil, errs.Wrap(errs.ErrDownloadFailed, "fetch", "get", url, nil)
	}
	f.started.Done()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchAllCancelsPeersOnFatalError(t *testing.T) {
	fetcher := &blockingFetcher{failPath: "/fail"}
	fetcher.started.Add(1)

	group := newGroup(t, fetcher, fetch.WithConcurrency(2))
	done := make(chan error, 1)
	go func() {
		_, err := group.FetchAll(context.Background(), []book.Unit{
			{URL: "http://example.invalid/slow"},
			{URL: "http://example.invalid/fail"},
		})
		done <- err
	}()

	fetcher.started.Wait()
	select {
	case err := <-done:
		if !errors.Is(err, errs.ErrDownloadFailed) {
			t.Fatalf("expected ErrDownloadFailed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fatal unit error did not cancel in-flight peers")
	}
}

func TestFetchAllDecryptsPerUnit(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte("chapter content goes here")
	xored := make([]byte, len(plain))
	for i, b := range plain {
		xored[i] = b ^ key[i%len(key)]
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(xored)
	}))
	defer server.Close()

	group := newGroup(t, fetch.NewClient())
	results, err := group.FetchAll(context.Background(), []book.Unit{
		{URL: server.URL, Encryption: decrypt.XOR{Key: key}},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if !bytes.Equal(results[0], plain) {
		t.Errorf("decrypted body mismatch: %q", results[0])
	}
}

func TestFetchAllStreamsCTRUnits(t *testing.T) {
	scheme := decrypt.AESCTR{Key: []byte("sixteen byte key"), Nonce: []byte("12345678")}
	plain := bytes.Repeat([]byte("page data "), 50000)
	stream, err := decrypt.NewStream(scheme)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	ciphertext := stream.Next(plain)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ciphertext)
	}))
	defer server.Close()

	group := newGroup(t, fetch.NewClient())
	results, err := group.FetchAll(context.Background(), []book.Unit{{URL: server.URL, Encryption: scheme}})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if !bytes.Equal(results[0], plain) {
		t.Error("CTR streamed decryption mismatch")
	}
}

func TestFetchAllInlineUnits(t *testing.T) {
	group := newGroup(t, fetch.NewClient())
	results, err := group.FetchAll(context.Background(), []book.Unit{
		{Data: []byte("already local")},
	})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if string(results[0]) != "already local" {
		t.Errorf("inline unit mismatch: %q", results[0])
	}
}

func TestFetchAllEmitsProgressEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "x")
	}))
	defer server.Close()

	var mu sync.Mutex
	var events []fetch.Event
	sink := func(ev fetch.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	units := []book.Unit{{URL: server.URL}, {URL: server.URL}, {URL: server.URL}}
	group := newGroup(t, fetch.NewClient(), fetch.WithSink(sink))
	if _, err := group.FetchAll(context.Background(), units); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(units) {
		t.Fatalf("got %d events, want %d", len(events), len(units))
	}
	// Events may interleave, so check the high-water marks.
	var maxCompleted int
	var maxBytes int64
	for _, ev := range events {
		if ev.Total != 3 {
			t.Errorf("event total = %d, want 3", ev.Total)
		}
		if ev.Completed > maxCompleted {
			maxCompleted = ev.Completed
		}
		if ev.Bytes > maxBytes {
			maxBytes = ev.Bytes
		}
	}
	if maxCompleted != 3 {
		t.Errorf("max completed = %d, want 3", maxCompleted)
	}
	if maxBytes != 3 {
		t.Errorf("max bytes = %d, want 3", maxBytes)
	}
}
