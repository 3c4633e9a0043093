package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/fetch"
	"github.com/jonathan/breachcase/internal/records"
	"github.com/jonathan/breachcase/internal/retry"
)

type fakeSearcher struct {
	calls   []fetch.SearchRequest
	respond func(call int, req fetch.SearchRequest) (*fetch.SearchResponse, error)
}

func (f *fakeSearcher) Search(_ context.Context, req fetch.SearchRequest) (*fetch.SearchResponse, error) {
	f.calls = append(f.calls, req)
	return f.respond(len(f.calls), req)
}

func entries(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"email": fmt.Sprintf("user%d@example.com", i)}
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func testFetcher(maxAttempts int) *retry.Fetcher {
	f := retry.NewFetcher(maxAttempts, time.Millisecond, nil)
	f.Sleep = noSleep
	f.Jitter = func() time.Duration { return 0 }
	return f
}

func TestLiveSource_PaginatesUntilEmptyPage(t *testing.T) {
	searcher := &fakeSearcher{respond: func(call int, req fetch.SearchRequest) (*fetch.SearchResponse, error) {
		switch req.Page {
		case 1:
			return &fetch.SearchResponse{Entries: entries(3)}, nil
		case 2:
			return &fetch.SearchResponse{Entries: entries(2)}, nil
		default:
			return &fetch.SearchResponse{Entries: nil}, nil
		}
	}}

	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com", MaxPages: 20}, nil)

	var counts []int
	err := Drain(context.Background(), src, func(p records.Page) error {
		counts = append(counts, p.Count())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, counts)
	require.Len(t, searcher.calls, 3)
	assert.Equal(t, records.PageSize, searcher.calls[0].Size)
	assert.Equal(t, "example.com", searcher.calls[0].Domain)
	assert.Equal(t, 3, searcher.calls[2].Page)

	_, err = src.NextPage(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestLiveSource_ZeroCountFirstPage(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return &fetch.SearchResponse{}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com"}, nil)

	_, err := src.NextPage(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Len(t, searcher.calls, 1)
}

func TestLiveSource_MaxPagesGuard(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return &fetch.SearchResponse{Entries: entries(1)}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com", MaxPages: 2}, nil)

	pages := 0
	err := Drain(context.Background(), src, func(records.Page) error {
		pages++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Len(t, searcher.calls, 2)
}

func TestLiveSource_RetriesTransientThenSucceeds(t *testing.T) {
	searcher := &fakeSearcher{respond: func(call int, req fetch.SearchRequest) (*fetch.SearchResponse, error) {
		if call == 1 {
			return nil, &fetch.Error{StatusCode: http.StatusServiceUnavailable, Message: "HTTP status 503"}
		}
		if req.Page == 1 {
			return &fetch.SearchResponse{Entries: entries(4)}, nil
		}
		return &fetch.SearchResponse{}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com"}, nil)

	page, err := src.NextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, page.Count())
	assert.Equal(t, 2, src.Cursor())
}

func TestLiveSource_BudgetExhaustedIsTransient(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return nil, &fetch.Error{StatusCode: http.StatusTooManyRequests, Message: "HTTP status 429"}
	}}
	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com"}, nil)

	_, err := src.NextPage(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindTransient, failure.KindOf(err))
	assert.Contains(t, err.Error(), "retry budget exhausted after 3 attempts")
	assert.Len(t, searcher.calls, 3)
}

func TestLiveSource_AuthFailureIsFatal(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return nil, &fetch.Error{StatusCode: http.StatusUnauthorized, Message: "HTTP status 401"}
	}}
	src := NewLiveSource(searcher, testFetcher(5), LiveOptions{Domain: "example.com"}, nil)

	_, err := src.NextPage(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindAuthentication, failure.KindOf(err))
	assert.Len(t, searcher.calls, 1)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		kind records.OutcomeKind
		fk   failure.Kind
	}{
		{"forbidden", &fetch.Error{StatusCode: 403}, records.FatalFailure, failure.KindAuthentication},
		{"not found", &fetch.Error{StatusCode: 404}, records.FatalFailure, failure.KindNotFound},
		{"rate limited", &fetch.Error{StatusCode: 429}, records.RetryableFailure, failure.KindTransient},
		{"server error", &fetch.Error{StatusCode: 502}, records.RetryableFailure, failure.KindTransient},
		{"transport", &fetch.Error{Transport: true}, records.RetryableFailure, failure.KindTransient},
		{"bad request", &fetch.Error{StatusCode: 400}, records.FatalFailure, failure.KindUnknown},
		{"other", io.ErrUnexpectedEOF, records.FatalFailure, failure.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(ctx, tt.err)
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.fk, failure.KindOf(out.Err))
		})
	}
}

func TestClassify_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Classify(ctx, &fetch.Error{Transport: true})
	assert.Equal(t, records.FatalFailure, out.Kind)
	assert.Equal(t, failure.KindInterrupted, failure.KindOf(out.Err))
}

func TestLiveSource_AgainstHTTPServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		if page == 1 {
			_, _ = w.Write([]byte(`{"entries":[{"email":"a@example.com","id":7}],"total":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"entries":null}`))
	}))
	defer server.Close()

	opts := fetch.DefaultOptions()
	opts.Endpoint = server.URL
	client := fetch.NewClient(fetch.Credentials{User: "u", Key: "k"}, opts)
	src := NewLiveSource(client, testFetcher(2), LiveOptions{Domain: "example.com", ValidatePayload: true}, nil)

	var got []records.Record
	err := Drain(context.Background(), src, func(p records.Page) error {
		got = append(got, p.Records...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Get("id"))
}

func TestLiveSource_InvalidPayloadIsFatal(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return &fetch.SearchResponse{Raw: []byte(`{"total":1}`)}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(3), LiveOptions{Domain: "example.com", ValidatePayload: true}, nil)

	_, err := src.NextPage(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindUnknown, failure.KindOf(err))
}

func TestLiveSource_PageDelayFollowsDeliveredPage(t *testing.T) {
	const delay = 50 * time.Millisecond
	var delivered, requested time.Time
	searcher := &fakeSearcher{respond: func(call int, req fetch.SearchRequest) (*fetch.SearchResponse, error) {
		if req.Page == 1 {
			// Slower than the delay, so request-start spacing alone would not pause.
			time.Sleep(2 * delay)
			return &fetch.SearchResponse{Entries: entries(1)}, nil
		}
		requested = time.Now()
		return &fetch.SearchResponse{}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(1), LiveOptions{Domain: "example.com", PageDelay: delay}, nil)

	start := time.Now()
	_, err := src.NextPage(context.Background())
	require.NoError(t, err)
	delivered = time.Now()
	assert.Less(t, delivered.Sub(start), 2*delay+delay/2, "first request is not delayed")

	_, err = src.NextPage(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.GreaterOrEqual(t, requested.Sub(delivered), delay-5*time.Millisecond)
}

func TestLiveSource_PageDelayCanceled(t *testing.T) {
	searcher := &fakeSearcher{respond: func(int, fetch.SearchRequest) (*fetch.SearchResponse, error) {
		return &fetch.SearchResponse{Entries: entries(1)}, nil
	}}
	src := NewLiveSource(searcher, testFetcher(1), LiveOptions{Domain: "example.com", PageDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := src.NextPage(ctx)
	require.NoError(t, err)
	cancel()

	_, err = src.NextPage(ctx)
	require.Error(t, err)
	assert.Equal(t, failure.KindInterrupted, failure.KindOf(err))
	assert.Len(t, searcher.calls, 1)
}
