package source

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/fetch"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
	"github.com/jonathan/breachcase/internal/retry"
	"github.com/jonathan/breachcase/internal/schemas"
)

// Searcher issues one search request.
type Searcher interface {
	Search(ctx context.Context, req fetch.SearchRequest) (*fetch.SearchResponse, error)
}

// LiveOptions configures pagination against the search service.
type LiveOptions struct {
	Domain string
	// MaxPages is a safety cap; reaching it ends the sequence without error.
	MaxPages int
	// PageDelay is the pause between a delivered page and the next request.
	PageDelay time.Duration
	Expand    bool
	// ValidatePayload checks each response against the search schema.
	ValidatePayload bool
}

// LiveSource paginates the search service starting at page 1.
type LiveSource struct {
	searcher Searcher
	fetcher  *retry.Fetcher
	pacer    *rate.Limiter
	opts     LiveOptions
	cursor   int
	done     bool
	logger   *zap.SugaredLogger
}

// NewLiveSource builds a live source. Each page fetch goes through fetcher.
func NewLiveSource(searcher Searcher, fetcher *retry.Fetcher, opts LiveOptions, logger *zap.SugaredLogger) *LiveSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LiveSource{
		searcher: searcher,
		fetcher:  fetcher,
		opts:     opts,
		cursor:   1,
		logger:   logger,
	}
}

// Cursor returns the page number the next request will ask for.
func (s *LiveSource) Cursor() int {
	return s.cursor
}

// NextPage fetches the page at the cursor. The sequence ends at the first
// empty page or once the cursor passes MaxPages.
func (s *LiveSource) NextPage(ctx context.Context) (records.Page, error) {
	if s.done {
		return records.Page{}, io.EOF
	}
	if s.opts.MaxPages > 0 && s.cursor > s.opts.MaxPages {
		s.done = true
		s.logger.Infow("Max pages guard reached", logging.FieldMaxPages, s.opts.MaxPages)
		return records.Page{}, io.EOF
	}

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			s.done = true
			return records.Page{}, failure.Wrap(failure.KindInterrupted, "inter-page delay", err)
		}
	}

	page := s.cursor
	outcome, attempts := s.fetcher.Attempt(ctx, func(ctx context.Context) records.Outcome {
		return s.fetchOnce(ctx, page)
	})

	switch outcome.Kind {
	case records.Success:
		if outcome.Page.Empty() {
			s.done = true
			s.logger.Infow("Empty page, pagination finished", logging.FieldPage, page)
			return records.Page{}, io.EOF
		}
		s.cursor++
		s.pace()
		s.logger.Infow("Fetched page", logging.FieldPage, page, logging.FieldCount, outcome.Page.Count(), logging.FieldAttempt, attempts)
		return outcome.Page, nil
	case records.RetryableFailure:
		s.done = true
		return records.Page{}, failure.New(failure.KindTransient, "fetch page",
			"page %d: retry budget exhausted after %d attempts: %v", page, attempts, outcome.Err)
	default:
		s.done = true
		return records.Page{}, outcome.Err
	}
}

// pace restarts the inter-page delay from now, so the next request waits the
// full PageDelay however long the delivered page took.
func (s *LiveSource) pace() {
	if s.opts.PageDelay <= 0 {
		return
	}
	s.pacer = rate.NewLimiter(rate.Every(s.opts.PageDelay), 1)
	s.pacer.Allow()
}

func (s *LiveSource) fetchOnce(ctx context.Context, page int) records.Outcome {
	resp, err := s.searcher.Search(ctx, fetch.SearchRequest{
		Domain: s.opts.Domain,
		Page:   page,
		Size:   records.PageSize,
		Expand: s.opts.Expand,
	})
	if err != nil {
		return Classify(ctx, err)
	}

	if s.opts.ValidatePayload && resp.Raw != nil {
		if err := schemas.ValidateSearchPayload(resp.Raw); err != nil {
			return records.Fatal(failure.Wrap(failure.KindUnknown, "validate page", err))
		}
	}

	return records.Succeeded(records.Page{Number: page, Records: records.FromEntries(resp.Entries)})
}

// Classify maps a search error onto a fetch outcome. Auth and not-found are
// fatal, rate limits, server errors and transport failures are retryable, and
// anything else is fatal.
func Classify(ctx context.Context, err error) records.Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return records.Fatal(failure.Wrap(failure.KindInterrupted, "fetch page", ctxErr))
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		if fe.Transport {
			return records.Retryable(failure.Wrap(failure.KindTransient, "fetch page", err))
		}
		switch code := fe.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return records.Fatal(failure.Wrap(failure.KindAuthentication, "fetch page", err))
		case code == http.StatusNotFound:
			return records.Fatal(failure.Wrap(failure.KindNotFound, "fetch page", err))
		case code == http.StatusTooManyRequests || code >= 500:
			return records.Retryable(failure.Wrap(failure.KindTransient, "fetch page", err))
		default:
			return records.Fatal(failure.Wrap(failure.KindUnknown, "fetch page", err))
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return records.Retryable(failure.Wrap(failure.KindTransient, "fetch page", err))
	}
	return records.Fatal(failure.Wrap(failure.KindUnknown, "fetch page", err))
}

// Close releases nothing; each request closes its own response.
func (s *LiveSource) Close() error {
	return nil
}
