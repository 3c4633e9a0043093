// Package source produces pages of breach records for a domain, either from
// pre-recorded fixture files or by paginating the live search service.
package source

import (
	"context"
	"io"

	"github.com/jonathan/breachcase/internal/records"
)

// Source yields pages in order. NextPage returns io.EOF once the sequence is
// finished; a Source is not restartable.
type Source interface {
	NextPage(ctx context.Context) (records.Page, error)
	Close() error
}

// Mode names how records are obtained.
type Mode string

const (
	ModeFixture Mode = "fixture"
	ModeLive    Mode = "live"
)

// Drain reads every remaining page from src, calling fn for each.
func Drain(ctx context.Context, src Source, fn func(records.Page) error) error {
	for {
		page, err := src.NextPage(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
	}
}
