// Package numbering allocates human-readable document numbers, one monotonic
// sequence per document series and calendar month.
package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// Series identifies a document number series.
type Series string

const (
	// SeriesPR numbers purchase requisitions.
	SeriesPR Series = "PR"
	// SeriesGRN numbers goods receiving notes.
	SeriesGRN Series = "GRN"
	// SeriesSR numbers store requisitions.
	SeriesSR Series = "SR"
	// SeriesSIV numbers store issue vouchers.
	SeriesSIV Series = "SIV"
)

// ErrUnknownSeries indicates an unsupported series.
var ErrUnknownSeries = fmt.Errorf("%w: unknown document series", shared.ErrValidation)

// Allocator reserves the next sequence value for a (series, period) pair. The
// reservation must be atomic under concurrent callers; implementations run
// inside the caller's document transaction.
type Allocator interface {
	NextSeq(ctx context.Context, series, period string) (int64, error)
}

// Next returns the next document number for series at the given date, formatted
// as <SERIES>-<YYYYMM>-<NNNN>. The sequence restarts at 0001 each calendar
// month per series.
func Next(ctx context.Context, alloc Allocator, series Series, date time.Time) (string, error) {
	switch series {
	case SeriesPR, SeriesGRN, SeriesSR, SeriesSIV:
	default:
		return "", ErrUnknownSeries
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	period := date.Format("200601")
	seq, err := alloc.NextSeq(ctx, string(series), period)
	if err != nil {
		return "", shared.WrapConflict(err)
	}
	return fmt.Sprintf("%s-%s-%04d", series, period, seq), nil
}
