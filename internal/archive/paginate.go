package archive

import (
	"context"
	"fmt"
)

// Paginate folds every page of src into one row slice, in page order.
// It stops on the first page whose marker is Last. A positive limit caps the
// number of pages visited; reaching it on a non-terminal page returns
// ErrPageLimit. visit, when non-nil, sees each page after it is accumulated.
func Paginate(
	ctx context.Context,
	src PageSource,
	limit int,
	visit func(page int, res PageResult, total int),
) ([]Row, int, error) {
	acc := make([]Row, 0)
	for page := 1; ; page++ {
		res, err := src.Current(ctx)
		if err != nil {
			return acc, page - 1, fmt.Errorf("extract page %d: %w", page, err)
		}
		acc = append(acc, res.Rows...)
		if visit != nil {
			visit(page, res, len(acc))
		}
		if res.Marker.Last() {
			return acc, page, nil
		}
		if limit > 0 && page >= limit {
			return acc, page, fmt.Errorf("%w: stopped at %q of %q after %d pages",
				ErrPageLimit, res.Marker.Current, res.Marker.Total, page)
		}
		if err := src.Advance(ctx); err != nil {
			return acc, page, fmt.Errorf("advance past page %d: %w", page, err)
		}
	}
}
