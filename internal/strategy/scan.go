package strategy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"limitup/internal/domain"
)

// DetectAll runs d over every series on up to workers goroutines and merges
// the results into one stream ordered by date, then by symbol. The order
// never depends on which worker finishes first.
func DetectAll(ctx context.Context, d Detector, series []domain.Series, workers int) ([]domain.Signal, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([][]domain.Signal, len(series))
	sem := make(chan struct{}, workers)

	g, gctx := errgroup.WithContext(ctx)

	for i := range series {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if err := gctx.Err(); err != nil {
				return err
			}

			results[i] = d.Detect(series[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var signals []domain.Signal
	for _, r := range results {
		signals = append(signals, r...)
	}
	domain.SortSignals(signals)
	return signals, nil
}
