package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BranchError is the failure of one entry of a batch insertion
type BranchError struct {
	Index int
	ID    string
	Err   error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// BatchError aggregates the failed branches of a batch, nothing was inserted
type BatchError struct {
	Total  int
	Failed []*BranchError
	err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d entries failed: %v", len(e.Failed), e.Total, e.err)
}

func (e *BatchError) Unwrap() error {
	return e.err
}

// gather runs fn for every index and returns the results in index order,
// independent of completion order. All branches run to completion, the
// returned error is a *BatchError listing every failed branch.
func gather(ctx context.Context, ids []string, concurrency int, timeout time.Duration, fn func(ctx context.Context, i int) (string, error)) ([]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]string, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	batchErr := &BatchError{Total: len(ids)}
	for i, err := range errs {
		if err == nil {
			continue
		}
		branchErr := &BranchError{Index: i, ID: ids[i], Err: err}
		batchErr.Failed = append(batchErr.Failed, branchErr)
		batchErr.err = multierr.Append(batchErr.err, branchErr)
	}
	if len(batchErr.Failed) > 0 {
		return nil, batchErr
	}
	return results, nil
}
