package diffit

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"diffit/internal/model"
)

// BatchItem is the outcome of one request of a batch submission.
type BatchItem struct {
	Name     string          `json:"name"`
	Browser  string          `json:"browser,omitempty"`
	Viewport string          `json:"viewport,omitempty"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchResult summarizes a batch submission. Items keep request order.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Submitted int         `json:"submitted"`
	Failed    int         `json:"failed"`
}

// SubmitBatch runs many snapshots through the pipeline with at most
// Options.Workers in flight. A failing item never stops the others; its
// error is reported in the result.
func (s *Service) SubmitBatch(ctx context.Context, reqs []SubmitSnapshotRequest) *BatchResult {
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	var mu sync.Mutex
	failed := 0

	for i, req := range reqs {
		items[i] = BatchItem{Name: req.Name, Browser: req.Browser, Viewport: req.Viewport}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Error = err.Error()
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			snap, err := s.SubmitSnapshot(ctx, req)
			items[i].Snapshot = snap
			if err != nil {
				items[i].Error = err.Error()
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("batch submitted", "snapshots", len(reqs), "failed", failed)
	return &BatchResult{Items: items, Submitted: len(reqs) - failed, Failed: failed}
}
