package rag

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/chatbi/chatbi/internal/knowledge"
)

// BatchError is one failed item in a batch ingestion.
type BatchError struct {
	Index    int
	Question string
	Err      string
}

// BatchReport summarizes a batch ingestion run.
type BatchReport struct {
	ID     string
	Added  int
	Failed int
	Errors []BatchError
}

type batchJob struct {
	index int
	item  knowledge.Item
}

type batchOutcome struct {
	index    int
	question string
	err      error
}

// BatchAdd ingests items through a bounded worker pool. Each item is
// guard-validated and written independently; one bad item never aborts
// the batch. The report carries a unique run ID and per-item failures.
//
// Workers only send outcomes; the calling goroutine does all the
// counting, so the report needs no shared state.
func (s *System) BatchAdd(ctx context.Context, items []knowledge.Item) BatchReport {
	report := BatchReport{ID: uuid.NewString()}
	if len(items) == 0 {
		return report
	}

	workers := s.cfg.BatchWorkers
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan batchJob)
	outcomes := make(chan batchOutcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				_, err := s.retriever.AddItem(ctx, job.item)
				outcomes <- batchOutcome{index: job.index, question: job.item.Question, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- batchJob{index: i, item: item}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for outcome := range outcomes {
		if outcome.err != nil {
			report.Failed++
			report.Errors = append(report.Errors, BatchError{
				Index:    outcome.index,
				Question: outcome.question,
				Err:      outcome.err.Error(),
			})
		} else {
			report.Added++
		}
	}

	s.logger.Info("batch ingestion finished",
		"batch_id", report.ID,
		"added", report.Added,
		"failed", report.Failed)
	return report
}
