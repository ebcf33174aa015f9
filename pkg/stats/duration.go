package stats

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultConcurrency is the number of comment fetches kept in flight during
// first-response collection when the caller does not set one.
const DefaultConcurrency = 4

// ResolutionHours returns the creation-to-close duration of an issue in
// hours. ok is false when the issue has no close timestamp.
func ResolutionHours(iss Issue) (hours float64, ok bool) {
	if iss.ClosedAt == nil {
		return 0, false
	}
	return iss.ClosedAt.Sub(iss.CreatedAt).Hours(), true
}

// ResolutionDurations collects the resolution durations of the closed
// issues, in hours, preserving input order. Open issues contribute nothing.
func ResolutionDurations(issues []Issue) []float64 {
	var durations []float64
	for _, iss := range issues {
		if hours, ok := ResolutionHours(iss); ok {
			durations = append(durations, hours)
		}
	}
	return durations
}

// FirstResponseHours returns the hours between an issue's creation and its
// first qualifying comment: one authored by a collaborator who is not a
// bot, created at or after the issue itself. Comments must be in ascending
// creation order. ok is false when no comment qualifies.
func FirstResponseHours(iss Issue, comments []Comment, collabs Collaborators, rules BotRules) (hours float64, ok bool) {
	for _, c := range comments {
		if rules.IsBot(c.Author) || !IsMember(c.Author, collabs) {
			continue
		}
		if c.CreatedAt.Before(iss.CreatedAt) {
			continue
		}
		return c.CreatedAt.Sub(iss.CreatedAt).Hours(), true
	}
	return 0, false
}

// CommentSource supplies the comments of one issue in ascending creation
// order. Implemented by the GitHub fetch layer; stubbed in tests.
type CommentSource interface {
	IssueComments(ctx context.Context, number int) ([]Comment, error)
}

// ProgressFunc is called after each issue in a first-response batch has
// been processed.
// Parameters: done is the number of issues processed so far, total is the
// batch size. Calls are serialized and done increases monotonically.
type ProgressFunc func(done, total int)

// FirstResponseRequest carries the inputs for CollectFirstResponses.
type FirstResponseRequest struct {
	Source        CommentSource
	Logger        *slog.Logger // defaults to slog.Default()
	Progress      ProgressFunc // optional
	Issues        []Issue
	Collaborators Collaborators
	Rules         BotRules
	Concurrency   int // fetches in flight, DefaultConcurrency if <= 0
}

// CollectFirstResponses computes first-response durations for a batch of
// issues, fetching each issue's comments through req.Source with bounded
// concurrency.
//
// Samples are ordered by the issues' positions in req.Issues regardless of
// fetch completion order. An issue whose comment fetch fails is skipped
// with a warning; a canceled context aborts the whole batch.
//
// Parameters:
//   - ctx: context governing the comment fetches
//   - req: batch inputs; Source and Issues are required
//
// Returns:
//   - Duration samples in hours, one per issue with a qualifying response
func CollectFirstResponses(ctx context.Context, req *FirstResponseRequest) ([]float64, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	total := len(req.Issues)
	if total == 0 {
		return nil, nil
	}

	// Each worker writes only its own slot; order falls out of the index.
	type slot struct {
		hours float64
		ok    bool
	}
	results := make([]slot, total)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	sem := make(chan struct{}, concurrency)

	for i := range req.Issues {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			iss := req.Issues[idx]
			comments, err := req.Source.IssueComments(ctx, iss.Number)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					logger.Warn("Failed to fetch comments, skipping issue",
						"issue", iss.Number, "error", err)
				}
			default:
				if hours, ok := FirstResponseHours(iss, comments, req.Collaborators, req.Rules); ok {
					results[idx] = slot{hours: hours, ok: true}
				}
			}

			mu.Lock()
			done++
			if req.Progress != nil {
				req.Progress(done, total)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := make([]float64, 0, total)
	for _, r := range results {
		if r.ok {
			samples = append(samples, r.hours)
		}
	}
	return samples, nil
}
