package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

// ProgressCallback is called during issue fetching to report progress.
// Parameters: page is the page number just processed, count the number of
// issues collected so far.
type ProgressCallback func(page, count int)

// issueRecord is the wire form of an issue in the REST listing. Timestamps
// stay strings so one malformed record cannot fail the whole page decode.
type issueRecord struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	State       string  `json:"state"`
	StateReason *string `json:"state_reason"`
	CreatedAt   string  `json:"created_at"`
	ClosedAt    *string `json:"closed_at"`
	User        *struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
	// Present only when the record is a pull request; the listing endpoint
	// returns both.
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// commentRecord is the wire form of an issue comment.
type commentRecord struct {
	CreatedAt string `json:"created_at"`
	User      *struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
}

// Issues fetches a repository's issues from the paginated REST listing,
// excluding pull requests. Records with an unparsable creation timestamp
// are skipped with a warning; an unparsable close timestamp degrades to
// "never closed" with a warning.
//
// A page that still fails after retries truncates the fetch: the issues
// collected so far are returned with a nil error and a warning is logged.
// Context cancellation aborts the fetch with the context error instead.
//
// Parameters:
//   - ctx: context for the API calls
//   - repo: repository slug in owner/name form
//   - state: issue state filter ("open", "closed", or "all")
//   - perPage: page size, clamped to 1..100
//   - progress: optional callback invoked after each page (can be nil)
//
// Returns:
//   - Issues in the API's created-descending order
func (c *Client) Issues(ctx context.Context, repo, state string, perPage int, progress ProgressCallback) ([]stats.Issue, error) {
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}

	params := url.Values{}
	params.Set("state", state)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("sort", "created")
	params.Set("direction", "desc")
	pageURL := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repo, params.Encode())

	var issues []stats.Issue
	page := 0
	for pageURL != "" {
		page++
		var records []issueRecord
		next, err := c.getJSON(ctx, pageURL, &records)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Issue fetch failed, returning partial results",
				"repo", repo,
				"page", page,
				"fetched", len(issues),
				"error", err)
			return issues, nil
		}

		prs := 0
		for _, rec := range records {
			if rec.PullRequest != nil {
				prs++
				continue
			}
			iss, ok := c.convertIssue(rec)
			if !ok {
				continue
			}
			issues = append(issues, iss)
		}

		c.logger.Info("Fetched issue page",
			"repo", repo,
			"page", page,
			"records", len(records),
			"pull_requests", prs,
			"total_issues", len(issues))
		if progress != nil {
			progress(page, len(issues))
		}
		pageURL = next
	}
	return issues, nil
}

// convertIssue parses a wire record's timestamps. ok is false when the
// creation timestamp is unusable and the record must be dropped.
func (c *Client) convertIssue(rec issueRecord) (stats.Issue, bool) {
	created, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		c.logger.Warn("Skipping issue with malformed creation timestamp",
			"issue", rec.Number,
			"created_at", rec.CreatedAt,
			"error", err)
		return stats.Issue{}, false
	}

	iss := stats.Issue{
		Number:    rec.Number,
		Title:     rec.Title,
		State:     rec.State,
		CreatedAt: created,
	}
	if rec.StateReason != nil {
		iss.StateReason = *rec.StateReason
	}
	if rec.User != nil {
		iss.Author = stats.Actor{Login: rec.User.Login, Type: rec.User.Type}
	}
	if rec.ClosedAt != nil {
		closed, err := time.Parse(time.RFC3339, *rec.ClosedAt)
		if err != nil {
			c.logger.Warn("Ignoring malformed close timestamp",
				"issue", rec.Number,
				"closed_at", *rec.ClosedAt,
				"error", err)
		} else {
			iss.ClosedAt = &closed
		}
	}
	return iss, true
}

// IssueComments fetches all comments of one issue in ascending creation
// order, the API default. Unlike Issues, a failed page is returned as an
// error: the caller decides whether to skip the issue.
func (c *Client) IssueComments(ctx context.Context, repo string, number int) ([]stats.Comment, error) {
	pageURL := fmt.Sprintf("%s/repos/%s/issues/%d/comments?per_page=%d", c.baseURL, repo, number, maxPerPage)

	var comments []stats.Comment
	for pageURL != "" {
		var records []commentRecord
		next, err := c.getJSON(ctx, pageURL, &records)
		if err != nil {
			return nil, fmt.Errorf("fetch comments for issue #%d: %w", number, err)
		}
		for _, rec := range records {
			created, err := time.Parse(time.RFC3339, rec.CreatedAt)
			if err != nil {
				c.logger.Warn("Skipping comment with malformed timestamp",
					"issue", number,
					"created_at", rec.CreatedAt,
					"error", err)
				continue
			}
			comment := stats.Comment{CreatedAt: created}
			if rec.User != nil {
				comment.Author = stats.Actor{Login: rec.User.Login, Type: rec.User.Type}
			}
			comments = append(comments, comment)
		}
		pageURL = next
	}
	return comments, nil
}

// Collaborators fetches the set of logins with push access. Requires a
// token with push access itself; on failure the set collected so far is
// returned with a warning, since membership analysis can degrade rather
// than abort.
func (c *Client) Collaborators(ctx context.Context, repo string) (stats.Collaborators, error) {
	pageURL := fmt.Sprintf("%s/repos/%s/collaborators?per_page=%d", c.baseURL, repo, maxPerPage)

	collabs := make(stats.Collaborators)
	for pageURL != "" {
		var records []struct {
			Login string `json:"login"`
		}
		next, err := c.getJSON(ctx, pageURL, &records)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Could not fetch collaborators, membership analysis may be incomplete",
				"repo", repo,
				"fetched", len(collabs),
				"error", err)
			return collabs, nil
		}
		for _, rec := range records {
			collabs[rec.Login] = true
		}
		pageURL = next
	}

	c.logger.Info("Fetched collaborators", "repo", repo, "count", len(collabs))
	return collabs, nil
}

// RepoComments binds a client to one repository as a stats.CommentSource
// for first-response collection.
type RepoComments struct {
	Client *Client
	Repo   string
}

// IssueComments implements stats.CommentSource.
func (r RepoComments) IssueComments(ctx context.Context, number int) ([]stats.Comment, error) {
	return r.Client.IssueComments(ctx, r.Repo, number)
}
