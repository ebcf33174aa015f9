package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/issuestats/pkg/github"
	"github.com/codeGROOVE-dev/issuestats/pkg/report"
	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

// Console section titles, matching the report the tool has always printed.
const (
	titleDefault  = "GITHUB ISSUE RESOLUTION TIME ANALYSIS"
	titleMembers  = "REPOSITORY MEMBER ISSUES - RESOLUTION TIME ANALYSIS"
	titleExternal = "EXTERNAL USER ISSUES - RESOLUTION TIME ANALYSIS"
)

var divider = strings.Repeat("=", 60)

// group is one analysis bucket: its issues plus the console title and
// report label they render under.
type group struct {
	title  string
	label  string
	issues []stats.Issue
}

// analyze runs the one-shot pipeline: fetch, categorize, summarize, render.
func analyze(ctx context.Context, cfg config, token string) error {
	client := github.NewClient(token)

	fmt.Printf("Analyzing issues for repository: %s\n", cfg.repo)
	fmt.Printf("Fetching %s issues...\n", cfg.state)

	issues, err := client.Issues(ctx, cfg.repo, cfg.state, cfg.perPage, func(page, count int) {
		fmt.Printf("Fetching page %d... found %d issues\n", page, count)
	})
	if err != nil {
		return err
	}
	fmt.Printf("\nTotal issues fetched: %d\n", len(issues))

	if cfg.state == "open" {
		fmt.Println("Analysis of resolution times is only available for closed issues.")
		return nil
	}

	if !cfg.includeUnresolved {
		resolved, unresolved := stats.SplitByResolution(issues)
		if len(unresolved) > 0 {
			fmt.Printf("Excluding %d issues closed as not planned (use --include-unresolved to keep them)\n", len(unresolved))
			issues = resolved
		}
	}

	var collabs stats.Collaborators
	if cfg.excludeMembers || cfg.separateMembers || cfg.firstResponse {
		fmt.Println("Fetching repository collaborators...")
		collabs, err = client.Collaborators(ctx, cfg.repo)
		if err != nil {
			return err
		}
		fmt.Printf("Found %d collaborators\n", len(collabs))
	}

	groups := buildGroups(cfg, issues, collabs)

	resolution := make([]report.Category, 0, len(groups))
	for _, g := range groups {
		hours := stats.ResolutionDurations(g.issues)
		s := stats.Summarize(hours)
		printSummary(g.title, s, false)
		resolution = append(resolution, report.Category{Label: g.label, Hours: hours, Summary: s})
	}

	var firstResponse []report.Category
	if cfg.firstResponse {
		firstResponse, err = collectFirstResponses(ctx, cfg, client, groups, collabs)
		if err != nil {
			return err
		}
	}

	// A cancellation that landed after the last fetch must still suppress
	// report files.
	if err := ctx.Err(); err != nil {
		return err
	}

	if cfg.htmlPath != "" {
		if err := writeHTMLReport(cfg.htmlPath, cfg.repo, resolution, firstResponse); err != nil {
			fmt.Printf("Error generating HTML report: %s\n", err)
		} else {
			fmt.Printf("\n\U0001F4CA HTML report generated: %s\n", cfg.htmlPath)
		}
	}
	if cfg.csvPrefix != "" {
		paths, err := report.WriteCSVs(cfg.csvPrefix, slices.Concat(resolution, firstResponse))
		if err != nil {
			fmt.Printf("Error generating CSV exports: %s\n", err)
		} else {
			fmt.Printf("\U0001F4C4 CSV exports generated: %s\n", strings.Join(paths, ", "))
		}
	}
	return nil
}

// buildGroups assembles the analysis buckets. --exclude-members wins over
// --separate-members when both are set.
func buildGroups(cfg config, issues []stats.Issue, collabs stats.Collaborators) []group {
	switch {
	case cfg.excludeMembers:
		members, external := stats.SplitByMembership(issues, collabs)
		fmt.Printf("\nAnalyzing %d external user issues (excluding %d member issues)\n", len(external), len(members))
		return []group{{title: titleExternal, label: "External Users", issues: external}}
	case cfg.separateMembers:
		members, external := stats.SplitByMembership(issues, collabs)
		fmt.Printf("\nMember issues: %d\n", len(members))
		fmt.Printf("External issues: %d\n", len(external))
		return []group{
			{title: titleMembers, label: "Repository Members", issues: members},
			{title: titleExternal, label: "External Users", issues: external},
		}
	default:
		return []group{{title: titleDefault, label: "All Issues", issues: issues}}
	}
}

func collectFirstResponses(ctx context.Context, cfg config, client *github.Client, groups []group, collabs stats.Collaborators) ([]report.Category, error) {
	source := &github.RepoComments{Client: client, Repo: cfg.repo}
	rules := stats.DefaultBotRules()

	categories := make([]report.Category, 0, len(groups))
	for _, g := range groups {
		fmt.Printf("\nAnalyzing first responses for %d issues...\n", len(g.issues))
		hours, err := stats.CollectFirstResponses(ctx, &stats.FirstResponseRequest{
			Source:        source,
			Issues:        g.issues,
			Collaborators: collabs,
			Rules:         rules,
			Concurrency:   cfg.concurrency,
			Progress: func(done, total int) {
				fmt.Printf("\rFetched comments for %d/%d issues", done, total)
			},
		})
		if err != nil {
			return nil, err
		}
		if len(g.issues) > 0 {
			fmt.Println()
		}

		s := stats.Summarize(hours)
		printSummary(firstResponseTitle(g.title), s, true)
		categories = append(categories, report.Category{
			Label:   g.label + " (First Response)",
			Hours:   hours,
			Summary: s,
		})
	}
	return categories, nil
}

// firstResponseTitle rewrites a resolution title for the first-response
// section.
func firstResponseTitle(title string) string {
	return strings.Replace(title, "RESOLUTION TIME", "FIRST RESPONSE TIME", 1)
}

// printSummary renders one statistics block in the fixed console format.
func printSummary(title string, s *stats.Summary, firstResponse bool) {
	if s == nil {
		if firstResponse {
			fmt.Println("No first responses found to analyze.")
		} else {
			fmt.Println("No closed issues found to analyze.")
		}
		return
	}

	heading := "RESOLUTION TIME STATISTICS (in days):"
	if firstResponse {
		heading = "FIRST RESPONSE TIME STATISTICS (in days):"
	}

	fmt.Printf("\n%s\n", divider)
	fmt.Println(title)
	fmt.Println(divider)
	fmt.Printf("Total Issues Analyzed: %s\n\n", formatWithCommas(s.Count))
	fmt.Println(heading)
	fmt.Printf("  Mean:     %.2f\n", s.MeanDays)
	fmt.Printf("  Median:   %.2f\n", s.MedianDays)
	fmt.Printf("  Min:      %.2f\n", s.MinDays)
	fmt.Printf("  Max:      %.2f\n", s.MaxDays)
	fmt.Printf("  Std Dev:  %.2f\n\n", s.StdDevDays)
	fmt.Println("PERCENTILES (in days):")
	fmt.Printf("  25th:     %.2f\n", s.P25Days)
	fmt.Printf("  75th:     %.2f\n", s.P75Days)
	fmt.Printf("  90th:     %.2f\n", s.P90Days)
	fmt.Printf("  95th:     %.2f\n", s.P95Days)
	fmt.Println(divider)
}

func writeHTMLReport(path, repo string, resolution, firstResponse []report.Category) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteHTML(f, repo, resolution, firstResponse); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatWithCommas renders a count with thousands separators.
func formatWithCommas(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
