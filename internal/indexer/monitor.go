package indexer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// HistorySummary aggregates an indexer's recent execution history.
type HistorySummary struct {
	Runs          int
	Succeeded     int
	Failed        int
	InProgress    int
	TotalItems    int
	TotalFailures int
	// ErrorGroups counts distinct error messages across runs, so a
	// recurring skillset failure shows up once with a count instead of
	// drowning the report.
	ErrorGroups map[string]int
	LastSuccess time.Time
}

// Summarize rolls up the status' execution history.
func Summarize(st Status) HistorySummary {
	sum := HistorySummary{ErrorGroups: make(map[string]int)}
	for _, run := range st.ExecutionHistory {
		sum.Runs++
		switch run.Status {
		case "success":
			sum.Succeeded++
			if run.EndTime.After(sum.LastSuccess) {
				sum.LastSuccess = run.EndTime
			}
		case "inProgress":
			sum.InProgress++
		default:
			sum.Failed++
		}
		sum.TotalItems += run.ItemsProcessed
		sum.TotalFailures += run.ItemsFailed
		if run.ErrorMessage != "" {
			sum.ErrorGroups[run.ErrorMessage]++
		}
		for _, e := range run.Errors {
			sum.ErrorGroups[e.Message]++
		}
	}
	return sum
}

// Monitor fetches the indexer status and renders a text report of its
// recent run history.
func (c *Client) Monitor(ctx context.Context) (string, error) {
	st, err := c.GetStatus(ctx)
	if err != nil {
		return "", err
	}
	sum := Summarize(st)

	var b strings.Builder
	fmt.Fprintf(&b, "indexer %s: state=%s\n", st.Name, st.State)
	if st.LastResult != nil {
		b.WriteString("last run:\n")
		b.WriteString(FormatResult(*st.LastResult))
	}
	fmt.Fprintf(&b, "history: %d runs (%d ok, %d failed, %d in progress), %d items processed, %d item failures\n",
		sum.Runs, sum.Succeeded, sum.Failed, sum.InProgress, sum.TotalItems, sum.TotalFailures)
	if !sum.LastSuccess.IsZero() {
		fmt.Fprintf(&b, "last success: %s\n", sum.LastSuccess.Format(time.RFC3339))
	}
	if len(sum.ErrorGroups) > 0 {
		b.WriteString("recurring errors:\n")
		type group struct {
			msg   string
			count int
		}
		groups := make([]group, 0, len(sum.ErrorGroups))
		for msg, n := range sum.ErrorGroups {
			groups = append(groups, group{msg, n})
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].count > groups[j].count })
		for _, g := range groups {
			fmt.Fprintf(&b, "  %dx %s\n", g.count, g.msg)
		}
	}
	return b.String(), nil
}
