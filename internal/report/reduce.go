// Package report reduces per-target results into the single severity and
// summary line a monitoring framework expects from a check.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

// AllOK is printed when every target is OK.
const AllOK = ":)"

// Reduce computes the run outcome. It does not modify results.
func Reduce(results []model.ParsedResult) model.Outcome {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b model.ParsedResult) int {
		return cmp.Or(
			cmp.Compare(a.Job.Target, b.Job.Target),
			cmp.Compare(a.Job.ID, b.Job.ID),
		)
	})

	worst := model.OK
	for _, r := range sorted {
		if r.Severity.Rank() > worst.Rank() {
			worst = r.Severity
		}
	}

	outcome := model.Outcome{
		Severity: worst,
		Summary:  AllOK,
		Buckets:  Buckets(sorted),
		Results:  sorted,
	}
	if worst != model.OK {
		outcome.Summary = Summary(worst, outcome.Buckets[worst])
	}
	return outcome
}

// Buckets partitions targets by severity, names within a bucket are sorted.
func Buckets(results []model.ParsedResult) map[model.Severity][]string {
	buckets := make(map[model.Severity][]string, len(model.Severities))
	for _, r := range results {
		buckets[r.Severity] = append(buckets[r.Severity], r.Job.Target)
	}
	for _, hosts := range buckets {
		slices.Sort(hosts)
	}
	return buckets
}

// Summary formats "<n> Hosts status <level> <sorted names><br>".
func Summary(sev model.Severity, hosts []string) string {
	sorted := slices.Sorted(slices.Values(hosts))
	return fmt.Sprintf("%d Hosts status %s %s<br>", len(sorted), sev.Lower(), strings.Join(sorted, ", "))
}
