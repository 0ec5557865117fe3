package migration

import (
	"fmt"
	"io"

	"cdm-client/internal/domain"
)

type Report struct {
	Stats    domain.MigrationStats
	Failures []string
	DryRun   bool
}

func (r *Report) fail(item domain.MigrationItem, reason string) {
	r.Failures = append(r.Failures, fmt.Sprintf("%s %s", item, reason))
}

// ExitCode is 0 when the run recorded no failure and 1 otherwise.
func (r *Report) ExitCode() int {
	if len(r.Failures) > 0 || r.Stats.Failures() > 0 {
		return 1
	}
	return 0
}

func (r *Report) Print(w io.Writer) {
	prefix := ""
	if r.DryRun {
		prefix = "DRY-RUN "
	}
	fmt.Fprintf(w, "%ssummary:\n", prefix)
	fmt.Fprintf(w, "  migrated: %d\n", r.Stats.Migrated)
	fmt.Fprintf(w, "  skipped_duplicate: %d\n", r.Stats.SkippedDuplicate)
	fmt.Fprintf(w, "  failed_add: %d\n", r.Stats.FailedAdd)
	fmt.Fprintf(w, "  failed_lookup: %d\n", r.Stats.FailedLookup)
	fmt.Fprintf(w, "  failed_db_update: %d\n", r.Stats.FailedDBUpdate)
	fmt.Fprintf(w, "  source_removed: %d\n", r.Stats.SourceRemoved)
	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintln(w, "failed items:")
	for _, failure := range r.Failures {
		fmt.Fprintf(w, "  - %s\n", failure)
	}
}
