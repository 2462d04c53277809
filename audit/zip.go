package audit

import (
	"context"

	zippkg "github.com/Ismail-elkorchi/bytefold/zip"
)

// AuditZipArchive walks a parsed ZIP central directory and reports name
// collisions, link presence, path traversal, and trailing bytes, per spec
// §4.12.
func AuditZipArchive(ctx context.Context, a *zippkg.Archive) ArchiveAuditReport {
	entries := make([]namedEntry, len(a.Entries))
	for i, e := range a.Entries {
		entries[i] = namedEntry{Name: e.Name, IsSymlink: e.IsSymlink}
	}

	issues := auditNames(entries, zipCodes)

	if a.TrailingBytes > 0 {
		issues = append(issues, Issue{
			Code:     "ZIP_TRAILING_BYTES",
			Severity: SeverityWarning,
			Message:  "non-zero bytes follow the end of the central directory",
		})
	}

	report := ArchiveAuditReport{Issues: issues}
	emitMetrics(ctx, "audit.zip", issues)
	return report
}
