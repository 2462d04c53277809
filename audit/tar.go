package audit

import (
	"context"

	"github.com/Ismail-elkorchi/bytefold/tarfile"
)

// AuditTarHeaders walks a TAR archive's already-collected headers and
// reports name collisions, link presence, and path traversal, per spec
// §4.12. Headers must be gathered by fully draining a tarfile.Reader first
// (tarfile streams forward-only, so the audit engine cannot interleave with
// decode the way the ZIP central directory lets it).
func AuditTarHeaders(ctx context.Context, headers []*tarfile.Header) ArchiveAuditReport {
	entries := make([]namedEntry, len(headers))
	for i, h := range headers {
		entries[i] = namedEntry{Name: h.Name, IsSymlink: h.IsSymlink(), IsHardLink: h.IsHardLink()}
	}

	issues := auditNames(entries, tarCodes)
	report := ArchiveAuditReport{Issues: issues}
	emitMetrics(ctx, "audit.tar", issues)
	return report
}
