// Package audit implements the audit engine (spec §4.12, C13): walking an
// already-parsed archive's entry names and metadata to surface duplicate,
// casefold, and Unicode-normalization collisions, path traversal, link
// presence, and structural issues, then gating on them per profile.
//
// Grounded on the teacher's pkg/tarfs/tarfs.go normPath (the path-cleaning
// rules this package's traversal check generalizes) and the profile
// vocabulary already defined in package limits.
package audit

import (
	"context"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/obs"
	"github.com/Ismail-elkorchi/bytefold/internal/obslog"
	"github.com/Ismail-elkorchi/bytefold/limits"
)

// Severity classifies an Issue for profile-based gating (spec §4.12).
type Severity string

// Recognized severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one audit finding.
type Issue struct {
	Code           string
	Severity       Severity
	EntryName      string
	OtherEntryName string // set for collision issues
	Message        string
}

// ArchiveAuditReport is the result of auditing one archive (spec §4.12).
type ArchiveAuditReport struct {
	Issues []Issue
}

// HasErrors reports whether any issue is SeverityError.
func (r ArchiveAuditReport) HasErrors() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any issue is SeverityWarning.
func (r ArchiveAuditReport) HasWarnings() bool {
	for _, iss := range r.Issues {
		if iss.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// AssertSafe fails the audit under the given profile's severity policy
// (spec §4.12): strict and agent both reject any warning or error; compat
// accepts warnings and rejects only errors.
func (r ArchiveAuditReport) AssertSafe(profile limits.Profile) error {
	var worst *Issue
	for i := range r.Issues {
		iss := &r.Issues[i]
		switch profile {
		case limits.ProfileStrict, limits.ProfileAgent:
			if iss.Severity == SeverityError || iss.Severity == SeverityWarning {
				worst = iss
			}
		default: // compat
			if iss.Severity == SeverityError {
				worst = iss
			}
		}
		if worst != nil {
			break
		}
	}
	if worst == nil {
		return nil
	}
	return aerr.New(worst.Code, aerr.KindPathSafety, "audit.assert_safe", worst.Message).WithContext("entryName", worst.EntryName)
}

// emitMetrics records one AuditIssues observation per issue and logs a
// debug line per issue via obslog, per the entry points spec's ambient-stack
// section names.
func emitMetrics(ctx context.Context, op string, issues []Issue) {
	log := obslog.Op(ctx, op)
	for _, iss := range issues {
		obs.AuditIssues.WithLabelValues(iss.Code, string(iss.Severity)).Inc()
		log.Debug("audit issue", "code", iss.Code, "severity", string(iss.Severity), "entry", iss.EntryName)
	}
}
