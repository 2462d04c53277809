package audit

import (
	"context"
	"testing"

	"github.com/Ismail-elkorchi/bytefold/limits"
)

func TestAuditNamesDetectsDuplicateAndCollisions(t *testing.T) {
	entries := []namedEntry{
		{Name: "a.txt"},
		{Name: "a.txt"},          // exact duplicate
		{Name: "CAFE.txt"},       // unrelated
		{Name: "cafe.txt"},       // case collision with CAFE.txt
		{Name: "cafe\u0301.txt"}, // combining acute accent
		{Name: "café.txt"},       // NFC-equal to the line above
	}
	issues := auditNames(entries, zipCodes)

	var codes []string
	for _, iss := range issues {
		codes = append(codes, iss.Code)
	}

	wantCounts := map[string]int{
		"ZIP_DUPLICATE_ENTRY":         1,
		"ZIP_CASE_COLLISION":          1,
		"ZIP_NORMALIZATION_COLLISION": 1,
	}
	got := map[string]int{}
	for _, c := range codes {
		got[c]++
	}
	for code, want := range wantCounts {
		if got[code] != want {
			t.Fatalf("code %s: got %d issues, want %d (all codes: %v)", code, got[code], want, codes)
		}
	}
}

func TestIsPathTraversal(t *testing.T) {
	cases := map[string]bool{
		"a/b/c.txt":        false,
		"../etc/passwd":    true,
		"/etc/passwd":      true,
		"a/../../etc":      true,
		"C:\\windows\\win": true,
	}
	for name, want := range cases {
		if got := isPathTraversal(name); got != want {
			t.Errorf("isPathTraversal(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestAssertSafeProfiles(t *testing.T) {
	report := ArchiveAuditReport{Issues: []Issue{{Code: "ZIP_CASE_COLLISION", Severity: SeverityWarning, EntryName: "a"}}}

	if err := report.AssertSafe(limits.ProfileCompat); err != nil {
		t.Fatalf("compat should accept warnings, got %v", err)
	}
	if err := report.AssertSafe(limits.ProfileStrict); err == nil {
		t.Fatalf("strict should reject warnings")
	}
	if err := report.AssertSafe(limits.ProfileAgent); err == nil {
		t.Fatalf("agent should reject warnings")
	}
}

func TestEmitMetricsDoesNotPanic(t *testing.T) {
	// Calls emitMetrics directly (the helper AuditZipArchive and
	// AuditTarHeaders share); this just ensures it does not panic without a
	// live Prometheus registry.
	emitMetrics(context.Background(), "audit.test", []Issue{{Code: "X", Severity: SeverityInfo}})
}
