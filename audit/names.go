package audit

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// namedEntry is the subset of metadata the name-collision and link checks
// need, independent of container format.
type namedEntry struct {
	Name       string
	IsSymlink  bool
	IsHardLink bool
}

// codeSet supplies the format-specific stable codes a collision or link
// finding should carry (spec §4.12 distinguishes ZIP_* from TAR_*).
type codeSet struct {
	Duplicate    string
	CaseCollision string
	NormCollision string
	LinkPresent  string
	PathTraversal string
}

var zipCodes = codeSet{
	Duplicate:     "ZIP_DUPLICATE_ENTRY",
	CaseCollision: "ZIP_CASE_COLLISION",
	NormCollision: "ZIP_NORMALIZATION_COLLISION",
	LinkPresent:   "ZIP_SYMLINK_PRESENT",
	PathTraversal: "ZIP_PATH_TRAVERSAL",
}

var tarCodes = codeSet{
	Duplicate:     "TAR_DUPLICATE_ENTRY",
	CaseCollision: "TAR_CASE_COLLISION",
	NormCollision: "TAR_NORMALIZATION_COLLISION",
	LinkPresent:   "TAR_LINK_PRESENT",
	PathTraversal: "ARCHIVE_PATH_TRAVERSAL",
}

// foldCaser performs Unicode simple case folding without the Turkish
// dotted/dotless-I special case, per spec §4.12's "excluding Turkic special
// cases": cases.Fold with no language tag already applies the
// locale-independent fold, so ASCII 'I' and 'ı' never compare equal here.
var foldCaser = cases.Fold()

// auditNames walks entries in their on-disk order and reports duplicate,
// casefold, and NFC-normalization name collisions plus link presence, per
// spec §4.12.
func auditNames(entries []namedEntry, codes codeSet) []Issue {
	var issues []Issue

	byExact := make(map[string]string, len(entries))
	byFold := make(map[string]string, len(entries))
	byNFC := make(map[string]string, len(entries))

	for _, e := range entries {
		if e.IsSymlink || e.IsHardLink {
			issues = append(issues, Issue{
				Code:      codes.LinkPresent,
				Severity:  SeverityWarning,
				EntryName: e.Name,
				Message:   "archive entry is a symlink or hard link",
			})
		}

		if other, ok := byExact[e.Name]; ok {
			issues = append(issues, collisionIssue(codes.Duplicate, e.Name, other, "byte-identical name reused"))
		} else {
			byExact[e.Name] = e.Name
		}

		fold := foldCaser.String(e.Name)
		if other, ok := byFold[fold]; ok && other != e.Name {
			issues = append(issues, collisionIssue(codes.CaseCollision, e.Name, other, "names fold to the same key under Unicode casefold"))
		} else if !ok {
			byFold[fold] = e.Name
		}

		nfc := norm.NFC.String(e.Name)
		if other, ok := byNFC[nfc]; ok && other != e.Name {
			issues = append(issues, collisionIssue(codes.NormCollision, e.Name, other, "names are NFC-equal but byte-distinct"))
		} else if !ok {
			byNFC[nfc] = e.Name
		}

		if isPathTraversal(e.Name) {
			issues = append(issues, Issue{
				Code:      codes.PathTraversal,
				Severity:  SeverityError,
				EntryName: e.Name,
				Message:   "entry name escapes the archive root",
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].EntryName < issues[j].EntryName })
	return issues
}

func collisionIssue(code, name, other, msg string) Issue {
	return Issue{Code: code, Severity: SeverityWarning, EntryName: name, OtherEntryName: other, Message: msg}
}

// isPathTraversal reports whether name, once its separators are normalized
// to '/', contains a ".." segment, an absolute root, or a drive letter,
// any of which would let the entry escape the archive's extraction root
// (spec §4.12).
func isPathTraversal(name string) bool {
	cleaned := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(cleaned, "/") {
		return true
	}
	if len(cleaned) >= 2 && cleaned[1] == ':' {
		return true // drive letter, e.g. "C:"
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
