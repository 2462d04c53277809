// Package normalize implements the normalize engine (spec §4.13, C14):
// rewriting a verified archive into a canonical, deterministic form with a
// fixed entry order, a collision policy, link/traversal rejection, and a
// recompression policy.
//
// Grounded on the teacher's pkg/tarfs/parse.go buildTOC (which already
// establishes a byte-lexicographic TOC order this package's sort mirrors)
// and on tarfile.Writer's deterministic-mode zeroing, generalized to a
// two-format (ZIP+TAR) canonicalization pass.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ismail-elkorchi/bytefold/aerr"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DuplicatePolicy selects how colliding names are handled (spec §4.13).
type DuplicatePolicy string

// Recognized policies.
const (
	OnDuplicateError  DuplicatePolicy = "error"
	OnDuplicateRename DuplicatePolicy = "rename"
)

// RecompressMode selects the output codec policy (spec §4.13).
type RecompressMode string

// Recognized modes.
const (
	ModeSafe     RecompressMode = "safe"     // recompress to the canonical method
	ModeLossless RecompressMode = "lossless" // preserve exact compressed bytes
)

// CollisionKind classifies how two names collided (spec §4.13).
type CollisionKind string

// Recognized collision kinds.
const (
	CollisionExact         CollisionKind = "exact"
	CollisionCasefold      CollisionKind = "casefold"
	CollisionNormalization CollisionKind = "normalization"
)

// CollisionError is the typed error OnDuplicateError produces (spec §4.13).
type CollisionError struct {
	NameA, NameB string
	Key          string
	Kind         CollisionKind
	Format       string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("normalize: %q and %q collide under %s (key %q) in %s archive", e.NameA, e.NameB, e.Kind, e.Key, e.Format)
}

// Options configures a normalize pass (spec §4.13).
type Options struct {
	OnDuplicate     DuplicatePolicy
	Mode            RecompressMode
	IsDeterministic bool // zero all timestamps when true; the zero value (false) keeps source timestamps
}

// normalized returns opts with its zero-value fields defaulted, mirroring
// limits.Normalize's fill-in-defaults shape.
func (o Options) normalized() Options {
	out := o
	if out.OnDuplicate == "" {
		out.OnDuplicate = OnDuplicateError
	}
	if out.Mode == "" {
		out.Mode = ModeSafe
	}
	return out
}

var foldCaser = cases.Fold()

// nameEntry is one entry pending order/collision resolution, independent of
// container format.
type nameEntry struct {
	OriginalName string
	ResolvedName string
	IsSymlink    bool
	IsHardLink   bool
}

// orderAndResolve sorts entries by original name in lexicographic byte
// order (spec §4.13's "deterministic entry ordering") and applies the
// collision policy, returning the entries in their final emission order
// with ResolvedName set. format is used only to label a CollisionError.
func orderAndResolve(entries []nameEntry, opts Options, format string) ([]nameEntry, error) {
	for _, e := range entries {
		if e.IsSymlink || e.IsHardLink {
			return nil, aerr.New(aerr.CodeArchiveUnsupportedFeature, aerr.KindUnsupported, "normalize.order", "archive contains a symlink or hard link").WithContext("entryName", e.OriginalName)
		}
		if isPathTraversal(e.OriginalName) {
			return nil, aerr.New(aerr.CodeArchivePathTraversal, aerr.KindPathSafety, "normalize.order", "entry name escapes the archive root").WithContext("entryName", e.OriginalName)
		}
	}

	sorted := make([]nameEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OriginalName < sorted[j].OriginalName })

	byExact := map[string]string{}
	byFold := map[string]string{}
	byNFC := map[string]string{}

	for i := range sorted {
		name := sorted[i].OriginalName
		for {
			fold := foldCaser.String(name)
			nfc := norm.NFC.String(name)

			var collideKind CollisionKind
			var other, key string
			if o, ok := byExact[name]; ok {
				collideKind, other, key = CollisionExact, o, name
			} else if o, ok := byFold[fold]; ok {
				collideKind, other, key = CollisionCasefold, o, fold
			} else if o, ok := byNFC[nfc]; ok {
				collideKind, other, key = CollisionNormalization, o, nfc
			} else {
				break
			}

			if opts.OnDuplicate == OnDuplicateError {
				return nil, &CollisionError{NameA: other, NameB: sorted[i].OriginalName, Key: key, Kind: collideKind, Format: format}
			}
			name = renameCandidate(sorted[i].OriginalName, name)
		}
		sorted[i].ResolvedName = name
		byExact[name] = sorted[i].OriginalName
		byFold[foldCaser.String(name)] = sorted[i].OriginalName
		byNFC[norm.NFC.String(name)] = sorted[i].OriginalName
	}

	return sorted, nil
}

// renameCandidate appends or bumps a " (n)" disambiguator, preserving any
// file extension so a renamed "a.txt" becomes "a (2).txt".
func renameCandidate(original, collided string) string {
	base, ext := splitExt(original)
	n := 2
	if idx := strings.LastIndex(collided, " ("); idx >= 0 && strings.HasSuffix(collided, ")"+ext) {
		var prevN int
		if _, err := fmt.Sscanf(collided[idx+2:len(collided)-len(ext)-1], "%d", &prevN); err == nil {
			n = prevN + 1
		}
	}
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

func splitExt(name string) (base, ext string) {
	if idx := strings.LastIndex(name, "."); idx > strings.LastIndex(name, "/") && idx >= 0 {
		return name[:idx], name[idx:]
	}
	return name, ""
}

// isPathTraversal mirrors audit.isPathTraversal's traversal rule (spec
// §4.12/§4.13 share the same definition); duplicated rather than exported
// from package audit to keep normalize's collision/traversal rejection
// self-contained and independent of audit's reporting shape.
func isPathTraversal(name string) bool {
	cleaned := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(cleaned, "/") {
		return true
	}
	if len(cleaned) >= 2 && cleaned[1] == ':' {
		return true
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
