package normalize

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/tarfile"
)

func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tarfile.NewWriter(&buf, tarfile.WriteOptions{})
	for name, content := range entries {
		hdr := &tarfile.Header{Name: name, Size: int64(len(content)), Typeflag: tarfile.TypeRegular, ModTime: time.Unix(1234, 0)}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if err := tw.WriteData([]byte(content)); err != nil {
			t.Fatalf("WriteData: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeTarSortsAndZeroesTimestamps(t *testing.T) {
	src := buildTar(t, map[string]string{"b.txt": "B", "a.txt": "A"})

	var out bytes.Buffer
	lim := limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)
	if err := NormalizeTar(context.Background(), bytes.NewReader(src), &out, lim, Options{IsDeterministic: true}); err != nil {
		t.Fatalf("NormalizeTar: %v", err)
	}

	tr := tarfile.NewReader(context.Background(), &out, tarfile.Options{Limits: lim})
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
		if !hdr.ModTime.IsZero() {
			t.Fatalf("expected zeroed mtime for %q, got %v", hdr.Name, hdr.ModTime)
		}
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("got names %v, want sorted [a.txt b.txt]", names)
	}
}

func TestNormalizeTarIsIdempotent(t *testing.T) {
	src := buildTar(t, map[string]string{"z.txt": "Z", "a.txt": "A"})
	lim := limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)

	var first bytes.Buffer
	if err := NormalizeTar(context.Background(), bytes.NewReader(src), &first, lim, Options{}); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	var second bytes.Buffer
	if err := NormalizeTar(context.Background(), bytes.NewReader(first.Bytes()), &second, lim, Options{}); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("normalize is not idempotent")
	}
}

func TestNormalizeTarRejectsPathTraversal(t *testing.T) {
	src := buildTar(t, map[string]string{"../escape.txt": "x"})
	lim := limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)
	var out bytes.Buffer
	if err := NormalizeTar(context.Background(), bytes.NewReader(src), &out, lim, Options{}); err == nil {
		t.Fatalf("expected path traversal rejection")
	}
}

func TestOrderAndResolveErrorsOnDuplicate(t *testing.T) {
	entries := []nameEntry{{OriginalName: "a.txt"}, {OriginalName: "a.txt"}}
	_, err := orderAndResolve(entries, Options{OnDuplicate: OnDuplicateError}, "tar")
	if err == nil {
		t.Fatalf("expected collision error")
	}
	var ce *CollisionError
	if !asCollisionError(err, &ce) {
		t.Fatalf("expected *CollisionError, got %T: %v", err, err)
	}
}

func TestOrderAndResolveRenamesOnDuplicate(t *testing.T) {
	entries := []nameEntry{{OriginalName: "a.txt"}, {OriginalName: "a.txt"}}
	resolved, err := orderAndResolve(entries, Options{OnDuplicate: OnDuplicateRename}, "tar")
	if err != nil {
		t.Fatalf("orderAndResolve: %v", err)
	}
	if resolved[0].ResolvedName == resolved[1].ResolvedName {
		t.Fatalf("expected distinct resolved names, got %q twice", resolved[0].ResolvedName)
	}
}

func asCollisionError(err error, out **CollisionError) bool {
	ce, ok := err.(*CollisionError)
	if ok {
		*out = ce
	}
	return ok
}
