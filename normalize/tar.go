package normalize

import (
	"context"
	"io"
	"time"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/obs"
	"github.com/Ismail-elkorchi/bytefold/internal/obslog"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/tarfile"
)

// NormalizeTar rewrites a TAR stream (already unwrapped from any
// compression by the archive facade) into canonical form: sorted entries,
// resolved name collisions, rejected links/traversal, and zeroed timestamps
// unless IsDeterministic is false (spec §4.13). TAR has no per-entry
// compression field, so Mode only affects ZIP normalization; both ModeSafe
// and ModeLossless produce the same plain ustar output here.
func NormalizeTar(ctx context.Context, src io.Reader, dst io.Writer, lim limits.ResourceLimits, rawOpts Options) error {
	opts := rawOpts.normalized()
	obslog.Op(ctx, "normalize.tar").Debug("normalizing tar archive")

	type pending struct {
		hdr  tarfile.Header
		data []byte
	}

	tr := tarfile.NewReader(ctx, src, tarfile.Options{Limits: lim})
	var items []pending
	var named []nameEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return aerr.Wrap(aerr.CodeTarTruncated, aerr.KindFormat, "normalize.tar", "failed reading entry body", err)
		}
		items = append(items, pending{hdr: *hdr, data: data})
		named = append(named, nameEntry{OriginalName: hdr.Name, IsSymlink: hdr.IsSymlink(), IsHardLink: hdr.IsHardLink()})
	}

	resolved, err := orderAndResolve(named, opts, "tar")
	if err != nil {
		return err
	}

	byOriginal := make(map[string]pending, len(items))
	for _, it := range items {
		byOriginal[it.hdr.Name] = it
	}

	tw := tarfile.NewWriter(dst, tarfile.WriteOptions{IsDeterministic: opts.IsDeterministic})
	for _, r := range resolved {
		it := byOriginal[r.OriginalName]
		h := it.hdr
		h.Name = r.ResolvedName
		if opts.IsDeterministic {
			h.ModTime = time.Time{}
		}
		if err := tw.WriteHeader(&h); err != nil {
			return err
		}
		if err := tw.WriteData(it.data); err != nil {
			return err
		}
		obs.EntriesRead.WithLabelValues("tar").Inc()
	}
	return tw.Close()
}
