package normalize

import (
	"context"
	"io"
	"time"

	"github.com/Ismail-elkorchi/bytefold/internal/obs"
	"github.com/Ismail-elkorchi/bytefold/internal/obslog"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/raccess"
	zippkg "github.com/Ismail-elkorchi/bytefold/zip"
)

// NormalizeZip rewrites a into a canonical ZIP at dst: sorted entries,
// resolved name collisions, rejected links/traversal, a single
// recompression method per Mode, and zeroed timestamps unless
// IsDeterministic is false (spec §4.13).
func NormalizeZip(ctx context.Context, a *zippkg.Archive, ra raccess.RandomAccess, dst io.Writer, lim limits.ResourceLimits, rawOpts Options) error {
	opts := rawOpts.normalized()
	obslog.Op(ctx, "normalize.zip").Debug("normalizing zip archive")

	named := make([]nameEntry, len(a.Entries))
	for i, e := range a.Entries {
		named[i] = nameEntry{OriginalName: e.Name, IsSymlink: e.IsSymlink}
	}
	resolved, err := orderAndResolve(named, opts, "zip")
	if err != nil {
		return err
	}

	byName := make(map[string]int, len(a.Entries))
	for i, e := range a.Entries {
		byName[e.Name] = i
	}

	zw := newZipWriter(dst)
	for _, r := range resolved {
		idx := byName[r.OriginalName]
		modTime := a.Entries[idx].ModTime
		if opts.IsDeterministic {
			modTime = time.Time{}
		}

		if opts.Mode == ModeLossless {
			raw, err := a.ReadRawEntry(ctx, ra, idx)
			if err != nil {
				return err
			}
			zw.writeRaw(r.ResolvedName, raw.Method, modTime, raw.Compressed, raw.CRC32, raw.UncompressedSize)
		} else {
			rc, err := a.OpenEntry(ctx, ra, idx, false, lim)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			zw.writeStoredOrDeflated(r.ResolvedName, opts.Mode, data, modTime)
		}
		obs.EntriesRead.WithLabelValues("zip").Inc()
	}
	return zw.close()
}
