package pipeline

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Pooled codec objects, grounded directly on pkg/tarfs/pool.go's
// get/put pairs for *gzip.Reader and *zstd.Decoder.

var (
	zstdpool sync.Pool
	gzippool sync.Pool
)

func getZstd() *zstd.Decoder {
	d := zstdpool.Get()
	if d == nil {
		var err error
		if d, err = zstd.NewReader(nil); err != nil {
			// Should never happen: a nil Reader only does internal setup
			// allocations.
			panic(fmt.Sprintf("bytefold: error creating zstd reader: %v", err))
		}
	}
	return d.(*zstd.Decoder)
}

func putZstd(d *zstd.Decoder) { zstdpool.Put(d) }

func getGzip() *gzip.Reader {
	r := gzippool.Get()
	if r == nil {
		return new(gzip.Reader)
	}
	return r.(*gzip.Reader)
}

func putGzip(r *gzip.Reader) { gzippool.Put(r) }
