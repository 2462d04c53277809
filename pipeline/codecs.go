package pipeline

import (
	"context"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// Method identifies a decompression codec a Transform can dispatch to.
// Values match the ZIP method numbers from spec §4.9 where applicable; XZ
// and bzip2 are handled by their own packages (xz, bzip2) since both need
// the preflight/pure-decoder machinery spec §1/§4.4/§4.7 require.
type Method int

const (
	MethodStore    Method = 0
	MethodDeflate  Method = 8
	MethodDeflate64 Method = 9
	MethodBzip2    Method = 12
	MethodXZ       Method = 95
	MethodZstd     Method = 93
	MethodGzip     Method = 1000 // not a ZIP method; used by the archive facade
	MethodBrotli   Method = 1001 // not a ZIP method; used by the archive facade
)

// NewDecodeFactory returns a Factory that decodes src with the given method,
// pooling klauspost/compress readers the way pkg/tarfs/pool.go pools
// *gzip.Reader and *zstd.Decoder.
func NewDecodeFactory(method Method, src io.Reader) Factory {
	return func(ctx context.Context) (Transform, error) {
		pr, pw := io.Pipe()
		var rc io.ReadCloser
		var err error
		switch method {
		case MethodStore:
			rc = io.NopCloser(src)
		case MethodDeflate:
			rc = flate.NewReader(src)
		case MethodDeflate64:
			return Transform{}, aerr.New(aerr.CodeZipUnsupportedFeature, aerr.KindUnsupported, "decode",
				"deflate64 is recognized but not implemented (see DESIGN.md scope decisions)")
		case MethodZstd:
			d := getZstd()
			if err := d.Reset(src); err != nil {
				putZstd(d)
				return Transform{}, aerr.Wrap(aerr.CodeCompressionResourceLimit, aerr.KindFormat, "decode", "zstd reset failed", err)
			}
			rc = &zstdCloser{d: d}
		case MethodGzip:
			g := getGzip()
			if err := g.Reset(src); err != nil {
				putGzip(g)
				return Transform{}, aerr.Wrap(aerr.CodeCompressionResourceLimit, aerr.KindFormat, "decode", "gzip reset failed", err)
			}
			rc = &gzipCloser{r: g}
		case MethodBrotli:
			rc = io.NopCloser(brotli.NewReader(src))
		default:
			return Transform{}, aerr.New(aerr.CodeCompressionUnsupportedFilter, aerr.KindUnsupported, "decode", "unknown codec method")
		}
		if err != nil {
			return Transform{}, err
		}
		// Copy decoded bytes through the pipe so the Transform's Output is a
		// plain io.ReadCloser independent of the underlying decoder's
		// lifetime; closing Output releases rc back to its pool.
		go func() {
			_, cerr := io.Copy(pw, rc)
			rc.Close()
			pw.CloseWithError(cerr)
		}()
		return Transform{Input: discardInput{}, Output: pr}, nil
	}
}

// discardInput satisfies Transform.Input for decode-only transforms, which
// are driven entirely by the "src" reader passed to NewDecodeFactory.
type discardInput struct{}

func (discardInput) Write(p []byte) (int, error) { return len(p), nil }
func (discardInput) Close() error                { return nil }

type zstdCloser struct{ d *zstd.Decoder }

func (z *zstdCloser) Read(p []byte) (int, error) { return z.d.Read(p) }
func (z *zstdCloser) Close() error                { putZstd(z.d); return nil }

type gzipCloser struct{ r *gzip.Reader }

func (g *gzipCloser) Read(p []byte) (int, error) { return g.r.Read(p) }
func (g *gzipCloser) Close() error                { err := g.r.Close(); putGzip(g.r); return err }
