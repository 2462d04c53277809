// Package httpsnap implements the HTTP range-read snapshot protocol from
// spec §4.2 (C3): a sequence of Range requests that behave as if they read
// from one immutable snapshot, validated with ETag/Last-Modified and
// If-Range continuity checks.
//
// The pooled-buffer and bounded-concurrency conventions are grounded on the
// teacher's pkg/tarfs/randomaccess.go (diskBuf's semaphore-gated fetches);
// httpsnap additionally de-duplicates concurrent metadata fetches the same
// way pkg/tarfs/pool.go pools codec objects rather than re-allocating them.
package httpsnap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// SnapshotPolicy controls how strict validator selection is.
type SnapshotPolicy string

const (
	// PolicyBestEffort accepts a weak ETag or Last-Modified as a validator.
	PolicyBestEffort SnapshotPolicy = "best-effort"
	// PolicyRequireStrongETag fails fast if no strong ETag is present.
	PolicyRequireStrongETag SnapshotPolicy = "require-strong-etag"
)

// Source is a RandomAccess implementation over a single HTTP(S) URL,
// implementing the snapshot protocol of spec §4.2.
type Source struct {
	client *http.Client
	url    string
	extra  http.Header

	policy SnapshotPolicy

	mu          sync.Mutex
	initialized bool
	size        uint64
	sizeKnown   bool
	etag        string // non-empty only when strong
	weakETag    string
	lastMod     string
	rangesOK    bool
	bodyBytes   uint64 // total body bytes transferred across this Source's life
}

// Option configures a Source.
type Option func(*Source)

// WithClient overrides the *http.Client used (default http.DefaultClient).
func WithClient(c *http.Client) Option { return func(s *Source) { s.client = c } }

// WithHeaders merges additional headers into every request. They never
// override Range, Accept-Encoding, If-Range, or Accept-Ranges negotiation
// (spec §6).
func WithHeaders(h http.Header) Option { return func(s *Source) { s.extra = h } }

// WithPolicy sets the snapshot validator policy.
func WithPolicy(p SnapshotPolicy) Option { return func(s *Source) { s.policy = p } }

// New constructs a Source for url. No network request is made until the
// first Size or ReadAt call (discovery is lazy).
func New(url string, opts ...Option) *Source {
	s := &Source{client: http.DefaultClient, url: url, policy: PolicyBestEffort}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BodyBytesTransferred reports the cumulative response-body bytes consumed
// by this Source, for the bound in spec §8 invariant 6.
func (s *Source) BodyBytesTransferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyBytes
}

func (s *Source) mergeHeaders(req *http.Request) {
	for k, vs := range s.extra {
		switch http.CanonicalHeaderKey(k) {
		case "Range", "Accept-Encoding", "If-Range", "Accept-Ranges":
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept-Encoding", "identity")
}

// discover performs the HEAD (falling back to a 0-0 ranged GET) described in
// spec §4.2 step 1, recording size and validators.
func (s *Source) discover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return aerr.Wrap(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "discover", "bad request", err)
	}
	s.mergeHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return aerr.Wrap(aerr.CodeArchiveHTTP, aerr.KindHTTP, "discover", "HEAD request failed", err)
	}
	resp.Body.Close()

	if resp.StatusCode == 403 || resp.StatusCode == 405 || resp.StatusCode == 501 {
		return s.discoverViaRangedGet(ctx)
	}
	if resp.StatusCode != http.StatusOK {
		return aerr.New(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "discover", fmt.Sprintf("unexpected HEAD status %d", resp.StatusCode))
	}
	if err := s.checkEncoding(resp); err != nil {
		return err
	}
	s.recordValidators(resp.Header)
	s.rangesOK = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseUint(cl, 10, 64)
		if err == nil {
			s.size = n
			s.sizeKnown = true
		}
	}
	if err := s.requirePolicy(); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

func (s *Source) discoverViaRangedGet(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return aerr.Wrap(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "discover", "bad request", err)
	}
	s.mergeHeaders(req)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		return aerr.Wrap(aerr.CodeArchiveHTTP, aerr.KindHTTP, "discover", "ranged GET failed", err)
	}
	defer resp.Body.Close()
	if err := s.checkEncoding(resp); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent {
		return aerr.New(aerr.CodeHTTPRangeUnsupported, aerr.KindHTTP, "discover", "server did not honor Range on fallback GET")
	}
	s.recordValidators(resp.Header)
	s.rangesOK = true
	_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return aerr.Wrap(aerr.CodeHTTPRangeInvalid, aerr.KindHTTP, "discover", "malformed Content-Range", err)
	}
	if total >= 0 {
		s.size = uint64(total)
		s.sizeKnown = true
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	if err := s.requirePolicy(); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

func (s *Source) requirePolicy() error {
	if s.policy == PolicyRequireStrongETag && s.etag == "" {
		return aerr.New(aerr.CodeHTTPStrongETagRequired, aerr.KindHTTP, "discover", "strong ETag required by policy but not present")
	}
	return nil
}

// checkEncoding enforces spec §4.2 step 2: any non-identity Content-Encoding
// fails before the body is consumed.
func (s *Source) checkEncoding(resp *http.Response) error {
	if ce := resp.Header.Get("Content-Encoding"); ce != "" && !strings.EqualFold(ce, "identity") {
		resp.Body.Close()
		return aerr.New(aerr.CodeHTTPContentEncoding, aerr.KindHTTP, "request", "unexpected Content-Encoding: "+ce)
	}
	return nil
}

// recordValidators implements spec §4.2 step 3: prefer a strong ETag,
// otherwise Last-Modified.
func (s *Source) recordValidators(h http.Header) {
	if et := h.Get("ETag"); et != "" {
		if strings.HasPrefix(et, "W/") {
			s.weakETag = et
		} else {
			s.etag = et
		}
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		s.lastMod = lm
	}
}

// checkContinuity implements spec §4.2 step 5.
func (s *Source) checkContinuity(h http.Header) error {
	if et := h.Get("ETag"); et != "" {
		if strings.HasPrefix(et, "W/") {
			if s.weakETag != "" && et != s.weakETag {
				return aerr.New(aerr.CodeHTTPResourceChanged, aerr.KindHTTP, "readat", "weak ETag changed mid-snapshot")
			}
		} else if s.etag != "" && et != s.etag {
			return aerr.New(aerr.CodeHTTPResourceChanged, aerr.KindHTTP, "readat", "strong ETag changed mid-snapshot")
		}
	}
	if lm := h.Get("Last-Modified"); lm != "" && s.lastMod != "" && lm != s.lastMod {
		return aerr.New(aerr.CodeHTTPResourceChanged, aerr.KindHTTP, "readat", "Last-Modified changed mid-snapshot")
	}
	return nil
}

// Size implements raccess.RandomAccess.
func (s *Source) Size(ctx context.Context) (uint64, error) {
	if err := s.discover(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sizeKnown {
		return 0, aerr.New(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "size", "server did not report Content-Length")
	}
	return s.size, nil
}

// Close is a no-op: Source holds no persistent connection.
func (s *Source) Close() error { return nil }

// ReadAt performs a single ranged GET honoring spec §4.2 steps 4–7:
// If-Range only with a strong ETag, a 200 response to a ranged request is
// treated as a snapshot change, Content-Range is validated, and exactly the
// requested byte count must be delivered.
func (s *Source) ReadAt(ctx context.Context, p []byte, off uint64) (int, error) {
	if err := s.discover(ctx); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + uint64(len(p)) - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, aerr.Wrap(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "readat", "bad request", err)
	}
	s.mergeHeaders(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	s.mu.Lock()
	strongETag := s.etag
	s.mu.Unlock()
	if strongETag != "" {
		req.Header.Set("If-Range", strongETag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, aerr.Wrap(aerr.CodeArchiveHTTP, aerr.KindHTTP, "readat", "request failed", err)
	}
	defer resp.Body.Close()

	if err := s.checkEncoding(resp); err != nil {
		return 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Spec §4.2 step 4: 200 on a ranged request means the snapshot
		// changed (or the server never supported ranges at all).
		if !s.rangesOK {
			io.CopyN(io.Discard, resp.Body, 4096)
			return 0, aerr.New(aerr.CodeHTTPRangeUnsupported, aerr.KindHTTP, "readat", "server does not support Range requests")
		}
		return 0, aerr.New(aerr.CodeHTTPResourceChanged, aerr.KindHTTP, "readat", "200 response to ranged request")
	case http.StatusPartialContent:
		// fallthrough to body handling below
	default:
		return 0, aerr.New(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "readat", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	if err := s.checkContinuity(resp.Header); err != nil {
		return 0, err
	}

	gotStart, gotEnd, total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, aerr.Wrap(aerr.CodeHTTPRangeInvalid, aerr.KindHTTP, "readat", "malformed Content-Range", err)
	}
	if uint64(gotStart) != off || uint64(gotEnd) != end {
		return 0, aerr.New(aerr.CodeHTTPRangeInvalid, aerr.KindHTTP, "readat", "Content-Range does not match requested range")
	}
	if total < 0 && !s.sizeKnown {
		return 0, aerr.New(aerr.CodeHTTPRangeInvalid, aerr.KindHTTP, "readat", "Content-Range total is unknown with no prior size")
	}

	n, err := io.ReadFull(resp.Body, p)
	s.mu.Lock()
	s.bodyBytes += uint64(n)
	s.mu.Unlock()
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, aerr.Wrap(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "readat", "short body", err)
	}
	if err == io.ErrUnexpectedEOF {
		return n, aerr.New(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "readat", "response body shorter than Content-Range promised")
	}
	// Detect an over-long body: one extra byte should not be observable.
	var extra [1]byte
	if m, _ := resp.Body.Read(extra[:]); m > 0 {
		return n, aerr.New(aerr.CodeHTTPBadResponse, aerr.KindHTTP, "readat", "response body longer than Content-Range promised")
	}
	isEOF := s.sizeKnown && end+1 >= s.size
	if isEOF {
		return n, io.EOF
	}
	return n, nil
}

// parseContentRange parses "bytes start-end/total" (total may be "*").
// Returns total == -1 when total is "*".
func parseContentRange(v string) (start, end, total int64, err error) {
	if v == "" {
		return 0, 0, 0, fmt.Errorf("missing Content-Range")
	}
	v = strings.TrimPrefix(v, "bytes ")
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	rangePart, totalPart := parts[0], parts[1]
	se := strings.SplitN(rangePart, "-", 2)
	if len(se) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range range %q", rangePart)
	}
	start, err = strconv.ParseInt(se[0], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	end, err = strconv.ParseInt(se[1], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	if totalPart == "*" {
		return start, end, -1, nil
	}
	total, err = strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	return start, end, total, nil
}
