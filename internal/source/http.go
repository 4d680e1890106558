package source

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	httpReadRetries   = 5
	httpRetryBaseWait = 100 * time.Millisecond
)

// HTTPOptions carries the tunables the config layer exposes for HTTP sources.
type HTTPOptions struct {
	Retries   int
	Timeout   time.Duration
	UserAgent string
	Debug     bool
}

func (o *HTTPOptions) withDefaults() HTTPOptions {
	out := HTTPOptions{Retries: httpReadRetries, Timeout: 10 * time.Second, UserAgent: "Tonearm/1.0.0"}
	if o == nil {
		return out
	}
	if o.Retries > 0 {
		out.Retries = o.Retries
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.UserAgent != "" {
		out.UserAgent = o.UserAgent
	}
	out.Debug = o.Debug
	return out
}

// HTTPSource streams a remote file over ranged GET requests. A HEAD request at
// construction learns length, content type and range support; each Read
// lazily opens a GET from the current position and subsequent reads continue
// on the same response body. Seeking drops the body so the next Read re-issues
// a ranged GET.
type HTTPSource struct {
	url          string
	client       *retryablehttp.Client
	totalSize    int64
	contentType  string
	acceptRanges bool
	position     int64
	body         io.ReadCloser
	userAgent    string
	debug        bool
}

type httpDebugLogger struct{}

func (httpDebugLogger) Printf(format string, args ...interface{}) {
	log.Printf("[HTTP] "+format, args...)
}

func NewHTTPSource(url string, opts *HTTPOptions) (*HTTPSource, error) {
	o := opts.withDefaults()

	client := retryablehttp.NewClient()
	client.RetryMax = o.Retries
	client.RetryWaitMin = httpRetryBaseWait
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = o.Timeout
	client.Logger = nil
	if o.Debug {
		client.Logger = httpDebugLogger{}
	}

	src := &HTTPSource{
		url:       url,
		client:    client,
		totalSize: -1,
		userAgent: o.UserAgent,
		debug:     o.Debug,
	}

	if err := src.head(); err != nil {
		return nil, err
	}

	return src, nil
}

func (hs *HTTPSource) head() error {
	req, err := retryablehttp.NewRequest(http.MethodHead, hs.url, nil)
	if err != nil {
		return fmt.Errorf("head %s: %w", hs.url, err)
	}
	req.Header.Set("User-Agent", hs.userAgent)

	resp, err := hs.client.Do(req)
	if err != nil {
		return fmt.Errorf("head %s: %w: %v", hs.url, syscall.ECONNREFUSED, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("head %s: status %s: %w", hs.url, resp.Status, fs.ErrNotExist)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if v, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			hs.totalSize = v
		}
	}
	hs.contentType = resp.Header.Get("Content-Type")
	hs.acceptRanges = resp.Header.Get("Accept-Ranges") == "bytes"

	if hs.debug {
		log.Printf("[HTTP] Opened %s - size: %d, type: %s, ranges: %v",
			hs.url, hs.totalSize, hs.contentType, hs.acceptRanges)
	}

	return nil
}

func (hs *HTTPSource) ensureBody() error {
	if hs.body != nil {
		return nil
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, hs.url, nil)
	if err != nil {
		return fmt.Errorf("get %s: %w", hs.url, err)
	}
	req.Header.Set("User-Agent", hs.userAgent)
	req.Header.Set("Accept-Encoding", "identity")
	if hs.position > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", hs.position))
	}

	resp, err := hs.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w: %v", hs.url, syscall.ECONNREFUSED, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("get %s: status %s", hs.url, resp.Status)
	}

	hs.body = resp.Body
	return nil
}

func backoff(attempt int) {
	time.Sleep(httpRetryBaseWait << (attempt - 1))
}

func (hs *HTTPSource) Read(p []byte) (int, error) {
	attempts := 0

	for {
		if err := hs.ensureBody(); err != nil {
			attempts++
			if attempts > httpReadRetries {
				return 0, err
			}
			log.Printf("[HTTP] Connect failed (attempt %d/%d): %v. Retrying...",
				attempts, httpReadRetries, err)
			backoff(attempts)
			continue
		}

		n, err := hs.body.Read(p)
		if n > 0 {
			hs.position += int64(n)
		}
		if err == nil || err == io.EOF {
			return n, err
		}

		attempts++
		if attempts > httpReadRetries {
			return n, err
		}
		log.Printf("[HTTP] Read error (attempt %d/%d): %v. Reconnecting...",
			attempts, httpReadRetries, err)
		hs.body.Close()
		hs.body = nil
		backoff(attempts)
	}
}

func (hs *HTTPSource) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = hs.position + offset
	case io.SeekEnd:
		if hs.totalSize < 0 {
			return 0, fmt.Errorf("seek %s: cannot seek from end, unknown size", hs.url)
		}
		newPos = hs.totalSize + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", hs.url, whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("seek %s: negative position %d", hs.url, newPos)
	}

	if newPos != hs.position {
		hs.position = newPos
		if hs.body != nil {
			hs.body.Close()
			hs.body = nil
		}
	}

	return hs.position, nil
}

func (hs *HTTPSource) Close() error {
	if hs.body != nil {
		err := hs.body.Close()
		hs.body = nil
		return err
	}
	return nil
}

func (hs *HTTPSource) IsSeekable() bool {
	return true
}

func (hs *HTTPSource) ByteLen() int64 {
	return hs.totalSize
}

func (hs *HTTPSource) ContentType() string {
	return hs.contentType
}

func (hs *HTTPSource) Metadata() Metadata {
	return Metadata{
		SourceType:  TypeHTTPStream,
		URI:         hs.url,
		ContentType: hs.contentType,
		Size:        hs.totalSize,
	}
}
