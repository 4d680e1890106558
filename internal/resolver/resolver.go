package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ResolveFunc turns a catalog URI into a concrete file path or HTTP URL.
type ResolveFunc func(ctx context.Context, uri string) (string, error)

// Options carries the resolver tunables from config.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond int
	BurstSize         int
	Debug             bool
}

// Resolver is the URL-resolution collaborator: synchronous from the caller's
// perspective, backed by a single worker goroutine so provider clients never
// run on the decoder thread. file:, http(s): and bare paths pass through
// untouched; registered schemes are dispatched to their ResolveFunc under a
// rate limiter and a hard deadline.
type Resolver struct {
	mu      sync.RWMutex
	schemes map[string]ResolveFunc

	requests chan request
	limiter  *rate.Limiter
	timeout  time.Duration
	debug    bool

	closeOnce sync.Once
	done      chan struct{}
}

type request struct {
	uri   string
	reply chan result
}

type result struct {
	resolved string
	err      error
}

func New(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.BurstSize <= 0 {
		opts.BurstSize = 1
	}

	r := &Resolver{
		schemes:  make(map[string]ResolveFunc),
		requests: make(chan request),
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.BurstSize),
		timeout:  opts.Timeout,
		debug:    opts.Debug,
		done:     make(chan struct{}),
	}

	go r.worker()

	return r
}

// Register binds a scheme (without the colon) to its resolve function.
func (r *Resolver) Register(scheme string, fn ResolveFunc) {
	r.mu.Lock()
	r.schemes[strings.ToLower(scheme)] = fn
	r.mu.Unlock()
}

// Resolve maps a URI to something the media sources can open. Passthrough
// URIs return immediately; everything else round-trips via the worker.
func (r *Resolver) Resolve(uri string) (string, error) {
	scheme := uriScheme(uri)
	if scheme == "" || scheme == "file" || scheme == "http" || scheme == "https" {
		return uri, nil
	}

	r.mu.RLock()
	_, known := r.schemes[scheme]
	r.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("no resolver registered for scheme %q", scheme)
	}

	req := request{uri: uri, reply: make(chan result, 1)}

	select {
	case r.requests <- req:
	case <-r.done:
		return "", fmt.Errorf("resolver closed")
	case <-time.After(r.timeout):
		return "", fmt.Errorf("resolve %s: timed out enqueueing", uri)
	}

	select {
	case res := <-req.reply:
		return res.resolved, res.err
	case <-time.After(r.timeout):
		return "", fmt.Errorf("resolve %s: timed out after %s", uri, r.timeout)
	}
}

func (r *Resolver) worker() {
	for {
		select {
		case <-r.done:
			return
		case req := <-r.requests:
			req.reply <- r.dispatch(req.uri)
		}
	}
}

func (r *Resolver) dispatch(uri string) result {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return result{err: fmt.Errorf("resolve %s: %w", uri, err)}
	}

	r.mu.RLock()
	fn := r.schemes[uriScheme(uri)]
	r.mu.RUnlock()

	start := time.Now()
	resolved, err := fn(ctx, uri)
	if r.debug {
		log.Printf("[RESOLVER] %s -> %q in %v (err: %v)", uri, resolved, time.Since(start), err)
	}

	return result{resolved: resolved, err: err}
}

// Close stops the worker; Resolve calls that have not been handed to the
// worker return an error. A request the worker is already dispatching runs
// to completion.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// uriScheme extracts the scheme of a URI, or "" for bare paths. Windows
// drive letters are not schemes.
func uriScheme(uri string) string {
	i := strings.Index(uri, ":")
	if i <= 1 {
		return ""
	}
	scheme := uri[:i]
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return ""
		}
	}
	return strings.ToLower(scheme)
}
