package resolver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	return New(Options{
		Timeout:           2 * time.Second,
		RequestsPerSecond: 100,
		BurstSize:         10,
	})
}

func TestResolve_PassthroughIdentity(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	for _, uri := range []string{
		"/home/user/music/track.flac",
		"file:/home/user/music/track.flac",
		"http://example.com/stream.mp3",
		"https://example.com/stream.mp3",
		"C:\\Music\\track.mp3",
	} {
		got, err := r.Resolve(uri)
		require.NoError(t, err, uri)
		assert.Equal(t, uri, got, "passthrough must be identity")
	}
}

func TestResolve_RegisteredScheme(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	r.Register("catalog", func(ctx context.Context, uri string) (string, error) {
		id := strings.TrimPrefix(uri, "catalog:")
		return "https://cdn.example.com/" + id + ".flac", nil
	})

	got, err := r.Resolve("catalog:12345")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/12345.flac", got)
}

func TestResolve_UnknownScheme(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	_, err := r.Resolve("mystery:42")
	assert.Error(t, err)
}

func TestResolve_ProviderErrorPropagates(t *testing.T) {
	r := newTestResolver()
	defer r.Close()

	r.Register("broken", func(ctx context.Context, uri string) (string, error) {
		return "", fmt.Errorf("upstream said no")
	})

	_, err := r.Resolve("broken:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream said no")
}

func TestResolve_TimesOut(t *testing.T) {
	r := New(Options{
		Timeout:           100 * time.Millisecond,
		RequestsPerSecond: 100,
		BurstSize:         10,
	})
	defer r.Close()

	r.Register("slow", func(ctx context.Context, uri string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	start := time.Now()
	_, err := r.Resolve("slow:1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolve_AfterClose(t *testing.T) {
	r := newTestResolver()
	r.Register("catalog", func(ctx context.Context, uri string) (string, error) {
		return "x", nil
	})
	r.Close()

	_, err := r.Resolve("catalog:1")
	assert.Error(t, err)
}

func TestURIScheme(t *testing.T) {
	cases := map[string]string{
		"catalog:123":        "catalog",
		"HTTPS://host/x":     "https",
		"/plain/path.mp3":    "",
		"C:\\Music\\t.mp3":   "",
		"weird scheme:thing": "",
	}

	for uri, want := range cases {
		assert.Equalf(t, want, uriScheme(uri), "uri %q", uri)
	}
}
