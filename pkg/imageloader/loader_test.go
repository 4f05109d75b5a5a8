package imageloader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/doingodswork/ghibli-catalog/pkg/imagecache"
)

func pngBytes(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// doerFunc turns a function into an HTTPDoer.
type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse(data []byte) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data))}
}

func newTestCache(t *testing.T) *imagecache.Cache {
	cache, err := imagecache.New(imagecache.NewOpts(10, 1024*1024, t.Name()), zap.NewNop())
	require.NoError(t, err)
	return cache
}

func newTestLoader(t *testing.T, cache *imagecache.Cache, httpClient HTTPDoer, opts Options) *Loader {
	loader, err := New(cache, httpClient, opts, zap.NewNop())
	require.NoError(t, err)
	return loader
}

// imageServer serves a 4x3 PNG at /ok.png, garbage at /garbage.png and 404 everywhere else.
func imageServer(t *testing.T, requestCount *int32) *httptest.Server {
	data := pngBytes(t, 4, 3)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requestCount, 1)
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		case "/garbage.png":
			io.WriteString(w, "definitely not a PNG")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, DefaultOptions, nil)
	require.Error(t, err)
	_, err = New(newTestCache(t), nil, NewOpts(-1, true, 0, 1), nil)
	require.Error(t, err)
	_, err = New(newTestCache(t), nil, NewOpts(0, true, -time.Second, 1), nil)
	require.Error(t, err)

	loader, err := New(newTestCache(t), nil, NewOpts(0, true, 0, 0), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultOptions.Concurrency, loader.opts.Concurrency)
	require.Nil(t, loader.failures)
}

func TestResolveUsesCache(t *testing.T) {
	var requestCount int32
	srv := imageServer(t, &requestCount)
	defer srv.Close()

	cache := newTestCache(t)
	loader := newTestLoader(t, cache, srv.Client(), DefaultOptions)
	imgURL := srv.URL + "/ok.png"

	img, err := loader.Resolve(context.Background(), imgURL)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	require.Equal(t, int32(1), atomic.LoadInt32(&requestCount))

	cached, found := cache.Get(imgURL)
	require.True(t, found)
	require.Equal(t, img, cached)
	require.Equal(t, int64(4*3*4), cache.TotalCost())

	img2, err := loader.Resolve(context.Background(), imgURL)
	require.NoError(t, err)
	require.Equal(t, img, img2)
	require.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
}

func TestResolveFailures(t *testing.T) {
	var requestCount int32
	srv := imageServer(t, &requestCount)
	defer srv.Close()

	cache := newTestCache(t)
	loader := newTestLoader(t, cache, srv.Client(), DefaultOptions)

	_, err := loader.Resolve(context.Background(), srv.URL+"/missing.png")
	require.ErrorIs(t, err, ErrLoadFailed)
	_, err = loader.Resolve(context.Background(), srv.URL+"/garbage.png")
	require.ErrorIs(t, err, ErrLoadFailed)
	require.Equal(t, 0, cache.Len())

	// Without a failure TTL every call tries again
	_, err = loader.Resolve(context.Background(), srv.URL+"/missing.png")
	require.ErrorIs(t, err, ErrLoadFailed)
	require.Equal(t, int32(3), atomic.LoadInt32(&requestCount))

	img, ok := loader.ResolveOrPlaceholder(context.Background(), srv.URL+"/missing.png")
	require.False(t, ok)
	require.Nil(t, img)
	img, ok = loader.ResolveOrPlaceholder(context.Background(), srv.URL+"/ok.png")
	require.True(t, ok)
	require.NotNil(t, img)
}

func TestResolveTransportError(t *testing.T) {
	cause := errors.New("dial tcp: lookup image.example: no such host")
	loader := newTestLoader(t, newTestCache(t), doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, cause
	}), DefaultOptions)

	_, err := loader.Resolve(context.Background(), "https://image.example/a.jpg")
	require.ErrorIs(t, err, ErrLoadFailed)
	require.ErrorIs(t, err, cause)
}

func TestResolveInvalidURL(t *testing.T) {
	loader := newTestLoader(t, newTestCache(t), doerFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("No request must be sent for an invalid URL")
		return nil, nil
	}), DefaultOptions)

	urls := []string{"", "not a url", "ftp://example.com/a.png", "https:///a.png", "https://example.com/%zz"}
	for _, u := range urls {
		_, err := loader.Resolve(context.Background(), u)
		require.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestResolveMaxBytes(t *testing.T) {
	data := pngBytes(t, 50, 50)
	loader := newTestLoader(t, newTestCache(t), doerFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(data), nil
	}), NewOpts(int64(len(data)-1), true, 0, 1))
	_, err := loader.Resolve(context.Background(), "https://image.example/a.png")
	require.ErrorIs(t, err, ErrLoadFailed)

	loader = newTestLoader(t, newTestCache(t), doerFunc(func(req *http.Request) (*http.Response, error) {
		return okResponse(data), nil
	}), NewOpts(int64(len(data)), true, 0, 1))
	_, err = loader.Resolve(context.Background(), "https://image.example/a.png")
	require.NoError(t, err)
}

func TestCancelledResolveDoesNotCache(t *testing.T) {
	data := pngBytes(t, 4, 4)
	started := make(chan struct{})
	release := make(chan struct{})
	// The transport ignores the cancellation, so the download completes after the caller gave up.
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		close(started)
		<-release
		return okResponse(data), nil
	})
	cache := newTestCache(t)
	loader := newTestLoader(t, cache, doer, NewOpts(0, false, time.Minute, 1))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		_, err := loader.Resolve(ctx, "https://image.example/a.png")
		errChan <- err
	}()
	<-started
	cancel()
	close(release)

	err := <-errChan
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, cache.Len())
	// Cancellation isn't remembered as failure
	_, found := loader.failures.Get("https://image.example/a.png")
	require.False(t, found)
}

func TestCancelledCallerReturnsEarly(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		select {
		case <-release:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
		return nil, errors.New("released")
	})
	loader := newTestLoader(t, newTestCache(t), doer, DefaultOptions)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := loader.Resolve(ctx, "https://image.example/slow.png")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCollapseDuplicates(t *testing.T) {
	data := pngBytes(t, 4, 4)
	var requestCount int32
	release := make(chan struct{})
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&requestCount, 1)
		<-release
		return okResponse(data), nil
	})
	cache := newTestCache(t)
	loader := newTestLoader(t, cache, doer, DefaultOptions)

	const callers = 10
	wg := sync.WaitGroup{}
	imgs := make([]image.Image, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			imgs[i], errs[i] = loader.Resolve(context.Background(), "https://image.example/a.png")
		}(i)
	}
	// Give all callers the chance to join the in-flight download
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, imgs[0], imgs[i])
	}
	require.Equal(t, 1, cache.Len())
}

func TestWithoutCollapsingDuplicates(t *testing.T) {
	data := pngBytes(t, 4, 4)
	var requestCount int32
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&requestCount, 1)
		arrived.Done()
		<-release
		return okResponse(data), nil
	})
	loader := newTestLoader(t, newTestCache(t), doer, NewOpts(0, false, 0, 1))

	errChan := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := loader.Resolve(context.Background(), "https://image.example/a.png")
			errChan <- err
		}()
	}
	// Both callers download independently
	arrived.Wait()
	close(release)
	require.NoError(t, <-errChan)
	require.NoError(t, <-errChan)
	require.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
}

func TestFailureTTL(t *testing.T) {
	var requestCount int32
	srv := imageServer(t, &requestCount)
	defer srv.Close()

	loader := newTestLoader(t, newTestCache(t), srv.Client(), NewOpts(0, true, time.Hour, 1))
	for i := 0; i < 3; i++ {
		_, err := loader.Resolve(context.Background(), srv.URL+"/missing.png")
		require.ErrorIs(t, err, ErrLoadFailed)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&requestCount))

	// Other URLs aren't affected
	_, err := loader.Resolve(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
}

func TestPrefetch(t *testing.T) {
	var requestCount int32
	srv := imageServer(t, &requestCount)
	defer srv.Close()

	cache := newTestCache(t)
	loader := newTestLoader(t, cache, srv.Client(), NewOpts(0, true, 0, 2))

	err := loader.Prefetch(context.Background(),
		srv.URL+"/ok.png",
		srv.URL+"/missing.png",
		srv.URL+"/garbage.png",
		"",
	)
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	for _, e := range errs {
		require.True(t, errors.Is(e, ErrLoadFailed) || errors.Is(e, ErrInvalidURL), e.Error())
	}
	_, found := cache.Get(srv.URL + "/ok.png")
	require.True(t, found)

	require.NoError(t, loader.Prefetch(context.Background(), srv.URL+"/ok.png"))
	require.NoError(t, loader.Prefetch(context.Background()))
}

func TestPrefetchCancelled(t *testing.T) {
	loader := newTestLoader(t, newTestCache(t), doerFunc(func(req *http.Request) (*http.Response, error) {
		return nil, req.Context().Err()
	}), NewOpts(0, true, 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loader.Prefetch(ctx, "https://image.example/a.png", "https://image.example/b.png")
	require.ErrorIs(t, err, context.Canceled)
}
