package imageloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Registers the GIF decoder
	_ "image/jpeg" // Registers the JPEG decoder
	_ "image/png"  // Registers the PNG decoder
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/doingodswork/ghibli-catalog/pkg/imagecache"
)

var (
	// ErrInvalidURL is returned for empty or unparsable image URLs. No request is sent for them.
	ErrInvalidURL = errors.New("invalid image URL")
	// ErrLoadFailed is returned when an image couldn't be downloaded or decoded.
	ErrLoadFailed = errors.New("couldn't load image")
)

// HTTPDoer is the transport the Loader downloads images with.
// *http.Client implements it. It must be safe for concurrent use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// Max size of a downloaded image. 0 means no limit.
	MaxBytes int64
	// Let concurrent Resolve calls for the same URL share a single download.
	CollapseDuplicates bool
	// How long a failed URL fails fast without sending another request. 0 disables this.
	FailureTTL time.Duration
	// Max number of concurrent downloads of Prefetch.
	Concurrency int
}

func NewOpts(maxBytes int64, collapseDuplicates bool, failureTTL time.Duration, concurrency int) Options {
	return Options{
		MaxBytes:           maxBytes,
		CollapseDuplicates: collapseDuplicates,
		FailureTTL:         failureTTL,
		Concurrency:        concurrency,
	}
}

var DefaultOptions = Options{
	CollapseDuplicates: true,
	Concurrency:        4,
}

// Loader resolves image URLs to decoded images, using an image cache in front of the network.
type Loader struct {
	cache      *imagecache.Cache
	httpClient HTTPDoer
	opts       Options
	// Only set if opts.FailureTTL > 0
	failures *gocache.Cache
	group    singleflight.Group
	logger   *zap.Logger
}

// New creates a new Loader.
// If httpClient is nil, Go's http.DefaultClient is used.
func New(cache *imagecache.Cache, httpClient HTTPDoer, opts Options, logger *zap.Logger) (*Loader, error) {
	// Precondition check
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	if opts.MaxBytes < 0 {
		return nil, errors.New("opts.MaxBytes must not be negative")
	}
	if opts.FailureTTL < 0 {
		return nil, errors.New("opts.FailureTTL must not be negative")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions.Concurrency
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loader{
		cache:      cache,
		httpClient: httpClient,
		opts:       opts,
		logger:     logger,
	}
	if opts.FailureTTL > 0 {
		l.failures = gocache.New(opts.FailureTTL, 2*opts.FailureTTL)
	}
	return l, nil
}

// Resolve returns the image for the given URL, from the cache if possible and otherwise from the network.
// Downloaded images are put into the cache, unless ctx was cancelled in the meantime.
// Errors are either ErrInvalidURL, ErrLoadFailed or the context's error.
func (l *Loader) Resolve(ctx context.Context, rawURL string) (image.Image, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	if img, found := l.cache.Get(rawURL); found {
		l.logger.Debug("Hit cache for image, returning result", zap.String("url", rawURL))
		return img, nil
	}
	if l.failures != nil {
		if _, found := l.failures.Get(rawURL); found {
			l.logger.Debug("Image failed to load recently, not trying again yet", zap.String("url", rawURL))
			return nil, fmt.Errorf("%w: failed recently", ErrLoadFailed)
		}
	}

	if !l.opts.CollapseDuplicates {
		return l.load(ctx, rawURL)
	}

	resChan := l.group.DoChan(rawURL, func() (interface{}, error) {
		return l.load(ctx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resChan:
		if res.Err != nil {
			// The shared download ran with the context of whoever started it.
			// If only that one was cancelled, try again with our own.
			if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				return l.load(ctx, rawURL)
			}
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

// ResolveOrPlaceholder is like Resolve, but collapses any failure into ok == false,
// for callers that show a placeholder instead of an error.
func (l *Loader) ResolveOrPlaceholder(ctx context.Context, rawURL string) (img image.Image, ok bool) {
	img, err := l.Resolve(ctx, rawURL)
	if err != nil {
		l.logger.Debug("Couldn't resolve image, showing placeholder", zap.Error(err), zap.String("url", rawURL))
		return nil, false
	}
	return img, true
}

// Prefetch resolves all given URLs with up to opts.Concurrency concurrent downloads,
// so that later Resolve calls hit the cache.
// It returns the errors of all failed URLs combined, see multierr.Errors.
func (l *Loader) Prefetch(ctx context.Context, rawURLs ...string) error {
	var errs error
	errsLock := sync.Mutex{}
	sem := make(chan struct{}, l.opts.Concurrency)
	wg := sync.WaitGroup{}
	for _, rawURL := range rawURLs {
		select {
		case <-ctx.Done():
			// The remaining URLs aren't even started
			errsLock.Lock()
			errs = multierr.Append(errs, ctx.Err())
			errsLock.Unlock()
			wg.Wait()
			return errs
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(rawURL string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := l.Resolve(ctx, rawURL); err != nil {
				errsLock.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%v: %w", rawURL, err))
				errsLock.Unlock()
			}
		}(rawURL)
	}
	wg.Wait()
	return errs
}

func (l *Loader) load(ctx context.Context, rawURL string) (image.Image, error) {
	zapFieldURL := zap.String("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	start := time.Now()
	res, err := l.httpClient.Do(req)
	if err != nil {
		return nil, l.fail(rawURL, fmt.Errorf("%w: Couldn't GET %v: %w", ErrLoadFailed, rawURL, err))
	}
	if res == nil || res.Body == nil {
		return nil, l.fail(rawURL, fmt.Errorf("%w: no response", ErrLoadFailed))
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, l.fail(rawURL, fmt.Errorf("%w: bad GET response: %v", ErrLoadFailed, res.StatusCode))
	}

	var body io.Reader = res.Body
	if l.opts.MaxBytes > 0 {
		body = io.LimitReader(res.Body, l.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, l.fail(rawURL, fmt.Errorf("%w: Couldn't read response body: %w", ErrLoadFailed, err))
	}
	if l.opts.MaxBytes > 0 && int64(len(data)) > l.opts.MaxBytes {
		return nil, l.fail(rawURL, fmt.Errorf("%w: image is bigger than %d bytes", ErrLoadFailed, l.opts.MaxBytes))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, l.fail(rawURL, fmt.Errorf("%w: Couldn't decode image: %w", ErrLoadFailed, err))
	}

	// Whoever asked for the image doesn't want it anymore, so it mustn't end up in the cache.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.cache.Put(rawURL, img)
	l.logger.Debug("Loaded image", zap.String("format", format), zap.Int64("cost", imagecache.Cost(img)),
		zap.Duration("duration", time.Since(start)), zapFieldURL)
	return img, nil
}

// fail remembers the URL as failed (unless the failure is due to cancellation) and returns err.
func (l *Loader) fail(rawURL string, err error) error {
	if l.failures != nil && !isContextErr(err) {
		l.failures.SetDefault(rawURL, struct{}{})
	}
	l.logger.Debug("Couldn't load image", zap.Error(err), zap.String("url", rawURL))
	return err
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
