package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/doingodswork/ghibli-catalog/pkg/ghibli"
	"github.com/doingodswork/ghibli-catalog/pkg/imagecache"
	"github.com/doingodswork/ghibli-catalog/pkg/imageloader"
	"github.com/doingodswork/ghibli-catalog/pkg/transport"
	"github.com/doingodswork/ghibli-catalog/pkg/viewstate"
)

const usage = `Usage: ghibli-catalog [flags] <command>

Commands:
  list        List all films
  show <id>   Show the details of a film
  thumbs      Load the posters and banners of all films into the image cache

Flags:
`

func main() {
	fs := flag.NewFlagSet("ghibli-catalog", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	config, err := parseConfig(fs, os.Args[1:], os.LookupEnv)
	if err == nil {
		err = config.validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(config.LogLevel, config.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't create logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()
	logger.Debug("Parsed config", zap.Reflect("config", config))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(ctx, config, fs.Args(), os.Stdout, logger)
	stop()
	logger.Sync()
	os.Exit(exitCode)
}

type app struct {
	client *ghibli.Client
	cache  *imagecache.Cache
	loader *imageloader.Loader
	config config
	out    io.Writer
	logger *zap.Logger
}

func newApp(config config, out io.Writer, logger *zap.Logger) (*app, error) {
	httpClient, err := transport.NewHTTPClient(transport.NewOpts(config.Timeout, config.SocksProxyAddr, false))
	if err != nil {
		return nil, fmt.Errorf("Couldn't create HTTP client: %w", err)
	}
	// Timeout is already handled by the HTTP client
	client, err := ghibli.NewClient(ghibli.NewClientOpts(config.BaseURL, 0), httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create Ghibli client: %w", err)
	}
	cacheOpts := imagecache.NewOpts(config.CacheMaxEntries, int64(config.CacheMaxMB)*1024*1024, "images")
	cache, err := imagecache.New(cacheOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create image cache: %w", err)
	}
	loaderOpts := imageloader.NewOpts(int64(config.ImageMaxMB)*1024*1024, config.CollapseDuplicates, config.FailureTTL, config.Concurrency)
	loader, err := imageloader.New(cache, httpClient, loaderOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("Couldn't create image loader: %w", err)
	}
	return &app{
		client: client,
		cache:  cache,
		loader: loader,
		config: config,
		out:    out,
		logger: logger,
	}, nil
}

// run executes the command in args and returns the process exit code.
func run(ctx context.Context, config config, args []string, out io.Writer, logger *zap.Logger) int {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return 2
	}
	a, err := newApp(config, out, logger)
	if err != nil {
		logger.Error("Couldn't set up", zap.Error(err))
		return 1
	}

	switch args[0] {
	case "list":
		err = a.list(ctx)
	case "show":
		if len(args) != 2 {
			fmt.Fprintln(out, "Usage: ghibli-catalog show <id>")
			return 2
		}
		err = a.show(ctx, args[1])
	case "thumbs":
		err = a.thumbs(ctx)
	default:
		fmt.Fprintf(out, "Unknown command %q\n\n%v", args[0], usage)
		return 2
	}
	if config.Metrics {
		if metricsErr := writeMetrics(out, prometheus.DefaultGatherer); metricsErr != nil {
			logger.Error("Couldn't write metrics", zap.Error(metricsErr))
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func (a *app) list(ctx context.Context) error {
	films := viewstate.NewFilmList(a.client, a.config.langTag, a.logger)
	if err := films.Load(ctx); err != nil {
		a.printState(films.State().Phase, films.State().Message, err)
		return err
	}
	for _, film := range films.State().Value {
		fmt.Fprintf(a.out, "%v  %v (%v)\n", film.ID, film.Title, film.ReleaseDate)
	}
	return nil
}

func (a *app) show(ctx context.Context, id string) error {
	detail := viewstate.NewFilmDetail(a.client, a.config.langTag, a.logger)
	if err := detail.Load(ctx, id); err != nil {
		a.printState(detail.State().Phase, detail.State().Message, err)
		return err
	}
	film := detail.State().Value
	fields := []struct {
		name  string
		value string
	}{
		{"ID", film.ID},
		{"Title", film.Title},
		{"Original title", film.OriginalTitle},
		{"Original title (romanised)", film.OriginalTitleRomanised},
		{"Director", film.Director},
		{"Producer", film.Producer},
		{"Release date", film.ReleaseDate},
		{"Running time", film.RunningTime + " min"},
		{"Rotten Tomatoes score", film.RTScore},
		{"Image", orDash(film.Image)},
		{"Banner", orDash(film.MovieBanner)},
	}
	for _, field := range fields {
		fmt.Fprintf(a.out, "%-27v %v\n", field.name+":", field.value)
	}
	fmt.Fprintf(a.out, "\n%v\n", film.Description)
	return nil
}

func (a *app) thumbs(ctx context.Context) error {
	films := viewstate.NewFilmList(a.client, a.config.langTag, a.logger)
	if err := films.Load(ctx); err != nil {
		a.printState(films.State().Phase, films.State().Message, err)
		return err
	}

	var urls []string
	for _, film := range films.State().Value {
		if film.Image != nil {
			urls = append(urls, *film.Image)
		}
		if film.MovieBanner != nil {
			urls = append(urls, *film.MovieBanner)
		}
	}
	prefetchErr := a.loader.Prefetch(ctx, urls...)
	if err := ctx.Err(); err != nil {
		return err
	}
	failed := len(multierr.Errors(prefetchErr))
	for _, err := range multierr.Errors(prefetchErr) {
		a.logger.Warn("Couldn't prefetch image", zap.Error(err))
	}

	// Failed images are remembered by the loader for a while, so they don't lead to new requests here.
	for _, u := range urls {
		var result string
		if img, ok := a.loader.ResolveOrPlaceholder(ctx, u); !ok {
			result = "placeholder"
		} else {
			b := img.Bounds()
			result = fmt.Sprintf("ok %vx%v", b.Dx(), b.Dy())
		}
		fmt.Fprintf(a.out, "%v  %v\n", result, u)
	}

	stats := a.cache.Stats()
	fmt.Fprintf(a.out, "\n%v of %v images loaded. Cache: %v/%v entries, %v/%v KB\n",
		len(urls)-failed, len(urls), stats.Entries, stats.MaxEntries, stats.Cost/1024, stats.MaxCost/1024)
	a.cache.LogStats()
	return nil
}

func (a *app) printState(phase viewstate.Phase, message string, err error) {
	// A cancelled load doesn't have a failure message
	if phase != viewstate.PhaseFailed {
		message = err.Error()
	}
	fmt.Fprintln(a.out, message)
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
