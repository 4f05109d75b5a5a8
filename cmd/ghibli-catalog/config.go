package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
)

type config struct {
	BaseURL            string        `json:"baseURL"`
	Timeout            time.Duration `json:"timeout"`
	SocksProxyAddr     string        `json:"socksProxyAddr"`
	Lang               string        `json:"lang"`
	LogLevel           string        `json:"logLevel"`
	LogEncoding        string        `json:"logEncoding"`
	CacheMaxEntries    int           `json:"cacheMaxEntries"`
	CacheMaxMB         int           `json:"cacheMaxMB"`
	ImageMaxMB         int           `json:"imageMaxMB"`
	CollapseDuplicates bool          `json:"collapseDuplicates"`
	FailureTTL         time.Duration `json:"failureTTL"`
	Concurrency        int           `json:"concurrency"`
	Metrics            bool          `json:"metrics"`
	EnvPrefix          string        `json:"envPrefix"`

	// Parsed from Lang by validate()
	langTag language.Tag
}

// parseConfig parses the command line arguments into fs and falls back to environment variables
// (looked up with lookupEnv) for the ones that weren't set.
func parseConfig(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (config, error) {
	result := config{}

	// Flags
	var (
		baseURL            = fs.String("baseURL", "https://ghibliapi.vercel.app", "Base URL of the Studio Ghibli API")
		timeout            = fs.Duration("timeout", 10*time.Second, "Timeout for each HTTP request, including reading the response body. The format must be acceptable by Go's 'time.ParseDuration()', for example \"10s\". 0 means no timeout.")
		socksProxyAddr     = fs.String("socksProxyAddr", "", "SOCKS5 proxy address for all HTTP requests, for example \"127.0.0.1:9050\" for the TOR network. Empty means no proxy.")
		lang               = fs.String("lang", "en", `Language of the messages for the user, as BCP 47 tag. "en" and "pt-BR" are supported, anything else falls back to "en".`)
		logLevel           = fs.String("logLevel", "info", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding        = fs.String("logEncoding", "console", `Log encoding. Can be "console" or "json".`)
		cacheMaxEntries    = fs.Int("cacheMaxEntries", 100, "Max number of images in the in-memory image cache")
		cacheMaxMB         = fs.Int("cacheMaxMB", 50, "Max memory footprint of the decoded images in the image cache, in megabytes")
		imageMaxMB         = fs.Int("imageMaxMB", 10, "Max size of a single downloaded image file, in megabytes. 0 means no limit.")
		collapseDuplicates = fs.Bool("collapseDuplicates", true, "Let concurrent loads of the same image share a single download")
		failureTTL         = fs.Duration("failureTTL", time.Minute, "How long an image that failed to load isn't requested again. 0 disables this.")
		concurrency        = fs.Int("concurrency", 4, "Max number of concurrent image downloads when prefetching")
		metrics            = fs.Bool("metrics", false, "Print the image cache metrics in the Prometheus text format after the command")
		envPrefix          = fs.String("envPrefix", "", "Prefix for environment variables")
	)

	if err := fs.Parse(args); err != nil {
		return result, err
	}

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not been set (and that *are* set via env var).
	var err error
	if !isArgSet(fs, "baseURL") {
		if val, ok := lookupEnv(*envPrefix + "BASE_URL"); ok {
			*baseURL = val
		}
	}
	result.BaseURL = *baseURL

	if !isArgSet(fs, "timeout") {
		if val, ok := lookupEnv(*envPrefix + "TIMEOUT"); ok {
			if *timeout, err = time.ParseDuration(val); err != nil {
				return result, envVarError("TIMEOUT", "time.Duration", err)
			}
		}
	}
	result.Timeout = *timeout

	if !isArgSet(fs, "socksProxyAddr") {
		if val, ok := lookupEnv(*envPrefix + "SOCKS_PROXY_ADDR"); ok {
			*socksProxyAddr = val
		}
	}
	result.SocksProxyAddr = *socksProxyAddr

	// Not "LANG", which holds the POSIX locale (like "en_US.UTF-8") in most shells
	if !isArgSet(fs, "lang") {
		if val, ok := lookupEnv(*envPrefix + "MESSAGE_LANG"); ok {
			*lang = val
		}
	}
	result.Lang = *lang

	if !isArgSet(fs, "logLevel") {
		if val, ok := lookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet(fs, "logEncoding") {
		if val, ok := lookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	if !isArgSet(fs, "cacheMaxEntries") {
		if val, ok := lookupEnv(*envPrefix + "CACHE_MAX_ENTRIES"); ok {
			if *cacheMaxEntries, err = strconv.Atoi(val); err != nil {
				return result, envVarError("CACHE_MAX_ENTRIES", "int", err)
			}
		}
	}
	result.CacheMaxEntries = *cacheMaxEntries

	if !isArgSet(fs, "cacheMaxMB") {
		if val, ok := lookupEnv(*envPrefix + "CACHE_MAX_MB"); ok {
			if *cacheMaxMB, err = strconv.Atoi(val); err != nil {
				return result, envVarError("CACHE_MAX_MB", "int", err)
			}
		}
	}
	result.CacheMaxMB = *cacheMaxMB

	if !isArgSet(fs, "imageMaxMB") {
		if val, ok := lookupEnv(*envPrefix + "IMAGE_MAX_MB"); ok {
			if *imageMaxMB, err = strconv.Atoi(val); err != nil {
				return result, envVarError("IMAGE_MAX_MB", "int", err)
			}
		}
	}
	result.ImageMaxMB = *imageMaxMB

	if !isArgSet(fs, "collapseDuplicates") {
		if val, ok := lookupEnv(*envPrefix + "COLLAPSE_DUPLICATES"); ok {
			if *collapseDuplicates, err = strconv.ParseBool(val); err != nil {
				return result, envVarError("COLLAPSE_DUPLICATES", "bool", err)
			}
		}
	}
	result.CollapseDuplicates = *collapseDuplicates

	if !isArgSet(fs, "failureTTL") {
		if val, ok := lookupEnv(*envPrefix + "FAILURE_TTL"); ok {
			if *failureTTL, err = time.ParseDuration(val); err != nil {
				return result, envVarError("FAILURE_TTL", "time.Duration", err)
			}
		}
	}
	result.FailureTTL = *failureTTL

	if !isArgSet(fs, "concurrency") {
		if val, ok := lookupEnv(*envPrefix + "CONCURRENCY"); ok {
			if *concurrency, err = strconv.Atoi(val); err != nil {
				return result, envVarError("CONCURRENCY", "int", err)
			}
		}
	}
	result.Concurrency = *concurrency

	if !isArgSet(fs, "metrics") {
		if val, ok := lookupEnv(*envPrefix + "METRICS"); ok {
			if *metrics, err = strconv.ParseBool(val); err != nil {
				return result, envVarError("METRICS", "bool", err)
			}
		}
	}
	result.Metrics = *metrics

	return result, nil
}

func envVarError(envVar, targetType string, err error) error {
	return fmt.Errorf("Couldn't convert environment variable %v from string to %v: %w", envVar, targetType, err)
}

func (c *config) validate() error {
	if c.BaseURL == "" {
		return errors.New("baseURL must not be empty")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	tag, err := language.Parse(c.Lang)
	if err != nil {
		return fmt.Errorf("lang must be a BCP 47 language tag: %w", err)
	}
	c.langTag = tag
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf(`logLevel must be one of "debug", "info", "warn" or "error": %w`, err)
	}
	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		return fmt.Errorf(`logEncoding must be one of "console" or "json", but is %q`, c.LogEncoding)
	}
	if c.CacheMaxEntries <= 0 {
		return errors.New("cacheMaxEntries must be greater than 0")
	}
	if c.CacheMaxMB <= 0 {
		return errors.New("cacheMaxMB must be greater than 0")
	}
	if c.ImageMaxMB < 0 {
		return errors.New("imageMaxMB must not be negative")
	}
	if c.FailureTTL < 0 {
		return errors.New("failureTTL must not be negative")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be greater than 0")
	}
	return nil
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(fs *flag.FlagSet, arg string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
