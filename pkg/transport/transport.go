// Package transport builds the HTTP client that's shared by the Ghibli API client and the image loader.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

type Options struct {
	// Timeout for a whole request including reading the body. 0 means no timeout.
	Timeout time.Duration
	// Address of a SOCKS5 proxy like "localhost:9050". Empty means no proxy.
	SOCKS5Addr string
	// Keep cookies between requests, scoped by public suffix.
	CookieJar bool
}

func NewOpts(timeout time.Duration, socks5Addr string, cookieJar bool) Options {
	return Options{
		Timeout:    timeout,
		SOCKS5Addr: socks5Addr,
		CookieJar:  cookieJar,
	}
}

var DefaultOptions = Options{
	Timeout: 10 * time.Second,
}

// NewHTTPClient creates an HTTP client according to the given options.
func NewHTTPClient(opts Options) (*http.Client, error) {
	// Precondition check
	if opts.Timeout < 0 {
		return nil, errors.New("opts.Timeout must not be negative")
	}

	client := &http.Client{
		Timeout: opts.Timeout,
	}
	if opts.SOCKS5Addr != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.SOCKS5Addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("Couldn't create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer doesn't support contexts")
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
		client.Transport = transport
	}
	if opts.CookieJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("Couldn't create cookie jar: %w", err)
		}
		client.Jar = jar
	}
	return client, nil
}
