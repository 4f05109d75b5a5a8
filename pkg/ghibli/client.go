package ghibli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ClientOptions struct {
	BaseURL string
	// Timeout for a whole request, including reading the body.
	// 0 means no timeout on top of the transport's own ones.
	Timeout time.Duration
}

func NewClientOpts(baseURL string, timeout time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL: baseURL,
		Timeout: timeout,
	}
}

var DefaultClientOpts = ClientOptions{
	BaseURL: "https://ghibliapi.vercel.app",
}

// HTTPDoer is the transport the Client sends its requests with.
// *http.Client implements it. It must be safe for concurrent use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Studio Ghibli API.
// It doesn't cache or retry anything and holds no mutable state, so it's safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     *zap.Logger
}

// NewClient creates a new Client.
// If httpClient is nil, an *http.Client with opts.Timeout and Go's shared default transport is used.
func NewClient(opts ClientOptions, httpClient HTTPDoer, logger *zap.Logger) (*Client, error) {
	// Precondition check
	if opts.BaseURL == "" {
		return nil, errors.New("opts.BaseURL must not be empty")
	}
	if u, err := url.Parse(opts.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("opts.BaseURL must be an absolute URL with scheme and host")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListFilms fetches all films.
// The returned error is always an *APIError.
func (c *Client) ListFilms(ctx context.Context) ([]Film, error) {
	resBody, err := c.get(ctx, c.baseURL+"/films")
	if err != nil {
		return nil, err
	}
	films, err := decodeFilms(resBody)
	if err != nil {
		c.logger.Warn("Couldn't decode films", zap.Error(err))
		return nil, &APIError{Kind: KindDecoding, Err: err}
	}
	c.logger.Debug("Fetched films", zap.Int("filmCount", len(films)))
	return films, nil
}

// GetFilm fetches the film with the given ID.
// The ID isn't validated beyond being non-empty, an unknown or malformed ID is rejected by the API.
// The returned error is always an *APIError.
func (c *Client) GetFilm(ctx context.Context, id string) (Film, error) {
	if id == "" {
		return Film{}, &APIError{Kind: KindInvalidRequest, Err: errors.New("film ID must not be empty")}
	}
	resBody, err := c.get(ctx, c.baseURL+"/films/"+id)
	if err != nil {
		return Film{}, err
	}
	film, err := decodeFilm(resBody)
	if err != nil {
		c.logger.Warn("Couldn't decode film", zap.Error(err), zap.String("filmID", id))
		return Film{}, &APIError{Kind: KindDecoding, Err: err}
	}
	return film, nil
}

// get sends a GET request and returns the body of a 2xx response.
// The body of any other response isn't read.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	zapFieldURL := zap.String("url", reqURL)

	u, err := url.Parse(reqURL)
	if err != nil {
		return nil, &APIError{Kind: KindInvalidRequest, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &APIError{Kind: KindInvalidRequest, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Sending request", zapFieldURL)
	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Couldn't send request", zap.Error(err), zapFieldURL)
		return nil, &APIError{Kind: KindNetwork, Err: err}
	}
	if res == nil || res.StatusCode == 0 || res.Body == nil {
		if res != nil && res.Body != nil {
			res.Body.Close()
		}
		return nil, &APIError{Kind: KindInvalidResponse, Err: errors.New("transport returned no usable response")}
	}
	defer res.Body.Close()

	c.logger.Debug("Received response", zap.Int("status", res.StatusCode), zap.Duration("duration", time.Since(start)), zapFieldURL)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &APIError{Kind: KindHTTP, StatusCode: res.StatusCode}
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Err: err}
	}
	return resBody, nil
}
