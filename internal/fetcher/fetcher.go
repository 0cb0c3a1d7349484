package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tender-harvester/internal/config"
	"tender-harvester/internal/observability"
)

// Maximum size of a JSON response body kept in memory.
const maxBodyBytes = 64 << 20

type Fetcher struct {
	client         *http.Client
	downloadClient *http.Client
	cfg            *config.Config
	baseURL        *url.URL
	logger         *observability.Logger
	metrics        *observability.Metrics
	rateLimiter    *RateLimiter
}

type FetchResponse struct {
	StatusCode int
	Body       []byte
	URL        string
	Headers    http.Header
}

func NewFetcher(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Fetcher, error) {
	baseURL, err := url.Parse(strings.TrimRight(cfg.API.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid api.base_url: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.GetConnectTimeout(),
		}).DialContext,
		TLSHandshakeTimeout: cfg.GetConnectTimeout(),
		MaxIdleConns:        cfg.HTTP.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnectionsPerHost,
		IdleConnTimeout:     cfg.GetIdleConnectionTimeout(),
	}

	return &Fetcher{
		client:         &http.Client{Timeout: cfg.GetTotalTimeout(), Transport: transport},
		downloadClient: &http.Client{Timeout: cfg.GetDownloadTimeout(), Transport: transport},
		cfg:            cfg,
		baseURL:        baseURL,
		logger:         logger,
		metrics:        metrics,
		rateLimiter:    NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.MaxConcurrent),
	}, nil
}

// ResolveURL превращает путь эндпоинта или относительную ссылку в абсолютный URL
func (f *Fetcher) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", Permanent(fmt.Errorf("invalid URL %q: %w", ref, err))
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	// ведущий "/" относится к base_url, а не к корню хоста
	u.Path = strings.TrimLeft(u.Path, "/")
	return f.baseURL.ResolveReference(u).String(), nil
}

// Get: один GET-запрос без повторов. Ошибки классифицированы как
// TransientError/PermanentError; повторы делает вызывающая сторона.
func (f *Fetcher) Get(ctx context.Context, endpoint, ref string, params url.Values) (*FetchResponse, error) {
	resp, release, err := f.do(ctx, f.client, endpoint, ref, params, "application/json")
	if err != nil {
		return nil, err
	}
	defer release()
	defer f.closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.countRequest(endpoint, "error")
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}

	f.logger.Debug("Response received",
		"endpoint", endpoint,
		"url", resp.Request.URL.String(),
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"bytes", len(body),
	)
	f.countRequest(endpoint, "ok")

	return &FetchResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		URL:        resp.Request.URL.String(),
		Headers:    resp.Header,
	}, nil
}

// Stream копирует тело ответа в w. Возвращает число записанных байт и
// Content-Length из ответа (-1 если неизвестен).
func (f *Fetcher) Stream(ctx context.Context, endpoint, ref string, w io.Writer) (written, contentLength int64, err error) {
	resp, release, err := f.do(ctx, f.downloadClient, endpoint, ref, nil, "*/*")
	if err != nil {
		return 0, -1, err
	}
	defer release()
	defer f.closeBody(resp)

	written, err = io.Copy(errWriter{w: w}, resp.Body)
	if err != nil {
		f.countRequest(endpoint, "error")
		// ошибку записи на диск не маскируем под сетевую
		var writeErr *WriteError
		if errors.As(err, &writeErr) {
			return written, resp.ContentLength, err
		}
		return written, resp.ContentLength, Transient(fmt.Errorf("read body: %w", err))
	}
	f.countRequest(endpoint, "ok")
	return written, resp.ContentLength, nil
}

// WriteError оборачивает ошибки writer'а в Stream, чтобы отличить их от сетевых
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// errWriter заворачивает ошибки записи в *WriteError
type errWriter struct {
	w io.Writer
}

func (ew errWriter) Write(p []byte) (int, error) {
	n, err := ew.w.Write(p)
	if err != nil {
		return n, &WriteError{Err: err}
	}
	return n, nil
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, endpoint, ref string, params url.Values, accept string) (*http.Response, func(), error) {
	target, err := f.ResolveURL(ref)
	if err != nil {
		return nil, nil, err
	}
	if len(params) > 0 {
		u, _ := url.Parse(target)
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	release, err := f.rateLimiter.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		release()
		return nil, nil, Permanent(err)
	}
	req.Header.Set("User-Agent", f.cfg.HTTP.UserAgent)
	req.Header.Set("Accept", accept)
	if f.cfg.API.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.API.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		release()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		f.countRequest(endpoint, "network_error")
		return nil, nil, Transient(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.closeBody(resp)
		release()
		f.countRequest(endpoint, strconv.Itoa(resp.StatusCode))
		return nil, nil, classifyStatus(resp.StatusCode, target)
	}

	return resp, release, nil
}

func (f *Fetcher) closeBody(resp *http.Response) {
	// дочитываем остаток, чтобы соединение вернулось в пул
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if err := resp.Body.Close(); err != nil {
		f.logger.Warn("Failed to close response body", "error", err.Error())
	}
}

func (f *Fetcher) countRequest(endpoint, outcome string) {
	if f.metrics != nil {
		f.metrics.Requests.WithLabelValues(endpoint, outcome).Inc()
	}
}
