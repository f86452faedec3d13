// Package codeclimate is a small client for the Code Climate v1 REST API,
// covering the repository, build, snapshot and issue resources.
package codeclimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/parameterIT/experiment-toolkit/pkg/issues"
)

// Sentinel errors.
var (
	// ErrNotFound is returned for unknown repositories, builds or snapshots.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the API rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRequest is returned for any other 4xx response. These are never retried.
	ErrRequest = errors.New("request rejected")
	// ErrTransient is returned once transport retries are exhausted.
	ErrTransient = errors.New("transient failure")
	// ErrPartialPage is returned when an issue page cannot be fetched or decoded.
	// Aggregation must not continue on an incomplete issue set.
	ErrPartialPage = errors.New("partial issue page")
	// ErrMissingToken is returned by NewClient when no token is supplied.
	ErrMissingToken = errors.New("api token is required")
)

// Defaults.
const (
	DefaultBaseURL     = "https://api.codeclimate.com/v1/"
	DefaultPageSize    = 100
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	defaultMaxBackoff  = 30 * time.Second

	mediaType = "application/vnd.api+json"

	responseLimit = 16 << 20 // 16MB

	statusOK    = "ok"
	statusError = "error"
)

// RequestRecorder receives per-request RED metrics.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, op, status string, duration time.Duration)
	TrackInflight(ctx context.Context, op string) func()
}

// Options configures the client. Zero-value fields receive defaults.
type Options struct {
	BaseURL     string
	Token       string
	PageSize    int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Metrics     RequestRecorder
}

// Client talks to the Code Climate API.
type Client struct {
	base       *url.URL
	token      string
	pageSize   int
	httpClient *http.Client
	retry      retryPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    RequestRecorder
}

// NewClient creates a client from opts.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", opts.BaseURL)
	}

	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	if opts.Backoff < 0 {
		opts.Backoff = 0
	} else if opts.Backoff == 0 {
		opts.Backoff = DefaultBackoff
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("codeclimate")
	}

	return &Client{
		base:       base,
		token:      opts.Token,
		pageSize:   opts.PageSize,
		httpClient: httpClient,
		retry: retryPolicy{
			maxAttempts: opts.MaxAttempts,
			backoff:     opts.Backoff,
			maxBackoff:  defaultMaxBackoff,
		},
		logger:  logger,
		tracer:  tracer,
		metrics: opts.Metrics,
	}, nil
}

// PageSize returns the page size used for paginated requests.
func (c *Client) PageSize() int {
	return c.pageSize
}

// RepositoryID looks up the id of the repository registered under slug.
func (c *Client) RepositoryID(ctx context.Context, slug string) (string, error) {
	query := url.Values{}
	query.Set("github_slug", slug)

	var doc repoListDoc

	err := c.getJSON(ctx, "repository", c.resolve("repos", query), &doc)
	if err != nil {
		return "", fmt.Errorf("lookup repository %s: %w", slug, err)
	}

	if len(doc.Data) == 0 || doc.Data[0].ID == "" {
		return "", fmt.Errorf("repository %s: %w", slug, ErrNotFound)
	}

	return doc.Data[0].ID, nil
}

// ListBuilds returns every build of the repository, following the server's
// next links until none is left.
func (c *Client) ListBuilds(ctx context.Context, repoID string) ([]Build, error) {
	next := c.buildsURL(repoID, 1)

	var all []Build

	for pages := 1; next != ""; pages++ {
		var doc buildListDoc

		err := c.getJSON(ctx, "builds", next, &doc)
		if err != nil {
			return nil, fmt.Errorf("list builds page %d: %w", pages, err)
		}

		for _, d := range doc.Data {
			all = append(all, d.toBuild(repoID))
		}

		next = doc.Links.Next
	}

	return all, nil
}

// BuildPage fetches a single page of builds without following links. Used
// while polling so the full history is not walked on every tick.
func (c *Client) BuildPage(ctx context.Context, repoID string, page int) ([]Build, error) {
	var doc buildListDoc

	err := c.getJSON(ctx, "builds", c.buildsURL(repoID, page), &doc)
	if err != nil {
		return nil, fmt.Errorf("builds page %d: %w", page, err)
	}

	out := make([]Build, 0, len(doc.Data))
	for _, d := range doc.Data {
		out = append(out, d.toBuild(repoID))
	}

	return out, nil
}

// Snapshot fetches snapshot metadata and derives its page count.
func (c *Client) Snapshot(ctx context.Context, snapshotID, repoID string) (Snapshot, error) {
	var doc snapshotDoc

	target := c.resolve("repos/"+repoID+"/snapshots/"+snapshotID, nil)

	err := c.getJSON(ctx, "snapshot", target, &doc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}

	return NewSnapshot(snapshotID, repoID, doc.Data.Meta.IssuesCount, c.pageSize), nil
}

// ListIssues fetches pages 1..snap.Pages and concatenates them in page
// order. The declared total is trusted: exactly snap.Pages requests are made
// even when a page comes back short.
func (c *Client) ListIssues(ctx context.Context, snap Snapshot) ([]issues.Issue, error) {
	pageSize := snap.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	all := make([]issues.Issue, 0, snap.IssueCount)

	for page := 1; page <= snap.Pages; page++ {
		query := url.Values{}
		query.Set("page[number]", strconv.Itoa(page))
		query.Set("page[size]", strconv.Itoa(pageSize))

		target := c.resolve(
			"repos/"+snap.RepositoryID+"/snapshots/"+snap.ID+"/issues", query)

		var doc issueListDoc

		err := c.getJSON(ctx, "issues", target, &doc)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot %s page %d/%d: %w", ErrPartialPage, snap.ID, page, snap.Pages, err)
		}

		for _, d := range doc.Data {
			all = append(all, d.toIssue())
		}
	}

	return all, nil
}

func (d issueDoc) toIssue() issues.Issue {
	category := UnknownCategory
	if len(d.Attributes.Categories) > 0 {
		category = d.Attributes.Categories[0]
	}

	return issues.Issue{
		Check:    d.Attributes.CheckName,
		Category: category,
		Location: issues.Location{
			Path:      d.Attributes.Location.Path,
			StartLine: d.Attributes.Location.StartLine,
			EndLine:   d.Attributes.Location.EndLine,
		},
	}
}

func (c *Client) buildsURL(repoID string, page int) string {
	query := url.Values{}
	query.Set("page[number]", strconv.Itoa(page))
	query.Set("page[size]", strconv.Itoa(c.pageSize))

	return c.resolve("repos/"+repoID+"/builds", query)
}

func (c *Client) resolve(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}

	return c.base.ResolveReference(ref).String()
}

func (c *Client) getJSON(ctx context.Context, op, target string, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "codeclimate.GET "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", target)),
	)
	defer span.End()

	start := time.Now()

	if c.metrics != nil {
		done := c.metrics.TrackInflight(ctx, op)
		defer done()

		defer func() {
			status := statusOK
			if err != nil {
				status = statusError
			}

			c.metrics.RecordRequest(ctx, op, status, time.Since(start))
		}()
	}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Token token="+c.token)
	req.Header.Set("Accept", mediaType)

	resp, err := c.retry.do(ctx, c.httpClient, req, c.logger)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	err = checkStatus(resp)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}

	c.logger.DebugContext(ctx, "api request", "op", op, "url", target, "duration", time.Since(start))

	return nil
}

// checkStatus maps non-2xx responses that survived the retry loop to
// semantic errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	msg := readErrorBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	default:
		return fmt.Errorf("%w: %s: %s", ErrRequest, resp.Status, msg)
	}
}

func readErrorBody(body io.Reader) string {
	const limit = 4 << 10

	raw, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}

	return strings.TrimSpace(string(raw))
}
