// Package youtube provides the channel data source used by the audit
// pipeline, backed by the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/resilience"
)

// Client defines the channel data source operations used by the
// ingestion and benchmarking stages.
type Client interface {
	// ResolveChannel resolves a channel id, handle, or URL to a ChannelRef.
	ResolveChannel(ctx context.Context, input string) (*model.ChannelRef, error)
	// FetchVideos returns the channel's most recent videos, newest first.
	FetchVideos(ctx context.Context, channelID string, maxResults int) ([]model.Video, error)
	// QueryPeers returns channels whose subscriber count falls within the
	// span, optionally filtered by category.
	QueryPeers(ctx context.Context, span model.TierSpan, filters model.PeerFilters) ([]model.ChannelRef, error)
}

// ErrChannelNotFound is returned when an input cannot be resolved to a
// channel.
var ErrChannelNotFound = eris.New("youtube: channel not found")

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a YouTube Data API client. Credentials are injected
// here; the client holds no process-wide mutable state.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/youtube/v3",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(8), 4),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- API response shapes (subset of the v3 surface we consume) ---

type listResponse struct {
	Items []apiItem `json:"items"`
}

type apiItem struct {
	ID         json.RawMessage `json:"id"`
	Snippet    apiSnippet      `json:"snippet"`
	Statistics apiStatistics   `json:"statistics"`
	Content    apiContent      `json:"contentDetails"`
}

type apiSnippet struct {
	Title       string    `json:"title"`
	CustomURL   string    `json:"customUrl"`
	CategoryID  string    `json:"categoryId"`
	ChannelID   string    `json:"channelId"`
	Country     string    `json:"country"`
	PublishedAt time.Time `json:"publishedAt"`
}

type apiStatistics struct {
	SubscriberCount string `json:"subscriberCount"`
	VideoCount      string `json:"videoCount"`
	ViewCount       string `json:"viewCount"`
	LikeCount       string `json:"likeCount"`
	CommentCount    string `json:"commentCount"`
}

type apiContent struct {
	Duration string `json:"duration"`
}

func (s apiStatistics) subscribers() int64 {
	n, _ := strconv.ParseInt(s.SubscriberCount, 10, 64)
	return n
}

func (s apiStatistics) videos() int64 {
	n, _ := strconv.ParseInt(s.VideoCount, 10, 64)
	return n
}

// itemID handles the two shapes the API uses: a plain string for
// channels/videos.list and an object for search.list.
func itemID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ChannelID string `json:"channelId"`
		VideoID   string `json:"videoId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.ChannelID != "" {
			return obj.ChannelID
		}
		return obj.VideoID
	}
	return ""
}

func (c *httpClient) ResolveChannel(ctx context.Context, input string) (*model.ChannelRef, error) {
	params := url.Values{
		"part": {"snippet,statistics"},
	}
	// Channel IDs start with "UC"; anything else is treated as a handle.
	if len(input) > 2 && input[:2] == "UC" {
		params.Set("id", input)
	} else {
		params.Set("forHandle", input)
	}

	var resp listResponse
	if err := c.get(ctx, "/channels", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, eris.Wrapf(ErrChannelNotFound, "input %q", input)
	}

	item := resp.Items[0]
	return &model.ChannelRef{
		ID:          itemID(item.ID),
		Title:       item.Snippet.Title,
		Handle:      item.Snippet.CustomURL,
		Category:    item.Snippet.CategoryID,
		Subscribers: item.Statistics.subscribers(),
		VideoCount:  item.Statistics.videos(),
		Country:     item.Snippet.Country,
	}, nil
}

func (c *httpClient) FetchVideos(ctx context.Context, channelID string, maxResults int) ([]model.Video, error) {
	if maxResults <= 0 {
		maxResults = 50
	}

	searchParams := url.Values{
		"part":       {"snippet"},
		"channelId":  {channelID},
		"type":       {"video"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(maxResults)},
	}

	var searchResp listResponse
	if err := c.get(ctx, "/search", searchParams, &searchResp); err != nil {
		return nil, err
	}
	if len(searchResp.Items) == 0 {
		return nil, nil
	}

	var ids string
	for i, item := range searchResp.Items {
		if i > 0 {
			ids += ","
		}
		ids += itemID(item.ID)
	}

	videoParams := url.Values{
		"part": {"snippet,statistics,contentDetails"},
		"id":   {ids},
	}

	var videoResp listResponse
	if err := c.get(ctx, "/videos", videoParams, &videoResp); err != nil {
		return nil, err
	}

	videos := make([]model.Video, 0, len(videoResp.Items))
	for _, item := range videoResp.Items {
		views, _ := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
		likes, _ := strconv.ParseInt(item.Statistics.LikeCount, 10, 64)
		comments, _ := strconv.ParseInt(item.Statistics.CommentCount, 10, 64)
		videos = append(videos, model.Video{
			ID:          itemID(item.ID),
			ChannelID:   channelID,
			Title:       item.Snippet.Title,
			PublishedAt: item.Snippet.PublishedAt,
			Duration:    parseISODuration(item.Content.Duration),
			Views:       views,
			Likes:       likes,
			Comments:    comments,
		})
	}
	return videos, nil
}

func (c *httpClient) QueryPeers(ctx context.Context, span model.TierSpan, filters model.PeerFilters) ([]model.ChannelRef, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 25
	}

	searchParams := url.Values{
		"part":       {"snippet"},
		"type":       {"channel"},
		"order":      {"viewCount"},
		"maxResults": {"50"},
	}
	if filters.Category != "" {
		searchParams.Set("topicId", filters.Category)
	}

	var searchResp listResponse
	if err := c.get(ctx, "/search", searchParams, &searchResp); err != nil {
		return nil, err
	}
	if len(searchResp.Items) == 0 {
		return nil, nil
	}

	var ids string
	for i, item := range searchResp.Items {
		if i > 0 {
			ids += ","
		}
		ids += itemID(item.ID)
	}

	statsParams := url.Values{
		"part": {"snippet,statistics"},
		"id":   {ids},
	}

	var statsResp listResponse
	if err := c.get(ctx, "/channels", statsParams, &statsResp); err != nil {
		return nil, err
	}

	var peers []model.ChannelRef
	for _, item := range statsResp.Items {
		subs := item.Statistics.subscribers()
		if subs < span.Min {
			continue
		}
		if span.Max > 0 && subs >= span.Max {
			continue
		}
		peers = append(peers, model.ChannelRef{
			ID:          itemID(item.ID),
			Title:       item.Snippet.Title,
			Handle:      item.Snippet.CustomURL,
			Category:    item.Snippet.CategoryID,
			Subscribers: subs,
			VideoCount:  item.Statistics.videos(),
			Country:     item.Snippet.Country,
		})
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Subscribers > peers[j].Subscribers
	})
	if len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}

// get issues a rate-limited GET with retries on transient failures and
// decodes the JSON response into out.
func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "youtube: rate limiter")
	}

	params.Set("key", c.apiKey)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if reqErr != nil {
			return nil, eris.Wrap(reqErr, "youtube: create request")
		}
		req.Header.Set("Accept", "application/json")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, eris.Wrap(doErr, "youtube: request")
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, eris.Wrap(readErr, "youtube: read response body")
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("youtube: status %d: %s", resp.StatusCode, string(b))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	return eris.Wrap(json.Unmarshal(body, out), "youtube: unmarshal response")
}

// parseISODuration converts an ISO-8601 duration like "PT1M30S" to
// seconds. Malformed input yields 0.
func parseISODuration(s string) int {
	if len(s) < 3 || s[0] != 'P' {
		return 0
	}

	var total, n int
	inTime := false
	for _, r := range s[1:] {
		switch {
		case r == 'T':
			inTime = true
			n = 0
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
		case r == 'D':
			total += n * 86400
			n = 0
		case r == 'H' && inTime:
			total += n * 3600
			n = 0
		case r == 'M' && inTime:
			total += n * 60
			n = 0
		case r == 'S' && inTime:
			total += n
			n = 0
		default:
			n = 0
		}
	}
	return total
}
