package model

import "time"

// ChannelRef identifies a channel on the video platform.
type ChannelRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Handle      string `json:"handle,omitempty"`
	Category    string `json:"category,omitempty"`
	Subscribers int64  `json:"subscribers"`
	VideoCount  int64  `json:"video_count"`
	Country     string `json:"country,omitempty"`
}

// Video is a single published video with its public counters.
type Video struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Duration    int       `json:"duration_secs"`
	Views       int64     `json:"views"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
}

// ShortFormMaxSeconds is the duration cutoff separating short-form from
// long-form content when bucketing benchmark distributions.
const ShortFormMaxSeconds = 60

// IsShortForm reports whether the video falls in the short-form bucket.
func (v Video) IsShortForm() bool {
	return v.Duration > 0 && v.Duration <= ShortFormMaxSeconds
}

// EngagementRate returns (likes+comments)/views, or 0 when the video has
// no views.
func (v Video) EngagementRate() float64 {
	if v.Views == 0 {
		return 0
	}
	return float64(v.Likes+v.Comments) / float64(v.Views)
}

// ChannelMetrics summarizes a channel's own recent performance, computed
// during ingestion and compared against peer benchmarks later.
type ChannelMetrics struct {
	AvgViews       float64 `json:"avg_views"`
	MedianViews    float64 `json:"median_views"`
	EngagementRate float64 `json:"engagement_rate"`
	UploadsPerWeek float64 `json:"uploads_per_week"`
	VideoCount     int     `json:"video_count"`
	WindowDays     int     `json:"window_days"`
}
