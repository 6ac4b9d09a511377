package audit

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creatorscope/audit-cli/internal/config"
	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/store"
	"github.com/creatorscope/audit-cli/pkg/anthropic"
	"github.com/creatorscope/audit-cli/pkg/youtube"
)

// stubProvider responds with canned structured JSON per stage prompt.
// Overriding respond lets a test inject failures or malformed output.
type stubProvider struct {
	mu      sync.Mutex
	calls   []anthropic.GenerateRequest
	respond func(req anthropic.GenerateRequest) (*anthropic.Generation, error)
}

var _ anthropic.Provider = (*stubProvider)(nil)

func (p *stubProvider) Generate(_ context.Context, req anthropic.GenerateRequest) (*anthropic.Generation, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	respond := p.respond
	p.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return cannedGeneration(req), nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// cannedGeneration routes on the system prompt to return a plausible
// structured response for each analysis stage.
func cannedGeneration(req anthropic.GenerateRequest) *anthropic.Generation {
	usage := anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50}

	switch {
	case strings.Contains(req.System, "upload history"):
		return &anthropic.Generation{
			Text:  `{"series": [{"name": "Weekly Q&A", "video_ids": ["v1", "v2"], "cadence": "weekly", "theme": "community questions"}]}`,
			Usage: usage,
		}
	case strings.Contains(req.System, "growth analyst"):
		return &anthropic.Generation{
			Text:  `{"opportunities": [{"title": "Post more shorts", "rationale": "short-form views lag peers", "impact": "high"}]}`,
			Usage: usage,
		}
	case strings.Contains(req.System, "actionable recommendations"):
		return &anthropic.Generation{
			Text:  `{"recommendations": [{"opportunity": "Post more shorts", "actions": ["publish 3 shorts per week"], "priority": "now"}]}`,
			Usage: usage,
		}
	case strings.Contains(req.System, "executive summary"):
		return &anthropic.Generation{
			Text:  `{"summary": "The channel is growing steadily.", "highlights": ["engagement above peers"]}`,
			Usage: usage,
		}
	}
	return &anthropic.Generation{Text: "{}", Usage: usage}
}

// stubChannelSource is a canned data source for the subject channel and
// its peers.
type stubChannelSource struct {
	mu         sync.Mutex
	channel    model.ChannelRef
	resolveErr error
	videos     map[string][]model.Video
	videosErr  error
	peers      []model.ChannelRef
	peersErr   error
}

var _ youtube.Client = (*stubChannelSource)(nil)

func (s *stubChannelSource) ResolveChannel(_ context.Context, input string) (*model.ChannelRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	ch := s.channel
	if ch.ID == "" {
		ch = model.ChannelRef{ID: input}
	}
	return &ch, nil
}

func (s *stubChannelSource) FetchVideos(_ context.Context, channelID string, _ int) ([]model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videosErr != nil {
		return nil, s.videosErr
	}
	return s.videos[channelID], nil
}

func (s *stubChannelSource) QueryPeers(_ context.Context, _ model.TierSpan, _ model.PeerFilters) ([]model.ChannelRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peersErr != nil {
		return nil, s.peersErr
	}
	return s.peers, nil
}

// newTestSource builds a source with a subject channel, recent uploads,
// and one peer with its own uploads.
func newTestSource() *stubChannelSource {
	now := time.Now().UTC()
	return &stubChannelSource{
		channel: model.ChannelRef{
			ID:          "UCsubject0000000000000",
			Title:       "Subject Channel",
			Handle:      "subject",
			Category:    "education",
			Subscribers: 50_000,
		},
		videos: map[string][]model.Video{
			"UCsubject0000000000000": {
				{ID: "v1", Title: "Weekly Q&A: episode 1", PublishedAt: now.AddDate(0, 0, -7), Duration: 480, Views: 2000, Likes: 100, Comments: 30},
				{ID: "v2", Title: "Weekly Q&A: episode 2", PublishedAt: now.AddDate(0, 0, -14), Duration: 520, Views: 2400, Likes: 120, Comments: 40},
				{ID: "v3", Title: "Studio tour", PublishedAt: now.AddDate(0, 0, -21), Duration: 45, Views: 8000, Likes: 500, Comments: 90},
			},
			"UCpeer000000000000000a": {
				{ID: "p1", Title: "Peer upload", PublishedAt: now.AddDate(0, 0, -10), Duration: 300, Views: 3000, Likes: 150, Comments: 40},
				{ID: "p2", Title: "Peer short", PublishedAt: now.AddDate(0, 0, -15), Duration: 40, Views: 9000, Likes: 700, Comments: 120},
			},
		},
		peers: []model.ChannelRef{
			{ID: "UCpeer000000000000000a", Title: "Peer A", Subscribers: 60_000},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 1024},
		Audit: config.AuditConfig{
			MaxVideos:     10,
			WindowDays:    90,
			PeerLimit:     5,
			VideosPerPeer: 5,
			FetchWorkers:  2,
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}
