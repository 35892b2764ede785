// Package youtube suggests study videos for a topic through the YouTube Data
// API.
package youtube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// MaxResults is the number of videos returned per topic.
const MaxResults = 3

const cacheTTL = 6 * time.Hour

// Video is one search hit.
type Video struct {
	Title     string `json:"title"`
	VideoID   string `json:"videoId"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// WatchURL returns the public watch page of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// Searcher finds videos for a topic.
type Searcher interface {
	Search(ctx context.Context, topic string) []Video
}

// Client searches YouTube and caches results per normalized topic, since the
// nightly job asks for the same topics across many users.
type Client struct {
	apiKey string
	opts   []option.ClientOption
	cache  *ristretto.Cache[string, []Video]
}

// New returns a client. An empty apiKey yields a client whose searches are
// always empty.
func New(apiKey string, opts ...option.ClientOption) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []Video]{
		NumCounters:        1e4,
		MaxCost:            1000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Client{apiKey: apiKey, opts: opts, cache: cache}, nil
}

// Close releases the cache.
func (c *Client) Close() {
	c.cache.Close()
}

// Search returns up to MaxResults videos. Failures are logged and produce an
// empty list.
func (c *Client) Search(ctx context.Context, topic string) []Video {
	topic = strings.TrimSpace(topic)
	if c == nil || c.apiKey == "" || topic == "" {
		return []Video{}
	}

	key := strings.ToLower(topic)
	if videos, ok := c.cache.Get(key); ok {
		return videos
	}

	videos, err := c.search(ctx, topic)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("youtube search failed")
		return []Video{}
	}
	c.cache.SetWithTTL(key, videos, 1, cacheTTL)
	c.cache.Wait()
	return videos
}

func (c *Client) search(ctx context.Context, topic string) ([]Video, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(c.apiKey)}, c.opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	resp, err := svc.Search.List([]string{"snippet"}).
		Q(topic).
		Type("video").
		MaxResults(MaxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", topic, err)
	}

	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Snippet == nil || item.Id.VideoId == "" {
			continue
		}
		v := Video{
			Title:   item.Snippet.Title,
			VideoID: item.Id.VideoId,
			Channel: item.Snippet.ChannelTitle,
		}
		if th := item.Snippet.Thumbnails; th != nil && th.Default != nil {
			v.Thumbnail = th.Default.Url
		}
		videos = append(videos, v)
		if len(videos) == MaxResults {
			break
		}
	}
	return videos, nil
}
