// Package metadata polls the station's now-playing endpoint.
package metadata

import (
	"fmt"
	"sync"
	"time"

	"dancefm-presence/internal/metrics"
	"dancefm-presence/internal/track"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 10 * time.Second

// Fetcher periodically asks the metadata endpoint which track is on air and
// reports changes through the OnTrack callback. One fetch failure skips that
// cycle; the loop itself never stops on errors.
type Fetcher struct {
	client    *resty.Client
	endpoint  string
	streamURL string
	metrics   *metrics.Metrics

	mu      sync.Mutex
	onTrack func(track.Info)
	stopCh  chan struct{}
	lastRaw string
}

// NewFetcher creates a fetcher for the given endpoint. The stream URL is the
// form value identifying which stream's metadata to query.
func NewFetcher(endpoint, streamURL string, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		client:    resty.New().SetTimeout(requestTimeout),
		endpoint:  endpoint,
		streamURL: streamURL,
		metrics:   m,
	}
}

// SetOnTrack registers the callback invoked when the parsed track changes.
func (f *Fetcher) SetOnTrack(fn func(track.Info)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

// Start begins the polling loop, fetching once immediately and then on every
// tick. A previous loop, if any, is stopped first.
func (f *Fetcher) Start(interval time.Duration) {
	f.Stop()

	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.lastRaw = ""
	stopCh := f.stopCh
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		f.fetchOnce(stopCh)
		for {
			select {
			case <-ticker.C:
				f.fetchOnce(stopCh)
			case <-stopCh:
				return
			}
		}
	}()

	log.Debug().Dur("interval", interval).Msg("Started metadata polling")
}

// Stop halts the polling loop. No further fetch is scheduled after Stop
// returns; a request already in flight may complete and is discarded.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopCh != nil {
		close(f.stopCh)
		f.stopCh = nil
		log.Debug().Msg("Stopped metadata polling")
	}
}

func (f *Fetcher) fetchOnce(stopCh chan struct{}) {
	raw, err := f.FetchNowPlaying()
	if err != nil {
		log.Warn().Err(err).Msg("Metadata fetch failed, skipping cycle")
		f.metrics.IncFetchFailures()
		return
	}

	select {
	case <-stopCh:
		// Playback stopped while the request was in flight.
		return
	default:
	}

	f.mu.Lock()
	changed := raw != f.lastRaw
	if changed {
		f.lastRaw = raw
	}
	cb := f.onTrack
	f.mu.Unlock()

	if changed && cb != nil {
		info := track.Parse(raw)
		log.Debug().Str("author", info.Author).Str("title", info.Title).Msg("Track changed")
		cb(info)
	}
}

// FetchNowPlaying performs one POST to the metadata endpoint and returns the
// raw "Author - Title" response text. The endpoint has no documented status
// contract: any body delivered without a transport error counts as success.
func (f *Fetcher) FetchNowPlaying() (string, error) {
	resp, err := f.client.R().
		SetFormData(map[string]string{"url": f.streamURL}).
		Post(f.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to fetch now playing: %w", err)
	}

	return string(resp.Body()), nil
}
