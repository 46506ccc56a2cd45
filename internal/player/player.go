// Package player streams and plays the station's MP3 broadcast, acting as
// the playback collaborator for the presence engine.
package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"dancefm-presence/internal/config"
	"dancefm-presence/internal/monitor"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate   = beep.SampleRate(44100)
	SpeakerBufferSize   = time.Millisecond * 250
	SampleChannelSize   = 8192
	NetworkReadSize     = 4096
	ReadTimeout         = 5 * time.Second
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
)

// timeoutReader guards a network body read with a per-read deadline and the
// session context. Relies on context cancellation to clean up the spawned
// read goroutine.
type timeoutReader struct {
	reader  io.Reader
	ctx     context.Context
	timeout time.Duration
}

func (tr *timeoutReader) Read(p []byte) (int, error) {
	select {
	case <-tr.ctx.Done():
		return 0, tr.ctx.Err()
	default:
	}

	timer := time.NewTimer(tr.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := tr.reader.Read(p)
		select {
		case done <- result{n, err}:
		case <-tr.ctx.Done():
		}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", tr.timeout)
	case <-tr.ctx.Done():
		return 0, tr.ctx.Err()
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// StreamPlayer manages the live MP3 stream session. It reports transport
// changes (rate, playback position, buffered duration) through an events
// channel consumed by the engine.
type StreamPlayer struct {
	mu            sync.Mutex
	format        beep.Format
	volume        *effects.Volume
	ctrl          *beep.Ctrl
	cancelFunc    context.CancelFunc
	isPlaying     bool
	isPaused      bool
	speakerInit   bool
	bufferReady   bool
	volumePercent int
	httpClient    *http.Client

	sampleCh chan [2]float64
	played   atomic.Int64
	wg       sync.WaitGroup

	events chan monitor.TransportEvent
}

func NewStreamPlayer() *StreamPlayer {
	httpClient := &http.Client{
		Timeout: 0, // No overall timeout, streams are long-lived
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			DisableCompression:    true,
			MaxIdleConns:          4,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &StreamPlayer{
		format: beep.Format{
			SampleRate:  DefaultSampleRate,
			NumChannels: 2,
			Precision:   2,
		},
		volumePercent: -1,
		httpClient:    httpClient,
		events:        make(chan monitor.TransportEvent, 8),
	}
}

// Events delivers transport observations. Latest-wins: if the consumer lags,
// stale events are replaced rather than blocking playback.
func (p *StreamPlayer) Events() <-chan monitor.TransportEvent {
	return p.events
}

// Play starts a fresh stream session, or resumes the current one if it is
// merely paused.
func (p *StreamPlayer) Play(streamURL string) error {
	p.mu.Lock()
	if p.isPlaying {
		if !p.isPaused {
			p.mu.Unlock()
			return nil
		}
		speaker.Lock()
		p.ctrl.Paused = false
		speaker.Unlock()
		p.isPaused = false
		p.mu.Unlock()

		log.Debug().Msg("Playback resumed")
		p.emitTransport()
		return nil
	}
	p.mu.Unlock()

	return p.openStream(streamURL)
}

// Pause halts output without dropping the stream session.
func (p *StreamPlayer) Pause() {
	p.mu.Lock()
	if p.ctrl == nil || !p.isPlaying || p.isPaused {
		p.mu.Unlock()
		return
	}

	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
	p.isPaused = true
	p.mu.Unlock()

	log.Debug().Msg("Playback paused")
	p.emitTransport()
}

// Stop cancels the stream session and waits for its goroutine to finish.
func (p *StreamPlayer) Stop() {
	p.mu.Lock()
	if p.cancelFunc == nil && !p.isPlaying {
		p.mu.Unlock()
		return
	}

	if p.cancelFunc != nil {
		p.cancelFunc()
		p.cancelFunc = nil
	}

	speaker.Clear()
	p.isPlaying = false
	p.isPaused = false
	p.mu.Unlock()

	p.wg.Wait()

	log.Debug().Msg("Playback stopped")
	p.emitTransport()
}

// Teardown stops playback and discards the underlying HTTP session so the
// next Play reconnects at the live broadcast edge.
func (p *StreamPlayer) Teardown() {
	p.Stop()
	p.httpClient.CloseIdleConnections()

	p.mu.Lock()
	p.sampleCh = nil
	p.bufferReady = false
	p.played.Store(0)
	p.mu.Unlock()

	log.Debug().Msg("Stream session torn down")
}

// Rate reports the transport rate: 1 while playing, 0 otherwise.
func (p *StreamPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isPlaying && !p.isPaused {
		return 1
	}
	return 0
}

// Position returns seconds of audio played since the session started.
func (p *StreamPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return positionSeconds(p.played.Load(), p.format.SampleRate)
}

// Buffered returns seconds of decoded audio waiting to be played, or a
// negative value until the decoder has filled the session buffer. A freshly
// created buffer is not a buffered range; reporting it would read as a zero
// backlog.
func (p *StreamPlayer) Buffered() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bufferReady {
		return monitor.LatencyUnknown
	}
	return bufferedSeconds(p.sampleCh, p.format.SampleRate)
}

func positionSeconds(played int64, rate beep.SampleRate) float64 {
	if rate == 0 {
		return 0
	}
	return float64(played) / float64(rate)
}

func bufferedSeconds(ch chan [2]float64, rate beep.SampleRate) float64 {
	if ch == nil || rate == 0 {
		return monitor.LatencyUnknown
	}
	return float64(len(ch)) / float64(rate)
}

// SetVolume stores the volume and applies it to the running session, if any.
func (p *StreamPlayer) SetVolume(volumePercent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volumePercent = volumePercent

	if p.volume == nil {
		log.Debug().Msgf("Volume stored as %d%% (will be applied when playback starts)", volumePercent)
		return
	}

	volumeLevel := percentToExponent(float64(volumePercent))

	speaker.Lock()
	p.volume.Volume = volumeLevel
	p.volume.Silent = volumePercent == 0
	speaker.Unlock()

	log.Debug().Msgf("Volume set to %d%% (%.2f dB)", volumePercent, volumeLevel)
}

func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}

func (p *StreamPlayer) initSpeaker(sampleRate beep.SampleRate) error {
	if !p.speakerInit || sampleRate != p.format.SampleRate {
		if err := speaker.Init(sampleRate, sampleRate.N(SpeakerBufferSize)); err != nil {
			return fmt.Errorf("failed to initialize speaker: %w", err)
		}
		p.format.SampleRate = sampleRate
		p.speakerInit = true
		log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %v", sampleRate, SpeakerBufferSize)
	}
	return nil
}

func (p *StreamPlayer) openStream(streamURL string) error {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.cancelFunc = cancel
	p.mu.Unlock()

	log.Debug().Msgf("Connecting to stream: %s", streamURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", config.AppName, config.AppVersion))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to fetch stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream returned status %d: %s", resp.StatusCode, resp.Status)
	}

	body := &timeoutReader{reader: resp.Body, ctx: ctx, timeout: ReadTimeout}

	log.Debug().Msg("Decoding MP3 stream...")
	streamer, format, err := mp3.Decode(readCloser{bufio.NewReaderSize(body, NetworkReadSize), resp.Body})
	if err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	p.mu.Lock()
	if err := p.initSpeaker(format.SampleRate); err != nil {
		p.mu.Unlock()
		streamer.Close()
		resp.Body.Close()
		cancel()
		return err
	}

	p.format = format
	p.sampleCh = make(chan [2]float64, SampleChannelSize)
	p.bufferReady = false
	p.played.Store(0)
	sampleCh := p.sampleCh

	volumePercent := p.volumePercent
	if volumePercent < 0 {
		volumePercent = config.DefaultVolume
	}

	p.volume = &effects.Volume{
		Streamer: &channelStreamer{ch: sampleCh, played: &p.played},
		Base:     2,
		Volume:   percentToExponent(float64(volumePercent)),
		Silent:   volumePercent == 0,
	}
	p.ctrl = &beep.Ctrl{Streamer: p.volume}
	p.isPlaying = true
	p.isPaused = false
	p.mu.Unlock()

	p.wg.Add(1)
	go p.decodeLoop(ctx, streamer, resp.Body, sampleCh)

	speaker.Play(p.ctrl)

	log.Debug().Msgf("Stream playing at %d Hz", format.SampleRate)
	p.emitTransport()
	return nil
}

func (p *StreamPlayer) decodeLoop(ctx context.Context, streamer beep.StreamSeekCloser, body io.Closer, ch chan [2]float64) {
	defer func() {
		streamer.Close()
		body.Close()
		p.wg.Done()
		log.Debug().Msg("Stream decode loop stopped")
	}()

	batch := make([][2]float64, 512)
	announced := false

	for {
		if ctx.Err() != nil {
			return
		}

		n, ok := streamer.Stream(batch)
		if !ok {
			if err := streamer.Err(); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Stream decoding error")
			}

			// The stream dropped on its own; report the stall so the
			// engine sees the rate hit zero.
			p.mu.Lock()
			stalled := p.isPlaying
			p.isPlaying = false
			p.isPaused = false
			p.mu.Unlock()

			if stalled && ctx.Err() == nil {
				p.emitTransport()
			}
			return
		}

		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case ch <- batch[i]:
			}
		}

		// Report the backlog once the decoder first fills the buffer.
		if !announced && len(ch) == cap(ch) {
			announced = true
			p.mu.Lock()
			p.bufferReady = true
			p.mu.Unlock()
			p.emitTransport()
		}
	}
}

func (p *StreamPlayer) emitTransport() {
	ev := monitor.TransportEvent{
		Rate:     p.Rate(),
		Position: p.Position(),
		Buffered: p.Buffered(),
	}

	select {
	case p.events <- ev:
	default:
		// Replace the stale pending event with the newest observation.
		select {
		case <-p.events:
		default:
		}
		select {
		case p.events <- ev:
		default:
		}
	}
}

// channelStreamer feeds decoded samples to the speaker. Reads are
// non-blocking so an empty buffer outputs silence instead of stalling the
// audio pipeline during network hiccups; only real samples advance the
// playback position.
type channelStreamer struct {
	ch     <-chan [2]float64
	played *atomic.Int64
}

func (c *channelStreamer) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for i := range samples {
		select {
		case s, ok := <-c.ch:
			if !ok {
				samples[i] = [2]float64{}
				continue
			}
			samples[i] = s
			filled++
		default:
			samples[i] = [2]float64{}
		}
	}

	if filled > 0 {
		c.played.Add(int64(filled))
	}
	return len(samples), true
}

func (c *channelStreamer) Err() error {
	return nil
}
