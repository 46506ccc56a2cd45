package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dancefm-presence/internal/config"
	"dancefm-presence/internal/engine"
	"dancefm-presence/internal/metadata"
	"dancefm-presence/internal/metrics"
	"dancefm-presence/internal/player"
	"dancefm-presence/internal/presence"
	"dancefm-presence/internal/statebus"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	playFlag    = flag.Bool("play", false, "Start playback immediately")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		if configPath, err := config.GetConfigPath(); err == nil {
			fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
		}
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// A .env next to the binary may override config values.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
	}
	cfg.ApplyEnv()

	m := metrics.New()
	bus := statebus.New()

	streamPlayer := player.NewStreamPlayer()
	streamPlayer.SetVolume(cfg.Volume)

	fetcher := metadata.NewFetcher(cfg.MetadataURL, cfg.StreamURL, m)
	gateway := presence.NewGateway(presence.NewDiscordTransport(cfg.DiscordAppID), m)

	eng := engine.New(streamPlayer, fetcher, gateway, bus, m, engine.Options{
		StreamURL:    cfg.StreamURL,
		PollInterval: cfg.PollInterval(),
		ButtonLabel:  cfg.ButtonLabel,
		ButtonURL:    cfg.ButtonURL,
	})
	fetcher.SetOnTrack(eng.OnTrack)

	// Dial the presence gateway right away, like the desktop app does on
	// launch.
	eng.Reconnect()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	if *playFlag {
		eng.PlayPause()
	}

	go logStateChanges(bus)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	eng.Close()
	gateway.Close()
}

// logStateChanges mirrors the state bus to the log, standing in for the
// menu-bar popover of the desktop build.
func logStateChanges(bus *statebus.Bus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	var last statebus.State
	for s := range ch {
		if s == last {
			continue
		}
		last = s

		ev := log.Info().
			Bool("playing", s.IsPlaying).
			Str("status", s.ConnectionStatus)
		if s.Author != "" || s.Title != "" {
			ev = ev.Str("author", s.Author).Str("title", s.Title)
		}
		if s.LiveLatency >= 0 {
			ev = ev.Dur("behind_live", time.Duration(s.LiveLatency*float64(time.Second)))
		}
		ev.Msg("State")
	}
}
