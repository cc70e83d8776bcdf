// nixchirp is a PNGTuber avatar engine: it watches the microphone, MIDI
// controllers, global hotkeys, and a websocket control channel, and drives
// a state machine of looping GIF clips with crossfade transitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/assets"
	"github.com/nixchirp/nixchirp/internal/audio"
	"github.com/nixchirp/nixchirp/internal/cache"
	"github.com/nixchirp/nixchirp/internal/config"
	"github.com/nixchirp/nixchirp/internal/engine"
	"github.com/nixchirp/nixchirp/internal/input/hotkeys"
	"github.com/nixchirp/nixchirp/internal/input/midi"
	"github.com/nixchirp/nixchirp/internal/logging"
	"github.com/nixchirp/nixchirp/internal/remote"
)

func main() {
	profilePath := flag.String("profile", "", "path to a profile TOML (default: most recently used)")
	fps := flag.Int("fps", 0, "tick rate cap, overrides the profile")
	verbose := flag.Bool("verbose", false, "debug logging")
	noAudio := flag.Bool("no-audio", false, "start without mic capture")
	flag.Parse()

	if err := run(*profilePath, *fps, *verbose, *noAudio); err != nil {
		fmt.Fprintln(os.Stderr, "nixchirp:", err)
		os.Exit(1)
	}
}

func run(profilePath string, fpsOverride int, verbose, noAudio bool) error {
	logCfg := logging.DefaultConfig()
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("main")

	if profilePath == "" {
		profilePath, err = config.MostRecentProfile()
		if err != nil {
			return fmt.Errorf("find profile: %w", err)
		}
	}

	cfg := config.Default()
	if profilePath != "" {
		cfg, err = config.Load(profilePath)
		if err != nil {
			return err
		}
		log.Info().Str("profile", profilePath).Str("name", cfg.General.ProfileName).Msg("profile loaded")
	} else {
		log.Warn().Msg("no profile found, running with defaults and no states")
	}
	if fpsOverride > 0 {
		cfg.General.FPSCap = fpsOverride
	}

	frameCache := cache.New(cfg.General.CacheMaxMB, assets.GIFLoader{}, logger.Component("cache"))

	eng := engine.New(engine.Config{
		DefaultTransition: engine.TransitionSpec{
			Kind:       engine.ParseTransitionKind(cfg.Transitions.DefaultType),
			DurationMS: cfg.Transitions.DefaultDurationMS,
		},
		SleepTimeoutSec: float64(cfg.General.SleepTimeoutSec),
		SleepState:      cfg.General.SleepState,
		ProfileDir:      cfg.Dir(),
	}, frameCache, logger.Component("engine"))

	applyStates(eng, cfg)
	eng.PreloadAll()
	eng.Start()

	// Mic capture. The detector is shared with the engine's level probe.
	detector := audio.NewDetector(detectorConfig(cfg.Mic))
	capture := audio.NewCapture(eng.Queue(), detector, logger.Component("audio"))
	eng.SetMicControl(capture)
	eng.SetLevelProbe(capture.Level)
	if !noAudio {
		if err := capture.Start(); err != nil {
			log.Warn().Err(err).Msg("mic unavailable, starting without voice detection")
		}
	}
	defer capture.Stop()

	// Controllers.
	router := midi.NewRouter(eng.Queue(), midi.MappingsFromConfig(cfg.MidiMappings), logger.Component("midi"))
	if len(cfg.MidiMappings) > 0 {
		if err := router.Start(); err != nil {
			log.Warn().Err(err).Msg("MIDI unavailable")
		}
		defer router.Stop()
	}

	portal := hotkeys.New(eng.Queue(), hotkeys.MappingsFromConfig(cfg.Hotkeys), logger.Component("hotkeys"))
	if err := portal.Start(); err != nil {
		log.Warn().Err(err).Msg("global hotkeys unavailable")
	} else if len(cfg.Hotkeys) > 0 {
		defer portal.Stop()
	}

	// Optional remote control surface.
	if addr := cfg.General.RemoteListenAddr; addr != "" {
		srv := remote.New(addr, eng.Queue(), logger.Component("remote"))
		eng.SetNotifier(srv.Broadcast)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}

	// Hot reload of the profile's tunables.
	var reloads <-chan *config.Profile
	if profilePath != "" {
		watcher, err := config.NewWatcher(profilePath, logger.Component("config"))
		if err != nil {
			log.Warn().Err(err).Msg("profile watcher unavailable")
		} else {
			reloads = watcher.Reloads()
			defer watcher.Close()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fpsCap := cfg.General.FPSCap
	if fpsCap <= 0 {
		fpsCap = config.DefaultFPSCap
	}
	ticker := time.NewTicker(time.Second / time.Duration(fpsCap))
	defer ticker.Stop()

	log.Info().Int("fps", fpsCap).Msg("running")
	last := time.Now()
	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			return nil
		case newCfg := <-reloads:
			applyReload(eng, frameCache, detector, newCfg, log)
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			eng.Tick(dt)
			// Selection advances the crossfade bookkeeping even when no
			// renderer is attached this tick.
			_ = eng.Selection()
		}
	}
}

// applyStates registers the profile's state table, mic mapping, and groups.
func applyStates(eng *engine.Engine, cfg *config.Profile) {
	for _, sc := range cfg.States {
		eng.AddState(engine.State{
			Name:          sc.Name,
			AssetPath:     sc.File,
			Loop:          sc.Loop,
			Speed:         sc.Speed,
			Group:         sc.Group,
			TransitionIn:  specFromConfig(sc.TransitionIn, sc.TransitionInDurationMS),
			TransitionOut: specFromConfig(sc.TransitionOut, sc.TransitionOutDurationMS),
		})
	}
	eng.SetMicMapping(cfg.Mic.IdleState, cfg.Mic.ActiveState, cfg.Mic.IntenseState)
	for _, g := range cfg.StateGroups {
		eng.RegisterGroup(g.Name, g.IdleState, g.ActiveState, g.IntenseState)
	}
}

// specFromConfig builds a per-state transition override. An empty kind
// string means no override was configured.
func specFromConfig(kind string, durationMS int) engine.TransitionSpec {
	if kind == "" {
		return engine.TransitionSpec{}
	}
	if durationMS <= 0 {
		durationMS = engine.DefaultTransitionDurationMS
	}
	return engine.TransitionSpec{Kind: engine.ParseTransitionKind(kind), DurationMS: durationMS}
}

func detectorConfig(mc config.MicConfig) audio.DetectorConfig {
	return audio.DetectorConfig{
		OpenThreshold:    mc.OpenThreshold,
		CloseThreshold:   mc.CloseThreshold,
		IntenseThreshold: mc.IntenseThreshold,
		HoldTime:         time.Duration(mc.HoldTimeMS) * time.Millisecond,
	}
}

// applyReload applies the tunables a live engine can absorb: mic
// thresholds, cache budget, and the sleep timer. State-table edits need a
// restart, since in-flight handles and cursors are tied to the old table.
func applyReload(eng *engine.Engine, c *cache.Cache, d *audio.Detector, cfg *config.Profile, log zerolog.Logger) {
	d.SetThresholds(detectorConfig(cfg.Mic))
	c.SetBudgetMB(cfg.General.CacheMaxMB)
	eng.SetSleep(float64(cfg.General.SleepTimeoutSec), cfg.General.SleepState)
	eng.SetMicMapping(cfg.Mic.IdleState, cfg.Mic.ActiveState, cfg.Mic.IntenseState)
	log.Info().Msg("applied reloaded tunables (state table changes need a restart)")
}
