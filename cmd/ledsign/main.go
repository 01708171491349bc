// Command ledsign runs the scan engine of the sign and serves its host link.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/coreman2200/funtimes-ledsign"
	"github.com/coreman2200/funtimes-ledsign/internal/codec"
	"github.com/coreman2200/funtimes-ledsign/internal/config"
	diag "github.com/coreman2200/funtimes-ledsign/internal/diagnostics"
	"github.com/coreman2200/funtimes-ledsign/internal/led"
	"github.com/coreman2200/funtimes-ledsign/internal/link"
	"github.com/coreman2200/funtimes-ledsign/internal/mbi5029"
	"github.com/coreman2200/funtimes-ledsign/internal/panel"
	"github.com/coreman2200/funtimes-ledsign/internal/preview"
	"github.com/coreman2200/funtimes-ledsign/internal/scan"
)

func main() {
	// ---- Flags (config.yaml overrides what it sets) ----
	var (
		width      = flag.Int("width", ledsign.DefaultWidth, "panel width in pixels")
		height     = flag.Int("height", ledsign.DefaultHeight, "panel height in pixels")
		modules    = flag.Int("modules", ledsign.DefaultModules, "driver modules chained along x")
		brightness = flag.Int("brightness", ledsign.DefaultBrightness, "brightness 0..256")
		refresh    = flag.Int("refresh-hz", int(ledsign.Refresh/physic.Hertz), "full frame refresh rate")
		driver     = flag.String("driver", "sim", "driver: sim | periph | gpiocdev")
		spiPort    = flag.String("spi", "", "SPI port, empty for the first one")
		spiSpeed   = flag.Int64("spi-speed-hz", int64(ledsign.DefaultSPISpeed/physic.Hertz), "SPI clock")
		chip       = flag.String("gpiochip", "gpiochip0", "GPIO character device for -driver gpiocdev")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		logLevel   = flag.String("log-level", "info", "log level")
		showFrames = flag.Bool("preview", false, "print the displayed frame on the terminal")
	)
	flag.Parse()

	// ---- Load config.yaml (optional) ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = &config.Config{}
	}

	// ---- Effective settings ----
	eff := config.Config{
		Driver:     *driver,
		Geometry:   config.Geometry{Width: *width, Height: *height, Modules: *modules},
		Brightness: brightness,
		RefreshHz:  *refresh,
		SPI:        config.SPI{Port: *spiPort, SpeedHz: *spiSpeed},
		GPIOChip:   *chip,
		Addr:       *addr,
		LogLevel:   *logLevel,
		Preview:    *showFrames,
	}
	eff = merge(eff, cfg)
	if eff.Pins == (config.Pins{}) {
		eff.Pins = defaultPins(eff.Driver)
	}

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	if lvl, err := zerolog.ParseLevel(eff.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", eff.LogLevel).Msg("unknown log level")
	}
	if err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, eff, *configPath); err != nil {
		log.Fatal().Err(err).Msg("ledsign")
	}
}

func run(ctx context.Context, cfg config.Config, configPath string) error {
	hub := diag.NewHub()

	g := panel.Default()
	g.Width, g.Height, g.Modules = cfg.Geometry.Width, cfg.Geometry.Height, cfg.Geometry.Modules
	store, err := panel.NewStore(g)
	if err != nil {
		return err
	}
	store.SelfTest()

	// ---- Driver selection ----
	bus, sim, selected, err := openBus(cfg, g, hub)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("close bus")
		}
	}()

	freq := physic.Frequency(cfg.RefreshHz) * physic.Hertz * physic.Frequency(ledsign.RowGroups)
	opts := mbi5029.DefaultOpts
	opts.Chips = g.Chips()
	opts.Freq = freq
	drv, err := mbi5029.New(bus, &opts)
	if err != nil {
		return err
	}
	if err := drv.SetBrightness(*cfg.Brightness); err != nil {
		return err
	}
	if cfg.DriverConfig != nil {
		if err := drv.SetMode(true); err != nil {
			return err
		}
		if err := drv.WriteConfig(*cfg.DriverConfig); err != nil {
			return err
		}
		log.Info().Uint16("code", *cfg.DriverConfig).Float64("gain", mbi5029.Gain(*cfg.DriverConfig)).Msg("driver configuration written")
	}

	c := codec.New(store)
	var (
		stream scan.Streamer
		dma    *scan.DMA
	)
	if sim != nil {
		// the simulated chain latches on LE, so shift before returning
		stream = scan.Sync{C: bus.Conn}
	} else {
		dma = scan.NewDMA(bus.Conn, c.Size())
		stream = dma
	}
	ctl, err := scan.New(c, drv, bus, stream)
	if err != nil {
		return err
	}
	ctl.OnOverrun = func(r codec.Row) {
		hub.Push(diag.Diagnostic{
			Severity: diag.Warn, Code: diag.ScanOverrun, Summary: "Row transfer still in flight",
			LikelyCauses:   []string{"SPI clock too slow for the refresh rate"},
			SuggestedFixes: []string{"raise spi.speed_hz or lower refresh_hz"},
			Evidence:       map[string]any{"row": int(r)},
		})
	}

	// ---- Host link ----
	w := link.NewWriter(store)
	var saveMu sync.Mutex
	disp := &link.Dispatcher{
		Panel:  ctl,
		Driver: drv,
		Writer: w,
		Diag:   hub,
		OnBrightness: func(level int) {
			saveMu.Lock()
			defer saveMu.Unlock()
			cfg.Brightness = &level
			if err := config.Save(configPath, &cfg); err != nil {
				log.Warn().Err(err).Str("path", configPath).Msg("config save failed")
			}
		},
	}
	srv := &link.Server{
		Store:      store,
		Dispatcher: disp,
		Writer:     w,
		TTY:        link.NewTTY(store),
		Hub:        hub,
		Driver:     selected,
		Stats:      func() any { return ctl.Stats() },
	}
	if sim != nil {
		srv.Shown = sim.Shown()
	}
	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := ctl.Start(); err != nil {
		return err
	}
	defer func() {
		if err := ctl.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop scan")
		}
	}()

	// ---- Run scan loop, transfer worker, frame loop & server ----
	eg, ctx := errgroup.WithContext(ctx)
	looper := scan.NewLooper(nil, freq, ctl)
	eg.Go(func() error { return looper.Run(ctx) })
	if dma != nil {
		eg.Go(func() error { return dma.Run(ctx) })
	}
	eg.Go(func() error { return srv.RunFrameLoop(ctx) })
	if cfg.Preview {
		var shown = store
		if sim != nil {
			shown = sim.Shown()
		}
		con := preview.NewConsole(shown)
		eg.Go(func() error { return con.Run(ctx, nil, 200*time.Millisecond) })
	}
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("driver", selected).Stringer("geometry", g).
			Dur("period", looper.Period()).Msg("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return eg.Wait()
}

// openBus opens the configured driver, falling back to the simulated panel.
// sim is non-nil when the simulated panel is in use.
func openBus(cfg config.Config, g panel.Geometry, hub *diag.Hub) (*led.Bus, *led.Sim, string, error) {
	pc := led.PeriphConfig{
		Port:  cfg.SPI.Port,
		Speed: physic.Frequency(cfg.SPI.SpeedHz) * physic.Hertz,
		Pins:  led.Pins(cfg.Pins),
	}
	var (
		bus *led.Bus
		err error
	)
	switch cfg.Driver {
	case "sim":
	case "periph", "gpiocdev":
		if _, err = host.Init(); err != nil {
			break
		}
		if cfg.Driver == "periph" {
			bus, err = led.OpenPeriph(pc)
		} else {
			bus, err = led.OpenGPIOCDev(cfg.GPIOChip, pc)
		}
	default:
		err = errors.New("unknown driver")
	}
	if bus != nil {
		return bus, nil, cfg.Driver, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Driver).Msg("driver init failed; falling back to SIM")
		hub.Push(diag.Diagnostic{
			Severity: diag.Error, Code: diag.DriverFallback, Summary: "Hardware driver unavailable",
			Detail:   err.Error(),
			Evidence: map[string]any{"driver": cfg.Driver},
		})
	}
	sim, bus, err := led.NewSim(g)
	if err != nil {
		return nil, nil, "", err
	}
	return bus, sim, "sim", nil
}
