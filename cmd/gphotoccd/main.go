package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/config"
	"github.com/cjeanneret/gphotoccd/internal/debug"
	"github.com/cjeanneret/gphotoccd/internal/events"
	"github.com/cjeanneret/gphotoccd/internal/hw/camera"
	"github.com/cjeanneret/gphotoccd/internal/hw/gphoto"
	"github.com/cjeanneret/gphotoccd/internal/hw/gpio"
	"github.com/cjeanneret/gphotoccd/internal/hw/remote"
	"github.com/cjeanneret/gphotoccd/internal/logic/capture"
	"github.com/cjeanneret/gphotoccd/internal/property"
	"github.com/cjeanneret/gphotoccd/internal/storage"
	"github.com/cjeanneret/gphotoccd/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	simulate := flag.Bool("simulate", false, "use the simulated camera")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("environment overrides: %v", err)
	}
	applyFlags(cfg, *simulate, webPort.port())

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Simulate", cfg.Device.Simulate)
	debug.PrintStruct("Camera config", cfg.Camera)
	debug.PrintStruct("Chip config", cfg.Chip)

	debug.Step(1, "Preparing camera driver")
	var driver gphoto.Driver
	if !cfg.Device.Simulate {
		release, closeGPIO, err := newRemoteRelease(cfg)
		if err != nil {
			log.Fatalf("init remote release failed: %v", err)
		}
		defer closeGPIO()
		driver = newDriver(cfg, release)
	}

	reg := property.NewRegistry()
	dev := ccd.New(deviceOptions(cfg, driver), reg)

	debug.Step(2, "Wiring export")
	exporter := ccd.NewExporter(cfg.Output.Dir)
	var publishers ccd.Publishers
	if cfg.Output.Upload {
		store, err := newStore(ctx)
		if err != nil {
			log.Fatalf("init object storage failed: %v", err)
		}
		exporter.Uploader = store
	}

	if cfg.MQTT.Enabled {
		client, err := events.NewClient(events.ConfigFromEnv("gphotoccd"))
		if err != nil {
			log.Fatalf("init mqtt failed: %v", err)
		}
		defer client.Close()
		pub := events.NewPublisher(client, cfg.MQTT.BaseTopic)
		publishers = append(publishers, pub)
		reg.OnChange(pub.PropertyListener())
		if err := pub.ListenCommands(reg); err != nil {
			log.Fatalf("subscribe %s: %v", pub.PropertySetTopic(), err)
		}
	}

	var broadcaster *web.StatusBroadcaster
	if cfg.Defaults.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		publishers = append(publishers, broadcaster)
		reg.OnChange(broadcaster.PropertyListener())
	}
	if len(publishers) > 0 {
		exporter.Publisher = publishers
	}
	dev.OnComplete(exporter.Handle)

	debug.Step(3, "Connecting camera")
	if err := dev.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer func() {
		if err := dev.SaveProperties(); err != nil {
			log.Printf("save properties: %v", err)
		}
		if err := dev.Disconnect(); err != nil {
			log.Printf("disconnect: %v", err)
		}
	}()
	debug.Value("Properties", reg.Len())

	seq := capture.NewSequence(dev)
	devErr := make(chan error, 1)
	go func() { devErr <- dev.Run(ctx) }()

	if broadcaster != nil {
		addr := fmt.Sprintf(":%d", cfg.Defaults.WebPort)
		srv := web.NewServer(addr, broadcaster, reg, dev, seq)
		if err := srv.Run(ctx); err != nil {
			log.Printf("web server: %v", err)
			cancel()
		}
	}

	if err := <-devErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("device loop: %v", err)
	}
	debug.Section("Shutdown")
}

// applyFlags lets command-line flags win over the file and environment.
func applyFlags(cfg *config.Config, simulate bool, webPort int) {
	if simulate {
		cfg.Device.Simulate = true
	}
	if webPort > 0 {
		cfg.Defaults.WebPort = webPort
	}
}

// deviceOptions maps the configuration onto the CCD device.
func deviceOptions(cfg *config.Config, driver gphoto.Driver) ccd.Options {
	return ccd.Options{
		Name:         cfg.Device.Name,
		Simulate:     cfg.Device.Simulate,
		PollInterval: cfg.PollInterval(),
		Driver:       driver,
		Camera: camera.Options{
			Device:          cfg.Device.Name,
			MirrorLock:      cfg.MirrorLock(),
			TransferTimeout: cfg.TransferTimeout(),
		},
		PropertiesFile: cfg.Output.PropertiesFile,
		Chip: ccd.ChipParams{
			Width:     cfg.Chip.Width,
			Height:    cfg.Chip.Height,
			BPP:       cfg.Chip.BPP,
			PixelSize: cfg.Chip.PixelSizeUm,
		},
	}
}

// newDriver builds the gphoto2 driver. release may be nil.
func newDriver(cfg *config.Config, release gphoto.Releaser) *gphoto.CLIDriver {
	opts := gphoto.CLIOptions{
		Runner:        gphoto.ExecRunner{Path: cfg.Camera.Gphoto2Path},
		Port:          cfg.Camera.Port,
		DownloadDir:   cfg.Camera.DownloadDir,
		BulbThreshold: cfg.BulbThreshold(),
	}
	if release != nil {
		opts.Release = release
	}
	return gphoto.NewCLIDriver(opts)
}

// newRemoteRelease opens GPIO for the release cable when it is enabled.
func newRemoteRelease(cfg *config.Config) (gphoto.Releaser, func(), error) {
	if !cfg.RemoteRelease.Enabled {
		return nil, func() {}, nil
	}
	debug.Value("Mock GPIO", cfg.RemoteRelease.MockGPIO)
	g, err := gpio.NewDriver(cfg.RemoteRelease.MockGPIO)
	if err != nil {
		return nil, nil, err
	}
	closeGPIO := func() {
		if err := g.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
	debug.Value("Focus pin", cfg.RemoteRelease.FocusPin)
	debug.Value("Shutter pin", cfg.RemoteRelease.ShutterPin)
	return remote.New(g, cfg.RemoteRelease.FocusPin, cfg.RemoteRelease.ShutterPin, cfg.PressDuration()), closeGPIO, nil
}

func newStore(ctx context.Context) (*storage.MinioStore, error) {
	sc, err := storage.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return storage.NewMinioStore(ctx, sc)
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
