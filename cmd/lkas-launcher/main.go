// Command lkas-launcher is the §4.H orchestrator: it starts the
// detection and decision subprocesses in shared-memory creator order,
// merges their tagged output onto its own stdout, optionally embeds the
// broker directly (no separate broker binary, per the single-process
// deployment this repo targets), and performs a reverse-order graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lkas-pipeline/lkas/internal/broker"
	"github.com/lkas-pipeline/lkas/internal/config"
	"github.com/lkas-pipeline/lkas/internal/launcher"
	"github.com/lkas-pipeline/lkas/internal/procmanager"
	"github.com/lkas-pipeline/lkas/internal/viewerstream"
)

var (
	configPath       = flag.String("config", "system.yaml", "path to the system YAML configuration file")
	detectorCommand  = flag.String("detector-cmd", "lkas-detector", "detection server command line (space-separated)")
	decisionCommand  = flag.String("decision-cmd", "lkas-decision", "decision server command line (space-separated)")
	imageChannel     = flag.String("image-channel", "camera_feed", "shared-memory image channel name")
	detectionChannel = flag.String("detection-channel", "detection_results", "shared-memory detection channel name")
	watchConfig      = flag.Bool("watch-config", true, "hot-reload the system config file on write")
	viewerStream     = flag.Bool("viewer-stream", false, "start the gRPC viewer fan-out alongside the broker")
	viewerListenAddr = flag.String("viewer-listen", "", "gRPC viewer listen address, defaults to viewerstream.DefaultConfig's")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Launcher] load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	viewerCfg := viewerstream.DefaultConfig()
	if *viewerListenAddr != "" {
		viewerCfg.ListenAddr = *viewerListenAddr
	}

	launchCfg := launcher.Config{
		DetectionCommand:     strings.Fields(*detectorCommand),
		DecisionCommand:      strings.Fields(*decisionCommand),
		DecisionInitTimeout:  time.Duration(cfg.Launch.DecisionInitTimeoutMS) * time.Millisecond,
		DetectionInitTimeout: time.Duration(cfg.Launch.DetectionInitTimeoutMS) * time.Millisecond,
		BroadcastEnabled:     cfg.Launch.BroadcastEnabled,
		BrokerConfig:         broker.DefaultConfig(),
		ImageChannelName:     *imageChannel,
		DetectionChannelName: *detectionChannel,
		ImageWidth:           int32(cfg.Camera.Width),
		ImageHeight:          int32(cfg.Camera.Height),
		ViewerStreamEnabled:  *viewerStream,
		ViewerStreamConfig:   viewerCfg,
	}

	l := launcher.New(launchCfg, procmanager.NewRealProcessBuilder())

	go func() {
		for line := range l.Logs() {
			log.Printf("[%s][%s] %s", line.RunID[:8], line.Source, line.Text)
		}
	}()

	if *watchConfig {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		changes, errs, err := launcher.WatchSystemConfig(*configPath, stopWatch)
		if err != nil {
			log.Printf("[Launcher] config watch disabled: %v", err)
		} else {
			go watchLoop(ctx, changes, errs)
		}
	}

	log.Printf("[Launcher] starting pipeline: detection=%q decision=%q", *detectorCommand, *decisionCommand)
	code, err := l.Run(ctx)
	if err != nil {
		log.Printf("[Launcher] run error: %v", err)
	}
	log.Printf("[Launcher] exiting with code %d", code)
	os.Exit(code)
}

// watchLoop only logs reloaded configuration: subprocess commands and
// shared-memory layout are fixed at launch, and per-frame tunables flow
// through the parameter plane rather than this file, so a reload here
// has nothing live to apply.
func watchLoop(ctx context.Context, changes <-chan launcher.ConfigChange, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			log.Printf("[Launcher] system config reloaded from disk (warmup_frames=%d); restart to apply non-parameter changes", change.Config.System.WarmupFrames)
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Printf("[Launcher] config reload error: %v", err)
		}
	}
}

func loadConfig(path string) (*config.SystemConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultSystemConfig(), nil
	}
	return config.LoadSystemConfig(path)
}
