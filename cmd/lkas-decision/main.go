// Command lkas-decision runs the §4.C/§4.D decision server: it attaches
// to detection_results (written by lkas-detector), creates
// control_commands (it is the creator per §6's ownership table), and
// turns every detection into a lane metric set and a clamped control
// command. Frame dimensions come from the system config rather than the
// image channel, since this process never reads camera_feed itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/lkas-pipeline/lkas/internal/config"
	"github.com/lkas-pipeline/lkas/internal/control"
	"github.com/lkas-pipeline/lkas/internal/controlplane"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
	"github.com/lkas-pipeline/lkas/internal/shmchan"
)

var (
	configPath       = flag.String("config", "system.yaml", "path to the system YAML configuration file")
	detectionChannel = flag.String("detection-channel", "detection_results", "shared-memory detection channel name")
	controlChannel   = flag.String("control-channel", "control_commands", "shared-memory control channel name")
	imageWidth       = flag.Int("image-width", 0, "image width in pixels, overrides the config file value when nonzero")
	imageHeight      = flag.Int("image-height", 0, "image height in pixels, overrides the config file value when nonzero")
	paramEndpoint    = flag.String("param-endpoint", "tcp://localhost:5560", "broker parameter egress endpoint to subscribe to")
	readTimeout      = flag.Duration("read-timeout", 200*time.Millisecond, "blocking read timeout against the detection channel")
	stats            = flag.Bool("stats", true, "print loop stats to stderr every ~3s")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Decision] load config: %v", err)
	}
	width, height := cfg.Camera.Width, cfg.Camera.Height
	if *imageWidth != 0 {
		width = *imageWidth
	}
	if *imageHeight != 0 {
		height = *imageHeight
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detCh, err := shmchan.AttachDetectionChannel(*detectionChannel)
	if err != nil {
		log.Fatalf("[Decision] attach detection channel: %v", err)
	}
	defer detCh.Close()

	ctlCh, ctlCreator, err := shmchan.CreateControlChannel(*controlChannel)
	if err != nil {
		log.Fatalf("[Decision] create control channel: %v", err)
	}
	defer func() {
		ctlCh.Close()
		if err := ctlCreator.Unlink(); err != nil {
			log.Printf("[Decision] unlink control channel: %v", err)
		}
	}()

	store := paramstore.NewStore(paramstore.DetectionParams{}, paramstore.DecisionParams{
		Kp:             cfg.Controller.Kp,
		Ki:             cfg.Controller.Ki,
		Kd:             cfg.Controller.Kd,
		ThrottleBase:   cfg.Controller.ThrottleBase,
		ThrottleMin:    cfg.Controller.ThrottleMin,
		SteerThreshold: cfg.Controller.SteerThreshold,
		SteerMax:       cfg.Controller.SteerMax,
	})

	analyzer := control.NewAnalyzer(control.AnalyzerConfig{
		DriftThreshold:     cfg.Analyzer.DriftThreshold,
		DepartureThreshold: cfg.Analyzer.DepartureThreshold,
		LaneWidthMeters:    cfg.Analyzer.LaneWidthMeters,
	})

	zctx, err := zmq4.NewContext()
	if err != nil {
		log.Fatalf("[Decision] new zmq context: %v", err)
	}
	defer zctx.Term()

	sub, err := controlplane.NewParamSubscriber(zctx, *paramEndpoint, false, controlplane.TopicDecision)
	if err != nil {
		log.Fatalf("[Decision] param subscriber: %v", err)
	}
	defer sub.Close()

	controller, err := newControllerFromParams(cfg.Controller.Method, store.Decision())
	if err != nil {
		log.Fatalf("[Decision] controller construction: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		paramUpdateLoop(ctx, sub, store)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		decideLoop(ctx, detCh, ctlCh, analyzer, controller, store, cfg.Controller.Method, width, height)
	}()

	log.Printf("[Decision] ready: detection=%s control=%s method=%s", *detectionChannel, *controlChannel, cfg.Controller.Method)

	<-ctx.Done()
	log.Printf("[Decision] shutting down")
	wg.Wait()
	log.Printf("[Decision] shutdown complete")
}

func newControllerFromParams(method string, params paramstore.DecisionParams) (control.Controller, error) {
	return control.NewController(method, control.Gains{Kp: params.Kp, Ki: params.Ki, Kd: params.Kd}, throttlePolicy(params))
}

func throttlePolicy(params paramstore.DecisionParams) control.ThrottlePolicy {
	return control.ThrottlePolicy{
		ThrottleBase:   params.ThrottleBase,
		ThrottleMin:    params.ThrottleMin,
		SteerThreshold: params.SteerThreshold,
		SteerMax:       params.SteerMax,
	}
}

// decideLoop runs the §4.E loop against a single persistent controller,
// so the PID integrator survives across frames. Parameter updates land in
// the store from the param-update goroutine and are synced into the
// controller between frames (§4.C "applied to the next computed
// steering").
func decideLoop(ctx context.Context, detCh *shmchan.DetectionChannel, ctlCh *shmchan.ControlChannel, analyzer *control.Analyzer, controller control.Controller, store *paramstore.Store, method string, width, height int) {
	applied := store.Decision()
	statsEvery := 3 * time.Second
	lastStats := time.Now()
	frames := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		det, status := detCh.BlockingRead(ctx, *readTimeout)
		if status != shmchan.StatusOK {
			continue
		}

		if params := store.Decision(); params != applied {
			syncController(controller, method, params)
			applied = params
		}

		metrics := analyzer.Metrics(det.Left, det.Right, width, height)
		ctl := controller.Compute(metrics, det.FrameID, det.Timestamp)
		ctl.ProcessingTimeMS = det.ProcessingTimeMS
		ctlCh.Write(*ctl.Clamp())
		frames++

		if *stats && time.Since(lastStats) >= statsEvery {
			fps := float64(frames) / time.Since(lastStats).Seconds()
			fmt.Fprintf(os.Stderr, "[Decision] fps=%.1f frame=%d proc=%.1fms steer=%.3f status=%s\n",
				fps, ctl.FrameID, ctl.ProcessingTimeMS, ctl.Steering, metrics.DepartureStatus)
			lastStats = time.Now()
			frames = 0
		}
	}
}

func syncController(controller control.Controller, method string, params paramstore.DecisionParams) {
	controller.SetGain("kp", params.Kp)
	controller.SetGain("kd", params.Kd)
	if method == "pid" {
		controller.SetGain("ki", params.Ki)
	}
	controller.SetThrottlePolicy(throttlePolicy(params))
}

func paramUpdateLoop(ctx context.Context, sub *controlplane.Subscriber, store *paramstore.Store) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var update controlplane.ParamUpdate
			topic, ok, err := sub.TryRecvJSON(&update)
			if err != nil {
				log.Printf("[Decision] param recv: %v", err)
				continue
			}
			if !ok {
				continue
			}
			if err := store.Apply(paramstore.Category(topic), update.Parameter, update.Value); err != nil {
				log.Printf("[Decision] reject param update %s.%s=%v: %v", topic, update.Parameter, update.Value, err)
			}
		}
	}
}

func loadConfig(path string) (*config.SystemConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultSystemConfig(), nil
	}
	return config.LoadSystemConfig(path)
}
