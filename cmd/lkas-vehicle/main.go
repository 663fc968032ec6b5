// Command lkas-vehicle stands in for the camera/vehicle process §4.F
// describes: it attaches to camera_feed and control_commands (both
// created by the detection/decision servers it runs alongside), drives
// a vehicleadapter.SimulatorPort at a fixed tick rate, and publishes its
// status and listens for pause/resume/respawn/quit actions over the
// control plane. No real CARLA binding exists here (Non-goals §1); the
// port is a MockSimulatorPort standing in for one.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/lkas-pipeline/lkas/internal/config"
	"github.com/lkas-pipeline/lkas/internal/controlplane"
	"github.com/lkas-pipeline/lkas/internal/message"
	"github.com/lkas-pipeline/lkas/internal/shmchan"
	"github.com/lkas-pipeline/lkas/internal/vehicleadapter"
)

var (
	configPath     = flag.String("config", "system.yaml", "path to the system YAML configuration file")
	imageChannel   = flag.String("image-channel", "camera_feed", "shared-memory image channel name")
	controlChannel = flag.String("control-channel", "control_commands", "shared-memory control channel name")
	actionEndpoint = flag.String("action-endpoint", "tcp://localhost:5561", "broker action egress endpoint to subscribe to")
	statusEndpoint = flag.String("status-endpoint", "tcp://localhost:5562", "broker status ingress endpoint to publish to")
	controlTimeout = flag.Duration("control-timeout", 200*time.Millisecond, "blocking read timeout against the control channel")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Vehicle] load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	imgCh, err := shmchan.AttachImageChannel(*imageChannel, int32(cfg.Camera.Width), int32(cfg.Camera.Height))
	if err != nil {
		log.Fatalf("[Vehicle] attach image channel: %v", err)
	}
	defer imgCh.Close()

	ctlCh, err := shmchan.AttachControlChannel(*controlChannel)
	if err != nil {
		log.Fatalf("[Vehicle] attach control channel: %v", err)
	}
	defer ctlCh.Close()

	zctx, err := zmq4.NewContext()
	if err != nil {
		log.Fatalf("[Vehicle] new zmq context: %v", err)
	}
	defer zctx.Term()

	actionSub, err := controlplane.NewActionSubscriber(zctx, *actionEndpoint, false)
	if err != nil {
		log.Fatalf("[Vehicle] action subscriber: %v", err)
	}
	defer actionSub.Close()

	statusPub, err := controlplane.NewStatusPublisher(zctx, *statusEndpoint, false)
	if err != nil {
		log.Fatalf("[Vehicle] status publisher: %v", err)
	}
	defer statusPub.Close()

	frame := message.Image{
		Width:  int32(cfg.Camera.Width),
		Height: int32(cfg.Camera.Height),
		Pixels: make([]byte, int(cfg.Camera.Width)*int(cfg.Camera.Height)*3),
	}
	port := vehicleadapter.NewMockSimulatorPort(frame)
	defer port.Close()

	var (
		wg     sync.WaitGroup
		paused atomicBool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		actionLoop(ctx, actionSub, port, &paused, stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		driveLoop(ctx, cfg, imgCh, ctlCh, statusPub, port, &paused)
	}()

	log.Printf("[Vehicle] ready: image=%s control=%s", *imageChannel, *controlChannel)

	<-ctx.Done()
	log.Printf("[Vehicle] shutting down")
	wg.Wait()
	log.Printf("[Vehicle] shutdown complete")
}

// atomicBool is a minimal flag shared between the action and drive
// loops; pause/resume only ever sets or clears it.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func driveLoop(ctx context.Context, cfg *config.SystemConfig, imgCh *shmchan.ImageChannel, ctlCh *shmchan.ControlChannel, statusPub *controlplane.Publisher, port vehicleadapter.SimulatorPort, paused *atomicBool) {
	tick := time.Duration(cfg.System.FixedDeltaSeconds * float64(time.Second))
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	frameCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if paused.get() {
				// Idle while paused but keep the state broadcast alive so
				// viewers see paused=true (§4.F step 6).
				publishState(statusPub, port, paused)
				continue
			}
			img, err := port.PullFrame()
			if err != nil {
				log.Printf("[Vehicle] pull frame: %v", err)
				continue
			}
			if err := imgCh.Write(img); err != nil {
				log.Printf("[Vehicle] write image: %v", err)
				continue
			}

			// The first warmup_frames ticks always drive on the fallback,
			// regardless of control availability (§4.F step 3).
			var ctl message.Control
			if frameCount < cfg.System.WarmupFrames {
				ctl = message.WarmupFallback(cfg.System.BaseThrottle)
			} else {
				var status shmchan.ReadStatus
				ctl, status = ctlCh.BlockingRead(ctx, *controlTimeout)
				if status != shmchan.StatusOK {
					ctl = message.WarmupFallback(cfg.System.BaseThrottle)
				}
			}
			frameCount++
			if err := port.ApplyControl(ctl); err != nil {
				log.Printf("[Vehicle] apply control: %v", err)
			}

			publishState(statusPub, port, paused)
		}
	}
}

func publishState(statusPub *controlplane.Publisher, port vehicleadapter.SimulatorPort, paused *atomicBool) {
	state := port.PublishState()
	wire := controlplane.VehicleStatus{
		FrameID:   state.FrameID,
		Timestamp: state.Timestamp,
		Paused:    paused.get(),
		PositionX: state.PositionX,
		PositionY: state.PositionY,
		PositionZ: state.PositionZ,
		SpeedMS:   state.SpeedMS,
	}
	if err := statusPub.PublishJSON("vehicle_status", wire); err != nil {
		log.Printf("[Vehicle] publish status: %v", err)
	}
}

func actionLoop(ctx context.Context, sub *controlplane.Subscriber, port vehicleadapter.SimulatorPort, paused *atomicBool, quit context.CancelFunc) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var action controlplane.Action
			_, ok, err := sub.TryRecvJSON(&action)
			if err != nil {
				log.Printf("[Vehicle] action recv: %v", err)
				continue
			}
			if !ok {
				continue
			}
			switch action.Action {
			case controlplane.ActionPause:
				paused.set(true)
			case controlplane.ActionResume:
				paused.set(false)
			case controlplane.ActionRespawn:
				if err := port.Respawn(); err != nil {
					log.Printf("[Vehicle] respawn: %v", err)
				}
			case controlplane.ActionQuit:
				log.Printf("[Vehicle] quit action received")
				quit()
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
