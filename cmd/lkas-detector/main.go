// Command lkas-detector runs the §4.B lane detection server: it creates
// the camera_feed and detection_results shared-memory channels (it is
// the creator per §6's ownership table), reads frames as the vehicle
// process writes them, runs them through the detector, and writes
// detections back for the decision server to pick up.
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
	"github.com/lkas-pipeline/lkas/internal/controlplane"
	"github.com/lkas-pipeline/lkas/internal/detector"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
	"github.com/lkas-pipeline/lkas/internal/shmchan"
)

var (
	configPath       = flag.String("config", "system.yaml", "path to the system YAML configuration file")
	imageChannel     = flag.String("image-channel", "camera_feed", "shared-memory image channel name")
	detectionChannel = flag.String("detection-channel", "detection_results", "shared-memory detection channel name")
	paramEndpoint    = flag.String("param-endpoint", "tcp://localhost:5560", "broker parameter egress endpoint to subscribe to")
	readTimeout      = flag.Duration("read-timeout", 200*time.Millisecond, "blocking read timeout against the image channel")
	stats            = flag.Bool("stats", true, "print loop stats to stderr every ~3s")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[Detector] load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Detection channel first, image channel next, so downstream attachers
	// always find detection_results before camera_feed appears (§4.D).
	detCh, detCreator, err := shmchan.CreateDetectionChannel(*detectionChannel)
	if err != nil {
		log.Fatalf("[Detector] create detection channel: %v", err)
	}
	defer func() {
		detCh.Close()
		if err := detCreator.Unlink(); err != nil {
			log.Printf("[Detector] unlink detection channel: %v", err)
		}
	}()

	imgCh, imgCreator, err := shmchan.CreateImageChannel(*imageChannel, int32(cfg.Camera.Width), int32(cfg.Camera.Height))
	if err != nil {
		log.Fatalf("[Detector] create image channel: %v", err)
	}
	defer func() {
		imgCh.Close()
		if err := imgCreator.Unlink(); err != nil {
			log.Printf("[Detector] unlink image channel: %v", err)
		}
	}()

	store := paramstore.NewStore(paramstore.DetectionParams{
		CannyLow:        cfg.Detector.CannyLow,
		CannyHigh:       cfg.Detector.CannyHigh,
		HoughThreshold:  cfg.Detector.HoughThreshold,
		HoughMinLineLen: cfg.Detector.HoughMinLineLen,
		HoughMaxLineGap: cfg.Detector.HoughMaxLineGap,
		SmoothingFactor: cfg.Detector.SmoothingFactor,
	}, paramstore.DecisionParams{})

	zctx, err := zmq4.NewContext()
	if err != nil {
		log.Fatalf("[Detector] new zmq context: %v", err)
	}
	defer zctx.Term()

	sub, err := controlplane.NewParamSubscriber(zctx, *paramEndpoint, false, controlplane.TopicDetection)
	if err != nil {
		log.Fatalf("[Detector] param subscriber: %v", err)
	}
	defer sub.Close()

	det := detector.NewDetector(store, detector.Config{
		ROITopRatio:         cfg.Detector.ROITopRatio,
		ROIBottomRatio:      cfg.Detector.ROIBottomRatio,
		ROITopWidthRatio:    cfg.Detector.ROITopWidthRatio,
		ROIBottomWidthRatio: cfg.Detector.ROIBottomWidthRatio,
		MinFitPoints:        2,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		paramUpdateLoop(ctx, sub, store)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		detectLoop(ctx, imgCh, detCh, det)
	}()

	log.Printf("[Detector] ready: image=%s detection=%s", *imageChannel, *detectionChannel)

	<-ctx.Done()
	log.Printf("[Detector] shutting down")
	wg.Wait()
	log.Printf("[Detector] shutdown complete")
}

func detectLoop(ctx context.Context, imgCh *shmchan.ImageChannel, detCh *shmchan.DetectionChannel, det *detector.Detector) {
	statsEvery := 3 * time.Second
	lastStats := time.Now()
	frames := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		img, status := imgCh.BlockingRead(ctx, *readTimeout)
		if status != shmchan.StatusOK {
			continue
		}
		d := det.Detect(img)
		detCh.Write(d)
		frames++

		if *stats && time.Since(lastStats) >= statsEvery {
			fps := float64(frames) / time.Since(lastStats).Seconds()
			fmt.Fprintf(os.Stderr, "[Detector] fps=%.1f frame=%d proc=%.1fms left=%t right=%t\n",
				fps, d.FrameID, d.ProcessingTimeMS, d.Left != nil, d.Right != nil)
			lastStats = time.Now()
			frames = 0
		}
	}
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
				log.Printf("[Detector] param recv: %v", err)
				continue
			}
			if !ok {
				continue
			}
			if err := store.Apply(paramstore.Category(topic), update.Parameter, update.Value); err != nil {
				log.Printf("[Detector] reject param update %s.%s=%v: %v", topic, update.Parameter, update.Value, err)
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
