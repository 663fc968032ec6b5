// Package launcher implements the orchestrator described in §4.H: start
// the detection server, then the decision server, optionally embed the
// broker, merge every subprocess's stdout/stderr into one tagged log
// stream, and perform reverse-order signal-driven shutdown.
package launcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lkas-pipeline/lkas/internal/broker"
	"github.com/lkas-pipeline/lkas/internal/paramstore"
	"github.com/lkas-pipeline/lkas/internal/procmanager"
	"github.com/lkas-pipeline/lkas/internal/shmchan"
	"github.com/lkas-pipeline/lkas/internal/viewerstream"
)

// Config holds the subprocess commands, readiness timeouts, and shared
// channel names the launcher needs to bring the pipeline up (§4.H, §6).
type Config struct {
	DetectionCommand []string
	DecisionCommand  []string

	DecisionInitTimeout  time.Duration
	DetectionInitTimeout time.Duration

	BroadcastEnabled bool
	BrokerConfig     broker.Config

	// ViewerStreamEnabled starts the gRPC viewer fan-out alongside the
	// broker, publishing the same detections over viewerstream.Publisher
	// for any client preferring typed RPC streaming over raw ZMQ frames.
	ViewerStreamEnabled bool
	ViewerStreamConfig  viewerstream.Config

	ImageChannelName     string
	DetectionChannelName string
	ImageWidth           int32
	ImageHeight          int32

	// BroadcastInterval bounds how often the launcher polls the broker
	// and re-broadcasts the latest shm contents while broadcast is
	// enabled (§4.H step 3).
	BroadcastInterval time.Duration
}

// LogLine is one tagged line from the merged subprocess output stream
// (§4.H step 5).
type LogLine struct {
	RunID  string
	Source string // "detection" or "decision"
	Text   string
}

// Launcher owns subprocess lifecycles, the optional embedded broker, and
// the merged log stream.
type Launcher struct {
	cfg     Config
	builder procmanager.ProcessBuilder
	runID   string

	detection procmanager.ProcessHandle
	decision  procmanager.ProcessHandle

	brk           *broker.Broker
	imgReader     *shmchan.ImageChannel
	detReader     *shmchan.DetectionChannel
	broadcastStop chan struct{}
	viewerPub     *viewerstream.Publisher

	logs chan LogLine
	wg   sync.WaitGroup
}

// New constructs a Launcher. builder is the process-creation seam
// (procmanager.NewRealProcessBuilder in production, a
// procmanager.MockProcessBuilder in tests).
func New(cfg Config, builder procmanager.ProcessBuilder) *Launcher {
	if cfg.DecisionInitTimeout == 0 {
		cfg.DecisionInitTimeout = 5 * time.Second
	}
	if cfg.DetectionInitTimeout == 0 {
		cfg.DetectionInitTimeout = 5 * time.Second
	}
	if cfg.BroadcastInterval == 0 {
		cfg.BroadcastInterval = 100 * time.Millisecond
	}
	return &Launcher{
		cfg:     cfg,
		builder: builder,
		runID:   uuid.NewString(),
		logs:    make(chan LogLine, 256),
	}
}

// Logs returns the merged, tagged log line stream. Callers should drain
// it for the lifetime of the launcher.
func (l *Launcher) Logs() <-chan LogLine { return l.logs }

// Run starts the pipeline in §6's creator-first order (detection →
// decision → optional broker), blocks until ctx is canceled, then
// performs the reverse-order graceful shutdown, returning the process
// exit code (§6 "0 on clean shutdown; 1 on setup failure").
func (l *Launcher) Run(ctx context.Context) (exitCode int, err error) {
	if len(l.cfg.DetectionCommand) == 0 || len(l.cfg.DecisionCommand) == 0 {
		return 1, fmt.Errorf("launcher: detection and decision commands are required")
	}

	l.detection, err = l.startAndWait("detection", l.cfg.DetectionCommand, l.cfg.DetectionInitTimeout)
	if err != nil {
		return 1, fmt.Errorf("launcher: detection startup: %w", err)
	}

	l.decision, err = l.startAndWait("decision", l.cfg.DecisionCommand, l.cfg.DecisionInitTimeout)
	if err != nil {
		l.shutdown()
		return 1, fmt.Errorf("launcher: decision startup: %w", err)
	}

	if l.cfg.BroadcastEnabled {
		if err := l.startBroadcast(); err != nil {
			l.shutdown()
			return 1, fmt.Errorf("launcher: broadcast setup: %w", err)
		}
	}

	// Steady state: wait for cancellation or for either subprocess to die
	// on its own, which triggers an orderly teardown of whatever is left
	// and exit code 1 (§7 "Subprocess death during steady state").
	died := make(chan string, 2)
	l.watchExit("detection", l.detection, died)
	l.watchExit("decision", l.decision, died)

	select {
	case <-ctx.Done():
		l.shutdown()
		close(l.logs)
		return 0, nil
	case source := <-died:
		log.Printf("[Launcher] %s subprocess exited unexpectedly", source)
		l.shutdown()
		close(l.logs)
		return 1, fmt.Errorf("launcher: %s subprocess died", source)
	}
}

// watchExit waits for handle to exit and reports its source name on
// died. During a launcher-initiated shutdown the Run select has already
// moved on, so the buffered send never blocks the goroutine.
func (l *Launcher) watchExit(source string, handle procmanager.ProcessHandle, died chan<- string) {
	go func() {
		handle.Wait()
		select {
		case died <- source:
		default:
		}
	}()
}

// startAndWait launches a subprocess, tags and forwards its output into
// the merged log stream, and blocks until its first log line appears
// (read as the readiness signal, §4.H step 1/2) or timeout elapses.
func (l *Launcher) startAndWait(source string, command []string, timeout time.Duration) (procmanager.ProcessHandle, error) {
	handle, err := l.builder.Start(command[0], command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", source, err)
	}

	ready := make(chan struct{})
	var once sync.Once
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for line := range handle.Lines() {
			once.Do(func() { close(ready) })
			select {
			case l.logs <- LogLine{RunID: l.runID, Source: source, Text: line.Text}:
			default:
				log.Printf("[Launcher] dropping %s log line, buffer full", source)
			}
		}
	}()

	select {
	case <-ready:
		return handle, nil
	case <-time.After(timeout):
		procmanager.Shutdown(handle, procmanager.DefaultGracePeriod)
		return nil, fmt.Errorf("%s did not log readiness within %s", source, timeout)
	}
}

func (l *Launcher) startBroadcast() error {
	// The launcher's embedded broker keeps its own parameter-bounds
	// store, independent of the detection/decision servers' own stores
	// (each server validates the updates it actually consumes).
	store := paramstore.NewStore(paramstore.DetectionParams{}, paramstore.DecisionParams{})
	brk, err := broker.New(l.cfg.BrokerConfig, store)
	if err != nil {
		return err
	}
	brk.Start()
	l.brk = brk

	imgReader, err := shmchan.AttachImageChannel(l.cfg.ImageChannelName, l.cfg.ImageWidth, l.cfg.ImageHeight)
	if err != nil {
		brk.Stop()
		return fmt.Errorf("attach image channel: %w", err)
	}
	l.imgReader = imgReader

	detReader, err := shmchan.AttachDetectionChannel(l.cfg.DetectionChannelName)
	if err != nil {
		imgReader.Close()
		brk.Stop()
		return fmt.Errorf("attach detection channel: %w", err)
	}
	l.detReader = detReader

	if l.cfg.ViewerStreamEnabled {
		pub := viewerstream.NewPublisher(l.cfg.ViewerStreamConfig)
		if err := pub.Start(); err != nil {
			detReader.Close()
			imgReader.Close()
			brk.Stop()
			return fmt.Errorf("start viewer stream publisher: %w", err)
		}
		l.viewerPub = pub
	}

	stopCh := make(chan struct{})
	l.broadcastStop = stopCh
	l.wg.Add(1)
	go l.broadcastLoop(stopCh)

	return nil
}

func (l *Launcher) broadcastLoop(stop <-chan struct{}) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.brk.Poll()
			if img, status := l.imgReader.TryRead(); status == shmchan.StatusOK {
				l.brk.BroadcastFrame(img)
			}
			if det, status := l.detReader.TryRead(); status == shmchan.StatusOK {
				l.brk.BroadcastDetection(det)
				if l.viewerPub != nil {
					l.viewerPub.Publish(viewerstream.Update{FrameID: det.FrameID, Detection: det})
				}
			}
		}
	}
}

// shutdown performs the §4.H step 4 reverse-order teardown: stop the
// broker, close reader attachments, terminate decision then detection
// with a two-phase grace period each.
func (l *Launcher) shutdown() {
	if l.broadcastStop != nil {
		close(l.broadcastStop)
	}
	if l.viewerPub != nil {
		l.viewerPub.Stop()
	}
	if l.brk != nil {
		l.brk.Stop()
	}
	if l.detReader != nil {
		l.detReader.Close()
	}
	if l.imgReader != nil {
		l.imgReader.Close()
	}
	if l.decision != nil {
		if err := procmanager.Shutdown(l.decision, procmanager.DefaultGracePeriod); err != nil {
			log.Printf("[Launcher] decision shutdown: %v", err)
		}
	}
	if l.detection != nil {
		if err := procmanager.Shutdown(l.detection, procmanager.DefaultGracePeriod); err != nil {
			log.Printf("[Launcher] detection shutdown: %v", err)
		}
	}
	l.wg.Wait()
}
