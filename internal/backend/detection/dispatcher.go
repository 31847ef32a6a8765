package detection

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
)

// Outcome describes how a dispatched detection job ended.
type Outcome string

const (
	OutcomeStored            Outcome = "stored"
	OutcomeImageMissing      Outcome = "image_missing"
	OutcomeDetectionFailed   Outcome = "detection_failed"
	OutcomeMalformedResponse Outcome = "malformed_response"
	OutcomeImageGone         Outcome = "image_gone"
	OutcomeStoreFailed       Outcome = "store_failed"
	OutcomeRejected          Outcome = "rejected"
)

// Result is delivered once per dispatched job.
type Result struct {
	ImageID    string  `json:"imageId"`
	Outcome    Outcome `json:"outcome"`
	Detections int     `json:"detections"`
	Error      string  `json:"error,omitempty"`
	Err        error   `json:"-"`
}

// Notifier receives every job result, e.g. to push it to connected clients.
type Notifier interface {
	Notify(result Result)
}

// ImageStore is the part of the image store the dispatcher writes back to.
type ImageStore interface {
	GetImageByID(ctx context.Context, id string) (*database.Image, error)
	SaveImage(ctx context.Context, image *database.Image) error
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type job struct {
	filePath string
	imageID  string
	done     chan Result
}

// Dispatcher runs detection jobs on a fixed pool of workers, decoupled from
// the goroutine that submits them.
type Dispatcher struct {
	detector  Detector
	store     ImageStore
	notifiers []Notifier
	timeout   time.Duration

	queue   chan job
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(detector Detector, store ImageStore, options Options, notifiers ...Notifier) *Dispatcher {
	if options.Workers <= 0 {
		options.Workers = DefaultWorkers
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}

	d := &Dispatcher{
		detector:  detector,
		store:     store,
		notifiers: notifiers,
		timeout:   options.Timeout,
		queue:     make(chan job, options.QueueSize),
	}

	for i := 0; i < options.Workers; i++ {
		d.workers.Add(1)
		go d.work(i + 1)
	}
	slog.Info("detection dispatcher started", "workers", options.Workers, "queue_size", options.QueueSize, "timeout", options.Timeout)
	return d
}

// Dispatch schedules detection for a stored image and returns immediately.
// The returned channel yields exactly one Result and is then closed.
func (d *Dispatcher) Dispatch(filePath, imageID string) <-chan Result {
	j := job{filePath: filePath, imageID: imageID, done: make(chan Result, 1)}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.finish(j, Result{ImageID: imageID, Outcome: OutcomeRejected, Err: errors.New("dispatcher is closed")})
		return j.done
	}

	select {
	case d.queue <- j:
	default:
		// queue full, wait for room without holding up the caller
		d.pending.Add(1)
		go func() {
			defer d.pending.Done()
			d.queue <- j
		}()
	}
	return j.done
}

// Close stops accepting jobs, lets queued ones finish and waits for the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	close(d.queue)
	d.workers.Wait()
	slog.Info("detection dispatcher stopped")
}

func (d *Dispatcher) work(id int) {
	defer d.workers.Done()
	slog.Debug("detection worker starting", "worker", id)
	for j := range d.queue {
		d.finish(j, d.process(j))
	}
	slog.Debug("detection worker stopping", "worker", id)
}

func (d *Dispatcher) process(j job) Result {
	result := Result{ImageID: j.imageID}

	if _, err := os.Stat(j.filePath); err != nil {
		result.Outcome = OutcomeImageMissing
		result.Err = err
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	detections, err := d.detector.Detect(ctx, j.filePath)
	if err != nil {
		result.Err = err
		result.Outcome = OutcomeDetectionFailed
		if errors.Is(err, ErrMalformedResponse) {
			result.Outcome = OutcomeMalformedResponse
		}
		return result
	}

	image, err := d.store.GetImageByID(ctx, j.imageID)
	if errors.Is(err, database.ErrNotFound) {
		result.Outcome = OutcomeImageGone
		return result
	}
	if err != nil {
		result.Outcome = OutcomeStoreFailed
		result.Err = err
		return result
	}

	image.Detections = detections
	if err := d.store.SaveImage(ctx, image); err != nil {
		result.Outcome = OutcomeStoreFailed
		result.Err = err
		return result
	}

	result.Outcome = OutcomeStored
	result.Detections = len(detections)
	return result
}

func (d *Dispatcher) finish(j job, result Result) {
	if result.Err != nil {
		result.Error = result.Err.Error()
		slog.Error("detection job failed",
			"image_id", result.ImageID,
			"path", j.filePath,
			"outcome", result.Outcome,
			"error", result.Err)
	} else if result.Outcome == OutcomeImageGone {
		slog.Debug("image removed before detections arrived", "image_id", result.ImageID)
	} else {
		slog.Info("detections stored", "image_id", result.ImageID, "count", result.Detections)
	}

	for _, notifier := range d.notifiers {
		notifier.Notify(result)
	}
	j.done <- result
	close(j.done)
}
