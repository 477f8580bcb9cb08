package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Frame is one captured image. The Mat belongs to the Source and is closed
// once the handler returns; handlers must not retain it.
type Frame struct {
	Mat        *gocv.Mat
	Seq        uint64
	CapturedAt time.Time
}

// Handler consumes frames. At most one call is in flight at a time.
type Handler func(Frame)

// Stats counts what the Source did since it was created.
type Stats struct {
	Captured   uint64 `json:"captured"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	ReadErrors uint64 `json:"read_errors"`
}

// Source reads frames at the camera's FPS and passes them to a handler
// running on its own goroutine. A frame that arrives while the handler is
// still busy with the previous one is dropped, never queued.
type Source struct {
	cam     Camera
	handler Handler
	log     logrus.FieldLogger

	mu     sync.Mutex
	run    *run
	reader sync.WaitGroup
	worker sync.WaitGroup

	seq        atomic.Uint64
	captured   atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
}

// run is the state of one Start..Stop cycle. A handler still executing after
// Stop finishes against its own run and cannot touch the next one.
type run struct {
	stop chan struct{}
	slot chan Frame
	busy atomic.Bool
}

// NewSource creates a Source. handler is called for each delivered frame.
func NewSource(cam Camera, handler Handler, log logrus.FieldLogger) *Source {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Source{
		cam:     cam,
		handler: handler,
		log:     log.WithField("component", "capture"),
	}
}

// Start opens the camera and begins delivering frames. A device error is
// returned as is and nothing is retried.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return nil
	}

	if err := s.cam.Open(); err != nil {
		return err
	}

	r := &run{
		stop: make(chan struct{}),
		slot: make(chan Frame, 1),
	}
	s.run = r

	s.reader.Add(1)
	go s.readLoop(r)

	s.worker.Add(1)
	go s.workLoop(r)

	s.log.WithField("fps", s.cam.FPS()).Info("capture started")
	return nil
}

// Stop halts delivery and closes the camera. A handler call already in
// progress is left to finish; use Wait to block until it has.
func (s *Source) Stop() error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return nil
	}

	close(r.stop)
	s.reader.Wait()

	err := s.cam.Close()
	s.log.WithFields(logrus.Fields{
		"delivered": s.delivered.Load(),
		"dropped":   s.dropped.Load(),
	}).Info("capture stopped")
	return err
}

// Wait blocks until every handler call has returned.
func (s *Source) Wait() {
	s.worker.Wait()
}

// Running reports whether the Source is started.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Stats returns the frame counters.
func (s *Source) Stats() Stats {
	return Stats{
		Captured:   s.captured.Load(),
		Delivered:  s.delivered.Load(),
		Dropped:    s.dropped.Load(),
		ReadErrors: s.readErrors.Load(),
	}
}

// Camera returns the underlying camera.
func (s *Source) Camera() Camera {
	return s.cam
}

func (s *Source) readLoop(r *run) {
	defer s.reader.Done()

	fps := s.cam.FPS()
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		mat, err := s.cam.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrCameraNotOpen) {
				return
			}
			s.readErrors.Add(1)
			s.log.WithError(err).Debug("frame read failed")
			continue
		}

		s.captured.Add(1)
		frame := Frame{
			Mat:        mat,
			Seq:        s.seq.Add(1),
			CapturedAt: time.Now(),
		}

		// Single-slot gate: only hand over when the worker is idle.
		if !r.busy.CompareAndSwap(false, true) {
			mat.Close()
			s.dropped.Add(1)
			s.log.WithField("seq", frame.Seq).Debug("frame dropped, worker busy")
			continue
		}
		r.slot <- frame
	}
}

func (s *Source) workLoop(r *run) {
	defer s.worker.Done()

	for {
		select {
		case <-r.stop:
			// The reader may have handed over a frame just before stopping.
			select {
			case frame := <-r.slot:
				frame.Mat.Close()
			default:
			}
			return
		case frame := <-r.slot:
			s.deliver(frame)
			frame.Mat.Close()
			r.busy.Store(false)
		}
	}
}

func (s *Source) deliver(frame Frame) {
	s.delivered.Add(1)
	if s.handler != nil {
		s.handler(frame)
	}
}
