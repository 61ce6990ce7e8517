// Package flash runs cancellable on/off sequences across devices and puts
// every device back the way it was afterwards.
package flash

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/eventbus"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/ledger"
)

// Target is what a sequence reads from and writes to.
type Target interface {
	host.Reader
	host.Writer
}

// Recorder appends audit entries.
type Recorder interface {
	Append(eventType ledger.EventType, subject string, payload map[string]any) error
}

type original struct {
	capability host.Capability
	brightness int
	speedLevel int
	on         bool
}

// Job is a running flash sequence.
type Job struct {
	ID      string
	Devices []host.DeviceID

	opts      Options
	originals map[host.DeviceID]original
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	cancelled bool
}

// Done is closed once the job has restored its devices.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) signal() {
	j.stopOnce.Do(func() { close(j.stop) })
}

// Sequencer owns all flash jobs. Its bookkeeping (jobs and the flashing
// device set) is guarded by one mutex.
type Sequencer struct {
	target   Target
	recorder Recorder
	bus      *eventbus.Bus

	mu       sync.Mutex
	jobs     map[string]*Job
	flashing map[host.DeviceID]int
	wg       sync.WaitGroup
}

// New creates a sequencer. recorder and bus may be nil.
func New(target Target, recorder Recorder, bus *eventbus.Bus) *Sequencer {
	return &Sequencer{
		target:   target,
		recorder: recorder,
		bus:      bus,
		jobs:     make(map[string]*Job),
		flashing: make(map[host.DeviceID]int),
	}
}

// Start validates opts, captures the original state of every device and
// starts the sequence on its own goroutine.
func (s *Sequencer) Start(opts Options) (*Job, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        "flash_" + uuid.NewString(),
		opts:      opts,
		originals: make(map[host.DeviceID]original, len(opts.Devices)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	// Originals are read before the devices are marked as flashing, so nothing
	// watching the flashing set can mistake the first flash write for an
	// external change.
	for _, id := range opts.Devices {
		d, err := s.target.Device(id)
		if err != nil {
			log.Error().Err(err).Str("device", string(id)).Msg("Skipping device for flash")
			continue
		}
		switch c := host.Classify(d); c {
		case host.CapDimmer, host.CapRelay, host.CapFan:
			job.originals[id] = original{capability: c, brightness: d.Brightness, speedLevel: d.SpeedLevel, on: d.OnState}
			job.Devices = append(job.Devices, id)
		default:
			log.Warn().Str("device", d.Label()).Str("capability", c.String()).Msg("Device cannot be flashed, skipping")
		}
	}
	if len(job.Devices) == 0 {
		return nil, ErrNoDevices
	}

	s.mu.Lock()
	for _, id := range job.Devices {
		s.flashing[id]++
	}
	s.jobs[job.ID] = job
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info().
		Str("job", job.ID).
		Int("devices", len(job.Devices)).
		Int("count", opts.Count).
		Dur("duration", opts.Duration).
		Dur("gap", opts.Gap).
		Msg("Flash sequence started")
	s.record(ledger.EventFlashStarted, job, map[string]any{"devices": idStrings(job.Devices), "count": opts.Count})
	s.publish(job, "started")

	go s.run(job)
	return job, nil
}

func (s *Sequencer) run(job *Job) {
	defer s.wg.Done()
	defer s.finish(job)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job", job.ID).Msg("Flash sequence panicked")
		}
	}()

	ctx := context.Background()
	maxLevel, minLevel := job.opts.maxLevel(), job.opts.minLevel()

	for i := 0; i < job.opts.Count; i++ {
		s.setAll(ctx, job, maxLevel, true)
		if !s.wait(job, job.opts.Duration) {
			return
		}
		s.setAll(ctx, job, minLevel, false)
		if i < job.opts.Count-1 && !s.wait(job, job.opts.Gap) {
			return
		}
	}
}

// wait sleeps for d and reports false when the job was cancelled meanwhile.
func (s *Sequencer) wait(job *Job, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-job.stop:
			job.cancelled = true
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-job.stop:
		job.cancelled = true
		return false
	case <-timer.C:
		return true
	}
}

// setAll writes one phase. Dimmers go to lvl; relays and fans follow the
// phase, on for the bright one and off for the dark one, whatever the level.
func (s *Sequencer) setAll(ctx context.Context, job *Job, lvl int, bright bool) {
	for _, id := range job.Devices {
		var err error
		switch job.originals[id].capability {
		case host.CapDimmer:
			err = s.target.SetBrightness(ctx, id, lvl)
		case host.CapRelay, host.CapFan:
			if bright {
				err = s.target.TurnOn(ctx, id)
			} else {
				err = s.target.TurnOff(ctx, id)
			}
		}
		if err != nil {
			log.Error().Err(err).Str("job", job.ID).Str("device", string(id)).Int("level", lvl).Bool("bright", bright).Msg("Flash write failed")
		}
	}
}

// finish restores every device and clears the job's bookkeeping. It runs on
// every exit path of run.
func (s *Sequencer) finish(job *Job) {
	ctx := context.Background()
	for _, id := range job.Devices {
		orig := job.originals[id]
		var err error
		switch orig.capability {
		case host.CapDimmer:
			err = s.target.SetBrightness(ctx, id, orig.brightness)
		case host.CapRelay:
			if orig.on {
				err = s.target.TurnOn(ctx, id)
			} else {
				err = s.target.TurnOff(ctx, id)
			}
		case host.CapFan:
			err = s.target.SetSpeedLevel(ctx, id, orig.speedLevel)
		}
		if err != nil {
			log.Error().Err(err).Str("job", job.ID).Str("device", string(id)).Msg("Failed to restore device after flash")
		}
	}

	s.mu.Lock()
	for _, id := range job.Devices {
		if s.flashing[id] <= 1 {
			delete(s.flashing, id)
		} else {
			s.flashing[id]--
		}
	}
	delete(s.jobs, job.ID)
	s.mu.Unlock()

	log.Info().Str("job", job.ID).Bool("cancelled", job.cancelled).Msg("Flash sequence finished")
	s.record(ledger.EventFlashFinished, job, map[string]any{"cancelled": job.cancelled})
	s.publish(job, "finished")
	close(job.done)
}

// CancelAll signals every running job and returns how many were signalled.
// It does not wait for the jobs to restore their devices.
func (s *Sequencer) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		log.Info().Msg("No flash sequences currently running")
		return 0
	}
	for _, job := range s.jobs {
		job.signal()
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("Cancelling all flash sequences")
	return len(s.jobs)
}

// Cancel signals one job. It reports false when the job is not running.
func (s *Sequencer) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if ok {
		job.signal()
	}
	return ok
}

// IsFlashing reports whether any running job owns the device.
func (s *Sequencer) IsFlashing(id host.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flashing[id] > 0
}

// Active returns the ids of running jobs.
func (s *Sequencer) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Wait blocks until every job has finished or ctx expires.
func (s *Sequencer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every job and waits for the devices to be restored.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.CancelAll()
	return s.Wait(ctx)
}

func (s *Sequencer) record(t ledger.EventType, job *Job, payload map[string]any) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Append(t, job.ID, payload); err != nil {
		log.Warn().Err(err).Str("job", job.ID).Msg("Failed to record flash event")
	}
}

func (s *Sequencer) publish(job *Job, state string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:   eventbus.EventTypeFlash,
		Source: "flash",
		Data: map[string]any{
			"id":        job.ID,
			"state":     state,
			"devices":   idStrings(job.Devices),
			"cancelled": job.cancelled,
		},
	})
}

func idStrings(ids []host.DeviceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
