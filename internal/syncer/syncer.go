package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/remindersync/internal/db"
)

// ErrShutdown is returned when updates are buffered after Shutdown
var ErrShutdown = errors.New("syncer: shut down")

// Syncer buffers run history and writes it to the database off the caller's
// goroutine
type Syncer struct {
	config Config
	logger *slog.Logger
	writer Writer

	mu        sync.Mutex
	buffer    []RunUpdate
	lastFlush time.Time
	started   bool
	closed    bool

	runChannel chan RunUpdate

	written atomic.Int64
	failed  atomic.Int64

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewSyncer creates a new syncer with the specified configuration
func NewSyncer(config Config, writer Writer, logger *slog.Logger) (*Syncer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Syncer{
		config:     config,
		logger:     logger,
		writer:     writer,
		lastFlush:  time.Now(),
		runChannel: make(chan RunUpdate, config.RunChannelSize),
		shutdown:   make(chan struct{}),
	}, nil
}

// BufferRunUpdate adds an update to the buffer and flushes once the threshold
// is reached. Returns an error if the buffer exceeds its maximum size.
func (s *Syncer) BufferRunUpdate(update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}

	s.buffer = append(s.buffer, update)

	if len(s.buffer) >= s.config.RunFlushThreshold {
		if err := s.flushLocked(); err != nil {
			s.logger.Warn("threshold flush incomplete", "error", err)
		}
	}

	if len(s.buffer) > s.config.MaxBufferedRunUpdates {
		return fmt.Errorf("run update buffer exceeded maximum size: %d > %d",
			len(s.buffer), s.config.MaxBufferedRunUpdates)
	}

	return nil
}

// Flush sends all buffered updates to the writer goroutine.
// Returns an error if the channel filled before the buffer emptied.
func (s *Syncer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Syncer) flushLocked() error {
	sent := 0
	defer func() {
		s.buffer = s.buffer[sent:]
		if sent > 0 {
			s.lastFlush = time.Now()
		}
	}()

	for _, update := range s.buffer {
		select {
		case s.runChannel <- update:
			sent++
		default:
			return fmt.Errorf("run channel full, %d updates buffered", len(s.buffer)-sent)
		}
	}

	return nil
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	s.mu.Lock()
	buffered := len(s.buffer)
	s.mu.Unlock()

	return Stats{
		BufferedRunUpdates: buffered,
		WrittenRuns:        s.written.Load(),
		FailedWrites:       s.failed.Load(),
	}
}

// LastFlush returns the time of the last flush that moved updates
func (s *Syncer) LastFlush() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush
}

// Start launches the writer and the periodic flusher
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	s.wg.Add(2)
	go s.runWriter()
	go s.runFlusher()
}

func (s *Syncer) runFlusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RunFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Warn("periodic flush incomplete", "error", err)
			}
		}
	}
}

// runWriter drains the channel in batches until it is closed
func (s *Syncer) runWriter() {
	defer s.wg.Done()

	for update := range s.runChannel {
		batch := []RunUpdate{update}
	drain:
		for len(batch) < s.config.RunChannelSize {
			select {
			case next, ok := <-s.runChannel:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		s.write(batch)
	}

	s.logger.Debug("run history writer shut down")
}

func (s *Syncer) write(batch []RunUpdate) {
	rows := make([]*db.WorkRun, 0, len(batch))
	for _, u := range batch {
		rows = append(rows, u.row())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	if err := s.writer.InsertWorkRuns(ctx, rows); err != nil {
		s.failed.Add(int64(len(batch)))
		s.logger.Error("failed to write run history",
			"runs", len(batch),
			"first_run_id", batch[0].RunID,
			"error", err)
		return
	}

	s.written.Add(int64(len(batch)))
	s.logger.Debug("wrote run history", "runs", len(batch))
}

// Shutdown flushes everything still buffered and waits for the writer to finish
func (s *Syncer) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if !s.started {
		// Nothing is draining the channel yet
		s.wg.Add(1)
		go s.runWriter()
	}
	s.mu.Unlock()

	s.logger.Info("starting syncer shutdown")
	close(s.shutdown)

	s.mu.Lock()
	remaining := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	for _, update := range remaining {
		s.runChannel <- update
	}

	// The writer exits once the channel is closed and drained
	close(s.runChannel)
	s.wg.Wait()

	s.logger.Info("syncer shutdown complete")
	return nil
}
