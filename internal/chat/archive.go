package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/roomchat/internal/session"
)

// Archive stores room transcripts beyond the life of a connection.
type Archive interface {
	Append(ctx context.Context, roomID string, msg session.ChatMessage) error
	Recent(ctx context.Context, roomID string, limit int) ([]session.ChatMessage, error)
}

const (
	archiveQueueSize   = 128
	archiveTimeout     = 5 * time.Second
	archiveRecentLimit = 50 // messages preloaded when entering a room
)

type archiveJob struct {
	roomID string
	msg    session.ChatMessage
}

// archiver writes messages to an Archive on its own goroutine so slow
// storage never stalls event delivery. Jobs are dropped when the queue is
// full.
type archiver struct {
	archive Archive
	logger  *zap.Logger
	jobs    chan archiveJob
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newArchiver(a Archive, logger *zap.Logger) *archiver {
	w := &archiver{
		archive: a,
		logger:  logger,
		jobs:    make(chan archiveJob, archiveQueueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *archiver) enqueue(roomID string, msg session.ChatMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.jobs <- archiveJob{roomID: roomID, msg: msg}:
	default:
		w.logger.Debug("archive queue full, dropping message", zap.String("room", roomID))
	}
}

func (w *archiver) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := w.archive.Append(ctx, job.roomID, job.msg); err != nil {
			w.logger.Warn("archive append failed", zap.String("room", job.roomID), zap.Error(err))
		}
		cancel()
	}
}

// close stops accepting jobs and waits for the queue to drain.
func (w *archiver) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}
