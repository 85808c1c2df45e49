package collab

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/agentworkforce/relaydoc/internal/protocol"
)

type saveTask struct {
	changeID     string
	connectionID string
	userID       string
	content      string
	at           time.Time
}

// tryEnqueue must be called with s.mu held.
func (s *Session) tryEnqueue(task saveTask) bool {
	if s.closed {
		return false
	}
	select {
	case s.saves <- task:
		s.pending++
		return true
	default:
		return false
	}
}

// saveWorker writes queued content in arrival order until the queue is
// closed and drained. A successor session for the same document waits on
// done before its first write.
func (s *Session) saveWorker(prev <-chan struct{}) {
	defer func() {
		close(s.done)
		if s.onDrained != nil {
			s.onDrained(s)
		}
	}()
	if prev != nil {
		<-prev
	}
	for task := range s.saves {
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		err := s.store.Write(ctx, s.id, task.content, task.userID, task.at)
		cancel()

		s.mu.Lock()
		s.pending--
		sender := s.participants[task.connectionID]
		if err != nil {
			glog.Warningf("collab: save %s for document %s failed: %v", task.changeID, s.id, err)
			if sender != nil {
				s.deliver(sender, &protocol.SaveFailed{ChangeID: task.changeID, Message: "failed to save document"})
			}
		} else if sender != nil {
			s.deliver(sender, &protocol.Saved{ChangeID: task.changeID})
		}
		s.mu.Unlock()
	}
}
