package notify

import (
	"sync"

	"gitlab.com/dirk.krummacker/sos-service/internal/model"
)

// Recorder is a Notifier that keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices map[string][]model.Notice
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notices: make(map[string][]model.Notice)}
}

// Notify implements Notifier.
func (r *Recorder) Notify(userId string, notice model.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices[userId] = append(r.notices[userId], notice)
}

// Notices returns the notices shown to a user so far.
func (r *Recorder) Notices(userId string) []model.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notice{}, r.notices[userId]...)
}

// Messages returns only the message texts shown to a user.
func (r *Recorder) Messages(userId string) []string {
	var messages []string
	for _, n := range r.Notices(userId) {
		messages = append(messages, n.Message)
	}
	return messages
}
