package services

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"polarcli/pkg/contracts/domain"
)

// MockBroadcaster is a mock ProgressBroadcaster
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(messageType string, data any) {
	m.Called(messageType, data)
}

func (m *MockBroadcaster) BroadcastProgress(p domain.Progress) {
	m.Called(p)
}

func (m *MockBroadcaster) BroadcastError(source string, err error) {
	m.Called(source, err)
}

// recordingBroadcaster keeps everything it receives
type recordingBroadcaster struct {
	mu       sync.Mutex
	progress []domain.Progress
	errors   map[string]error
	messages []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{errors: make(map[string]error)}
}

func (r *recordingBroadcaster) Broadcast(messageType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, messageType)
}

func (r *recordingBroadcaster) BroadcastProgress(p domain.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingBroadcaster) BroadcastError(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[source] = err
}

func (r *recordingBroadcaster) stages(source string) []domain.ProgressStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ProgressStage
	for _, p := range r.progress {
		if p.Source == source {
			out = append(out, p.Stage)
		}
	}
	return out
}
