package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/openclerk/invoicedesk/internal/fetcher"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, att model.Attachment) (*fetcher.File, error) {
	args := m.Called(ctx, att)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.File), args.Error(1)
}

func (m *mockFetcher) FetchAll(ctx context.Context, atts []model.Attachment) []fetcher.Result {
	args := m.Called(ctx, atts)
	return args.Get(0).([]fetcher.Result)
}

// --- Archive Mock ---

type mockArchive struct {
	mock.Mock
}

func (m *mockArchive) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, name, contentType, data)
	return args.String(0), args.Error(1)
}

func (m *mockArchive) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}

func (m *mockArchive) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// --- Event Recorder ---

// recordingEmitter captures emitted events in order for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *recordingEmitter) Emit(_ context.Context, e model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) Events() []model.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingEmitter) Types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]model.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
