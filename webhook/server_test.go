package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/orchestrate"
	"github.com/c360studio/imagent/task"
	"github.com/c360studio/imagent/tasklock"
	"github.com/c360studio/imagent/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triggerField = "field-trigger"

// fakeTracker implements both the server and runner tracker slices.
type fakeTracker struct {
	mu       sync.Mutex
	task     *tracker.Task
	getErr   error
	uploads  map[string][]byte
	fields   map[string]any
	comments []string
}

func newFakeTracker(t *tracker.Task) *fakeTracker {
	return &fakeTracker{
		task:    t,
		uploads: map[string][]byte{},
		fields:  map[string]any{},
	}
}

func (f *fakeTracker) GetTask(_ context.Context, _ string) (*tracker.Task, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.task, nil
}

func (f *fakeTracker) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	return []byte("bytes-of-" + url), nil
}

func (f *fakeTracker) UploadAttachment(_ context.Context, _, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = data
	return nil
}

func (f *fakeTracker) SetCustomField(_ context.Context, _, fieldID string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[fieldID] = value
	return nil
}

func (f *fakeTracker) PostComment(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, text)
	return nil
}

// blockingEngine lets tests hold a run open and inspect its input.
type blockingEngine struct {
	started chan orchestrate.Input
	release chan *orchestrate.Result
	brand   string
}

func (e *blockingEngine) Process(_ context.Context, in orchestrate.Input) *orchestrate.Result {
	e.started <- in
	return <-e.release
}

func checkboxField(id string, value bool) tracker.CustomField {
	return tracker.CustomField{
		ID:    id,
		Type:  tracker.FieldTypeCheckbox,
		Value: json.RawMessage(fmt.Sprintf("%t", value)),
	}
}

func testTask(trigger bool) *tracker.Task {
	return &tracker.Task{
		ID: "task-1",
		CustomFields: []tracker.CustomField{
			checkboxField(triggerField, trigger),
			{
				Name:  "Extra Notes",
				Type:  tracker.FieldTypeText,
				Value: json.RawMessage(`"Remove background."`),
			},
			{
				Name: "Main Image",
				Type: tracker.FieldTypeAttachment,
				Value: json.RawMessage(
					`[{"url": "https://files/in.png", "title": "in.png"}]`),
			},
		},
	}
}

type harness struct {
	tracker *fakeTracker
	engine  *blockingEngine
	locks   *tasklock.Locker
	srv     *httptest.Server
}

func newHarness(t *testing.T, trackerTask *tracker.Task) *harness {
	ft := newFakeTracker(trackerTask)
	engine := &blockingEngine{
		started: make(chan orchestrate.Input, 4),
		release: make(chan *orchestrate.Result, 4),
	}
	factory := func(brand string) Engine {
		engine.brand = brand
		return engine
	}
	runner := NewRunner(ft, task.NewParser(), factory, triggerField)
	locks := tasklock.New(time.Minute)
	server := NewServer(ft, runner, locks, triggerField, 8)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &harness{tracker: ft, engine: engine, locks: locks, srv: srv}
}

func (h *harness) post(t *testing.T, body map[string]any) (int, map[string]string) {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+"/webhook", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func delivery(webhookID string) map[string]any {
	return map[string]any{
		"event":         "taskUpdated",
		"task_id":       "task-1",
		"history_items": []map[string]any{{"id": webhookID}},
	}
}

func successResult() *orchestrate.Result {
	return &orchestrate.Result{
		Status:     orchestrate.StatusSuccess,
		Iterations: 1,
		ModelUsed:  "m1",
		FinalImage: &imagegen.GeneratedImage{ModelName: "m1", Data: []byte("\x89PNG\r\n\x1a\nrest")},
	}
}

func TestWebhookAcceptedRunsAndWritesBack(t *testing.T) {
	h := newHarness(t, testTask(true))

	code, body := h.post(t, delivery("wh-1"))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "accepted", body["status"])

	in := <-h.engine.started
	assert.Equal(t, "task-1", in.TaskID)
	assert.Equal(t, task.TypeEdit, in.TaskType)
	assert.Equal(t, "Remove background.", in.Request)
	assert.Equal(t, []string{"https://files/in.png"}, in.GenerationURLs)
	require.Len(t, in.ContextImages, 1)
	assert.Equal(t, "main image", in.ContextImages[0].Role)

	h.engine.release <- successResult()

	require.Eventually(t, func() bool {
		h.tracker.mu.Lock()
		defer h.tracker.mu.Unlock()
		return len(h.tracker.uploads) == 1
	}, time.Second, 5*time.Millisecond)

	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	assert.Contains(t, h.tracker.uploads, "edited-m1.png")
	assert.Equal(t, false, h.tracker.fields[triggerField], "trigger field is unset after success")
	require.Len(t, h.tracker.comments, 1)
	assert.Contains(t, h.tracker.comments[0], "m1")
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	h := newHarness(t, testTask(true))

	code, body := h.post(t, delivery("wh-dup"))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "accepted", body["status"])

	code, body = h.post(t, delivery("wh-dup"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", body["status"])

	h.engine.release <- successResult()
}

func TestWebhookBusyWhileRunning(t *testing.T) {
	h := newHarness(t, testTask(true))

	code, _ := h.post(t, delivery("wh-a"))
	require.Equal(t, http.StatusAccepted, code)
	<-h.engine.started // the run is now holding the lock

	code, body := h.post(t, delivery("wh-b"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "busy", body["status"])

	h.engine.release <- successResult()

	require.Eventually(t, func() bool {
		return !h.locks.Held("task-1")
	}, time.Second, 5*time.Millisecond, "lock is released when the run finishes")
}

func TestWebhookIgnoredWithoutTrigger(t *testing.T) {
	h := newHarness(t, testTask(false))

	code, body := h.post(t, delivery("wh-1"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", body["status"])
	assert.False(t, h.locks.Held("task-1"))
}

func TestWebhookRejectsMissingTaskID(t *testing.T) {
	h := newHarness(t, testTask(true))

	code, body := h.post(t, map[string]any{"event": "taskUpdated"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "rejected", body["status"])
}

func TestWebhookFallbackLeavesTaskUnchanged(t *testing.T) {
	h := newHarness(t, testTask(true))

	code, _ := h.post(t, delivery("wh-1"))
	require.Equal(t, http.StatusAccepted, code)
	<-h.engine.started
	h.engine.release <- &orchestrate.Result{Status: orchestrate.StatusHybridFallback, Iterations: 3}

	require.Eventually(t, func() bool {
		return !h.locks.Held("task-1")
	}, time.Second, 5*time.Millisecond)

	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	assert.Empty(t, h.tracker.uploads, "no image upload on fallback")
	assert.NotContains(t, h.tracker.fields, triggerField, "trigger field is left set")
}

func TestDedupRingFIFO(t *testing.T) {
	d := newDedupRing(2)

	assert.False(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
	assert.True(t, d.Seen("a"))

	// "c" evicts "a", the oldest entry, never "b".
	assert.False(t, d.Seen("c"))
	assert.True(t, d.Seen("b"))
	assert.False(t, d.Seen("a"))
}
