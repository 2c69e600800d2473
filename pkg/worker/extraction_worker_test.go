package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

var errBadInput = errors.New("bad input")

type stubHandler struct {
	calls int
}

func (h *stubHandler) HandleExtraction(context.Context, *queue.Task) error {
	h.calls++
	return nil
}

func newTestWorker(t *testing.T, h TaskHandler) *ExtractionWorker {
	t.Helper()
	w, err := NewExtractionWorker(&Config{RedisAddr: "127.0.0.1:1", Concurrency: 1}, h, logger.NewTestLogger(), errBadInput)
	require.NoError(t, err)
	return w
}

func TestNewExtractionWorker_RequiresConcurrency(t *testing.T) {
	_, err := NewExtractionWorker(&Config{Concurrency: 0}, &stubHandler{}, logger.NewTestLogger())
	assert.Error(t, err)
}

func TestDecodeTask(t *testing.T) {
	task, err := decodeTask([]byte(`{"id":"t1","type":"images:extract","payload":{"fileId":"t1"},"metadata":{"format":"png"}}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "png", task.Metadata["format"])

	_, err = decodeTask([]byte(`{"id":"t1"}`))
	assert.ErrorContains(t, err, "missing required fields")

	_, err = decodeTask([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandleImageExtract_UndecodablePayloadSkipsRetry(t *testing.T) {
	h := &stubHandler{}
	w := newTestWorker(t, h)

	err := w.handleImageExtract(context.Background(), asynq.NewTask(queue.TaskTypeImageExtract, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, h.calls)
}

func TestIsPermanent(t *testing.T) {
	w := newTestWorker(t, &stubHandler{})

	assert.True(t, w.isPermanent(fmt.Errorf("task t1: %w", errBadInput)))
	assert.False(t, w.isPermanent(errors.New("redis timeout")))
}

func TestStop_IsIdempotent(t *testing.T) {
	w := newTestWorker(t, &stubHandler{})

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	select {
	case <-w.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestDefaultQueues(t *testing.T) {
	queues := DefaultQueues()
	for _, p := range []int{1, 2, 3} {
		assert.Contains(t, queues, queue.QueueForPriority(p))
	}
}
