package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]bool
}

func (r *recordingSubmitter) SubmitFile(_ context.Context, path string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	if r.fail[filepath.Base(path)] {
		return 0, errors.New("invalid test description")
	}
	return len(r.paths), nil
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSubmitsNewFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{fail: map[string]bool{"bad.yaml": true}}
	w := New(dir, 20*time.Millisecond, sub)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("c"), 0644))

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, ProcessedDir, "good.yaml")) &&
			exists(filepath.Join(dir, FailedDir, "bad.yaml"))
	}, 2*time.Second, 10*time.Millisecond)

	reason, err := os.ReadFile(filepath.Join(dir, FailedDir, "bad.yaml.error"))
	require.NoError(t, err)
	assert.Contains(t, string(reason), "invalid test description")
	assert.True(t, exists(filepath.Join(dir, "notes.txt")))
	assert.ElementsMatch(t, []string{"good.yaml", "bad.yaml"}, sub.submitted())
}

func TestPicksUpWaitingFilesOnStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queued.yml"), []byte("a"), 0644))

	sub := &recordingSubmitter{}
	w := New(dir, 10*time.Millisecond, sub)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, ProcessedDir, "queued.yml"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"queued.yml"}, sub.submitted())
}

func TestRepeatedWritesAreDebounced(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	w := New(dir, 100*time.Millisecond, sub)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	path := filepath.Join(dir, "test.yaml")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, ProcessedDir, "test.yaml"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"test.yaml"}, sub.submitted())
}

func TestStopLeavesPendingFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	w := New(dir, time.Hour, sub)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "later.yaml"), []byte("a"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	assert.True(t, exists(filepath.Join(dir, "later.yaml")))
	assert.Empty(t, sub.submitted())
}
