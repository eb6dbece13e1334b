package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codemerge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReconciler answers every full-file request with a fixed result
type stubReconciler struct {
	code string
	err  error
}

func (r *stubReconciler) Reconcile(ctx context.Context, req *types.ReconcileRequest) *types.ReconcileResult {
	if r.err != nil {
		return &types.ReconcileResult{Code: req.Original, FellBack: true, Err: r.err}
	}
	return &types.ReconcileResult{Code: r.code}
}

type testSession struct {
	*session
	stdout, stderr *bytes.Buffer
}

func newTestSession(t *testing.T, rec *stubReconciler) testSession {
	t.Helper()
	var stdout, stderr bytes.Buffer
	s, err := startSession(types.DefaultConfig, rec, &stdout, &stderr)
	require.NoError(t, err)
	t.Cleanup(s.close)
	return testSession{session: s, stdout: &stdout, stderr: &stderr}
}

func writeFiles(t *testing.T, original, proposal string) fileArgs {
	t.Helper()
	dir := t.TempDir()
	args := fileArgs{
		Original: filepath.Join(dir, "main.go"),
		Proposal: filepath.Join(dir, "proposal.txt"),
	}
	require.NoError(t, os.WriteFile(args.Original, []byte(original), 0o600))
	require.NoError(t, os.WriteFile(args.Proposal, []byte(proposal), 0o644))
	return args
}

func TestApply_Hunks(t *testing.T) {
	ts := newTestSession(t, &stubReconciler{})
	args := writeFiles(t, "a\nb\nc\n", "<<<<<<< SEARCH\nb\n=======\nB\n>>>>>>> REPLACE")

	cmd := &applyCommand{Write: true, Args: args}
	require.NoError(t, cmd.run(context.Background(), ts.session))

	assert.Contains(t, ts.stdout.String(), "-b\n+B\n")
	assert.Contains(t, ts.stdout.String(), "@@ -1,3 +1,3 @@")

	written, err := os.ReadFile(args.Original)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(written))

	info, err := os.Stat(args.Original)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "permissions kept")
}

func TestApply_DryRunLeavesFile(t *testing.T) {
	ts := newTestSession(t, &stubReconciler{})
	args := writeFiles(t, "a\nb", "<<<<<<< SEARCH\na\n=======\nA\n>>>>>>> REPLACE")

	cmd := &applyCommand{Args: args}
	require.NoError(t, cmd.run(context.Background(), ts.session))

	written, err := os.ReadFile(args.Original)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(written))
	assert.Contains(t, ts.stdout.String(), "+A")
}

func TestApply_FullFile(t *testing.T) {
	ts := newTestSession(t, &stubReconciler{code: "x\nY\n"})
	args := writeFiles(t, "x\ny\n", "Y")

	cmd := &applyCommand{Write: true, Args: args}
	require.NoError(t, cmd.run(context.Background(), ts.session))

	written, err := os.ReadFile(args.Original)
	require.NoError(t, err)
	assert.Equal(t, "x\nY\n", string(written))
}

func TestApply_Failures(t *testing.T) {
	t.Run("reconcile fell back", func(t *testing.T) {
		ts := newTestSession(t, &stubReconciler{err: errors.New("model down")})
		args := writeFiles(t, "x\ny", "Y")

		err := (&applyCommand{Write: true, Args: args}).run(context.Background(), ts.session)
		assert.ErrorContains(t, err, "nothing applied")
		assert.Contains(t, ts.stderr.String(), "model down")
	})

	t.Run("unanchored hunk", func(t *testing.T) {
		ts := newTestSession(t, &stubReconciler{})
		args := writeFiles(t, "x\ny", "<<<<<<< SEARCH\nmissing\n=======\nz\n>>>>>>> REPLACE")

		err := (&applyCommand{Args: args}).run(context.Background(), ts.session)
		assert.ErrorContains(t, err, "could not be anchored")
	})

	t.Run("missing file", func(t *testing.T) {
		ts := newTestSession(t, &stubReconciler{})
		err := (&applyCommand{Args: fileArgs{Original: "/nonexistent/a", Proposal: "/nonexistent/b"}}).run(context.Background(), ts.session)
		assert.ErrorContains(t, err, "read original")
	})
}

func TestUnifiedDiff(t *testing.T) {
	diff, err := unifiedDiff("f.go", "a\nb\n", "a\nc\n")
	require.NoError(t, err)
	assert.Equal(t, "--- a/f.go\n+++ b/f.go\n@@ -1,2 +1,2 @@\n a\n-b\n+c\n", diff)

	same, err := unifiedDiff("f.go", "a\n", "a\n")
	require.NoError(t, err)
	assert.Empty(t, same)
}

func TestWatch_StreamsAppendsAndFinishes(t *testing.T) {
	ts := newTestSession(t, &stubReconciler{})
	args := writeFiles(t, "a\nb\nc", "<<<<<<< SEARCH\nb\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&watchCommand{Args: args}).run(ctx, ts.session)
	}()

	// Give the watcher time to start before appending the rest of the hunk
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(args.Proposal, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("=======\nB\n>>>>>>> REPLACE")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	time.Sleep(300 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	out := ts.stdout.String()
	assert.Contains(t, out, "unterminated hunk", "partial preview printed while streaming")
	assert.Contains(t, out, "(hunks, +1 -1, 1 regions)", "final preview printed on exit")
}
