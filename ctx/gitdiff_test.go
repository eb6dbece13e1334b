package ctx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractChangedSymbols(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want []string
	}{
		{
			name: "added and removed",
			diff: `diff --git a/server.go b/server.go
--- a/server.go
+++ b/server.go
@@ -5,3 +5,4 @@
-func oldHelper() error {
+func newHelper(ctx context.Context) error {
+	return nil
+}
+type Config struct {
`,
			want: []string{"-func oldHelper() error {", "+func newHelper(ctx context.Context) error {", "+type Config struct {"},
		},
		{
			name: "several languages",
			diff: `diff --git a/app.py b/app.py
@@ -1,0 +2,2 @@
+def handle_request(request):
+    pass
diff --git a/lib.rs b/lib.rs
@@ -1,0 +2,1 @@
+impl Handler for Server {
`,
			want: []string{"+def handle_request(request):", "+impl Handler for Server {"},
		},
		{
			name: "duplicates collapse",
			diff: "@@ -5,0 +6,1 @@\n+func repeated() {\n@@ -20,0 +22,1 @@\n+func repeated() {\n",
			want: []string{"+func repeated() {"},
		},
		{
			name: "plain text",
			diff: "@@ -1,1 +1,1 @@\n-old text\n+new text\n",
			want: nil,
		},
		{
			name: "empty",
			diff: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractChangedSymbols(tt.diff, 50))
		})
	}
}

func TestExtractChangedSymbols_Cap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "@@ -1,0 +1,1 @@\n+func fn%d() {\n", i)
	}

	symbols := extractChangedSymbols(sb.String(), 10)
	require.Len(t, symbols, 10)
	assert.Equal(t, "+func fn0() {", symbols[0])
}

func TestIsDeclarationLine(t *testing.T) {
	for _, line := range []string{
		"func main() {",
		"def process(data):",
		"type Config struct {",
		"export default function App() {",
		"private int count;",
	} {
		assert.True(t, isDeclarationLine(line), line)
	}
	for _, line := range []string{
		"const port = 8080",
		"x := 42",
		"// func commented() {",
		"  func indented() {",
		"",
	} {
		assert.False(t, isDeclarationLine(line), line)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc a() {}\n"), 0o644))
	git("add", "main.go")
	git("commit", "-q", "-m", "init")
	return dir
}

func TestGatherer_GitDiff(t *testing.T) {
	dir := initRepo(t)
	path := filepath.Join(dir, "main.go")
	g := NewGatherer(dir)

	assert.Nil(t, g.Gather(context.Background(), path), "clean file has no context")

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc a() {}\n\nfunc b() {}\n"), 0o644))
	result := g.Gather(context.Background(), path)
	require.NotNil(t, result)
	require.NotNil(t, result.GitDiff)
	assert.False(t, result.GitDiff.Summarized)
	assert.Contains(t, result.GitDiff.Diff, "+func b() {}")
}

func TestGatherer_LargeDiffIsSummarized(t *testing.T) {
	dir := initRepo(t)
	path := filepath.Join(dir, "main.go")

	var sb strings.Builder
	sb.WriteString("package main\n\nfunc a() {}\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "\nfunc generated%d() {\n\tprintln(%d)\n}\n", i, i)
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	result := NewGatherer(dir).Gather(context.Background(), path)
	require.NotNil(t, result)
	assert.True(t, result.GitDiff.Summarized)
	assert.Contains(t, result.GitDiff.Diff, "+func generated0() {")
	assert.NotContains(t, result.GitDiff.Diff, "println")
}

func TestGatherer_OutsideRepo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.go")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))

	assert.Nil(t, NewGatherer(dir).Gather(context.Background(), path))
	assert.Nil(t, NewGatherer("").Gather(context.Background(), path))
}
