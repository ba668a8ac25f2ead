package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragbench/internal/bench"
	"ragbench/internal/config"
	"ragbench/internal/transcript"
)

// fakeBackend serves the Ollama and Qdrant endpoints the commands use.
type fakeBackend struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch r.URL.Path {
	case "/api/embeddings":
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	case "/api/generate":
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		count := 10
		if strings.Contains(req.Prompt, "second") {
			count = 30
		}
		fmt.Fprintf(w, "{\"response\":\"ok\"}\n{\"response\":\"\",\"done\":true,\"context\":[1],\"eval_count\":%d,\"eval_duration\":1000000000}\n", count)
	default:
		_, _ = w.Write([]byte(`{"result":true}`))
	}
}

func (f *fakeBackend) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv
}

func writeConfig(t *testing.T, dir string, edit func(*config.AppConfig)) string {
	t.Helper()
	t.Setenv(config.EnvEndpoint, "")
	t.Setenv(config.EnvModel, "")
	cfg := &config.AppConfig{
		LLM:         config.LLMConfig{Model: "m1"},
		Embedder:    config.EmbedderConfig{Type: "tfidf"},
		VectorStore: config.VectorStoreConfig{Type: "memory"},
		Log:         config.LogConfig{File: filepath.Join(dir, "ragbench.log"), Level: "debug"},
	}
	if edit != nil {
		edit(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func persistent(url string) func(*config.AppConfig) {
	return func(cfg *config.AppConfig) {
		cfg.LLM.Endpoint = url
		cfg.Embedder = config.EmbedderConfig{Type: "ollama", Ollama: &config.OllamaEmbedderConfig{BaseURL: url, Model: "embed"}}
		cfg.VectorStore = config.VectorStoreConfig{Type: "qdrant", Qdrant: &config.QdrantConfig{URL: url, Collection: "docs"}}
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"ragbench"}, args...))
	return out.String(), errOut.String(), err
}

func writeDoc(t *testing.T, dir string) string {
	t.Helper()
	doc := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(doc, []byte("One sentence here. Another one there."), 0o644))
	return doc
}

func TestContextShow(t *testing.T) {
	path, err := transcript.SaveContext(filepath.Join(t.TempDir(), "saved"), []int{1, 2, 3})
	require.NoError(t, err)

	out, _, err := run(t, "context", "show", path)
	require.NoError(t, err)
	assert.Equal(t, "3 tokens\n1,2,3\n", out)
}

func TestIngest_RejectsProcessLocalIndex(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir)

	_, _, err := run(t, "ingest", "--config", writeConfig(t, dir, nil), doc)
	assert.ErrorContains(t, err, "memory vector store does not outlive the process")

	cfgPath := writeConfig(t, dir, func(cfg *config.AppConfig) {
		cfg.VectorStore = config.VectorStoreConfig{Type: "qdrant", Qdrant: &config.QdrantConfig{URL: "http://127.0.0.1:1"}}
	})
	_, _, err = run(t, "ingest", "--config", cfgPath, doc)
	assert.ErrorContains(t, err, "tfidf embedder is fitted to the ingested files")
}

func TestIngest_Qdrant(t *testing.T) {
	fb, srv := newBackend(t)
	dir := t.TempDir()
	doc := writeDoc(t, dir)

	out, _, err := run(t, "ingest", "--config", writeConfig(t, dir, persistent(srv.URL)), doc)
	require.NoError(t, err)
	assert.Equal(t, "Ingested 1 chunks into qdrant store\n", out)
	assert.Equal(t, []string{
		"POST /api/embeddings",
		"DELETE /collections/docs",
		"PUT /collections/docs",
		"PUT /collections/docs/points",
	}, fb.requests())
}

func TestChat_RagWithoutFilesNeedsPersistentIndex(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "chat", "--rag", "--config", writeConfig(t, dir, nil))
	assert.ErrorContains(t, err, "--rag without files")
}

func TestNewRetriever_PersistentIndexWithoutFiles(t *testing.T) {
	_, srv := newBackend(t)
	dir := t.TempDir()
	cfg, err := config.Load(writeConfig(t, dir, persistent(srv.URL)))
	require.NoError(t, err)

	svc, err := newRetriever(t.Context(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func writeQuestions(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "qa.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"question":"first","answer":"a"},{"question":"second"}]`), 0o644))
	return path
}

func TestBench_JSON(t *testing.T) {
	_, srv := newBackend(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, func(cfg *config.AppConfig) { cfg.LLM.Endpoint = srv.URL })

	out, progress, err := run(t, "bench", "--config", cfgPath, "--format", "json", writeQuestions(t, dir))
	require.NoError(t, err)
	assert.Equal(t, "[1/2] 10.0\n[2/2] 30.0\n", progress)

	var report bench.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "m1", report.Model)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "a", report.Results[0].Reference)
	assert.Equal(t, 2, report.Summary.N)
	assert.Equal(t, 20.0, report.Summary.Mean)
	assert.Equal(t, 10.0, report.Summary.StdDev)
	assert.Zero(t, report.Failed)
}

func TestBench_TableWithRetrieval(t *testing.T) {
	_, srv := newBackend(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, func(cfg *config.AppConfig) { cfg.LLM.Endpoint = srv.URL })

	out, _, err := run(t, "bench", "--config", cfgPath, writeQuestions(t, dir), writeDoc(t, dir))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "#"))
	assert.Contains(t, lines[1], "10.0")
	assert.Contains(t, lines[2], "30.0")
	assert.Equal(t, "model m1: 20.0 ± 10.0 (n=2) tok/s, 0 failed", lines[4])
}

func TestBench_InvalidFormat(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, "bench", "--format", "xml", writeQuestions(t, dir))
	assert.EqualError(t, err, `invalid format: "xml" (must be table, json or yaml)`)
}

func TestNewRAGService_UnknownParts(t *testing.T) {
	_, err := newRAGService(&config.AppConfig{Embedder: config.EmbedderConfig{Type: "bogus"}}, zap.NewNop())
	assert.EqualError(t, err, "unknown embedder: bogus")

	_, err = newRAGService(&config.AppConfig{VectorStore: config.VectorStoreConfig{Type: "qdrant"}}, zap.NewNop())
	assert.EqualError(t, err, "qdrant config missing")
}
