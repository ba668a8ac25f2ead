package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ragbench/internal/domain"
	"ragbench/internal/textutil"
)

// ErrNoDocuments is returned when none of the given paths names a .txt file.
var ErrNoDocuments = errors.New("no .txt documents found")

// promptTemplate stuffs retrieved chunks ahead of the question.
const promptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Helpful Answer:`

// RAGServiceImpl indexes documents into a vector store and turns questions
// into prompts stuffed with the closest chunks.
type RAGServiceImpl struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	store    domain.VectorStore
	topK     int
	log      *zap.Logger
	chunks   []domain.Chunk
}

// NewRAGService wires a retrieval pipeline. topK is the number of chunks
// Retrieve puts into a prompt; a nil log discards output.
func NewRAGService(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, topK int, log *zap.Logger) *RAGServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGServiceImpl{chunker: chunker, embedder: embedder, store: store, topK: topK, log: log}
}

// IngestDocuments chunks, embeds and indexes the .txt files matched by paths
// (globs allowed), replacing whatever the store held. It returns the number
// of chunks indexed.
func (s *RAGServiceImpl) IngestDocuments(ctx context.Context, paths []string) (int, error) {
	var documents []domain.Document
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.HasSuffix(strings.ToLower(m), ".txt") {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return 0, err
			}
			documents = append(documents, domain.Document{ID: hashString(m), Path: m, Content: string(data)})
		}
	}
	if len(documents) == 0 {
		return 0, ErrNoDocuments
	}

	var allChunks []domain.Chunk
	var allTexts []string
	for _, d := range documents {
		chunks, err := s.chunker.Chunk(d)
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		for _, ch := range chunks {
			allChunks = append(allChunks, ch)
			allTexts = append(allTexts, ch.Text)
		}
	}
	if len(allChunks) == 0 {
		return 0, ErrNoDocuments
	}
	// kept for the lexical fallback
	s.chunks = allChunks

	if err := s.embedder.Prepare(allTexts); err != nil {
		return 0, fmt.Errorf("prepare %s embedder: %w", s.embedder.Name(), err)
	}
	vectors := make([][]float64, len(allChunks))
	for i := range allChunks {
		vec, err := s.embedder.Embed(ctx, allChunks[i].Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", allChunks[i].ChunkID, err)
		}
		vectors[i] = vec
	}

	// dimension is taken from the vectors; remote embedders report 0 before the first Embed
	if err := s.store.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear store: %w", err)
	}
	if err := s.store.Init(ctx, len(vectors[0])); err != nil {
		return 0, fmt.Errorf("init store: %w", err)
	}
	if err := s.store.Upsert(ctx, allChunks, vectors); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	s.log.Info("documents ingested",
		zap.Int("documents", len(documents)),
		zap.Int("chunks", len(allChunks)),
		zap.String("embedder", s.embedder.Name()),
	)
	return len(allChunks), nil
}

// Query returns the topK chunks most similar to query. When the query embeds
// to the zero vector, or the store scores everything zero, ranking falls back
// to word overlap.
func (s *RAGServiceImpl) Query(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if isZero(vec) {
		return s.lexicalSearch(query, topK), nil
	}
	res, err := s.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	for _, r := range res {
		if r.Score > 1e-9 {
			return res, nil
		}
	}
	return s.lexicalSearch(query, topK), nil
}

// Retrieve implements domain.Retriever: it looks up context for question
// and returns the prompt to send to the model.
func (s *RAGServiceImpl) Retrieve(ctx context.Context, question string) (string, error) {
	res, err := s.Query(ctx, question, s.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	s.log.Debug("retrieved context", zap.Int("chunks", len(res)))
	return BuildPrompt(question, res), nil
}

// BuildPrompt stuffs results into the QA prompt. Without results the question
// is sent unchanged.
func BuildPrompt(question string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return question
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Chunk.Text
	}
	return fmt.Sprintf(promptTemplate, strings.Join(parts, "\n\n"), question)
}

func (s *RAGServiceImpl) lexicalSearch(query string, topK int) []domain.SearchResult {
	qset := textutil.WordSet(query)
	out := make([]domain.SearchResult, len(s.chunks))
	for i, ch := range s.chunks {
		out[i] = domain.SearchResult{Chunk: ch, Score: textutil.Ochiai(qset, ch.Text)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK <= 0 {
		topK = 5
	}
	if topK < len(out) {
		out = out[:topK]
	}
	return out
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
