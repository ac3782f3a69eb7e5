package rag

import (
	"context"
	"errors"
	"testing"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	fail error
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func (s *stubEmbedder) Model() string   { return "stub-embed" }
func (s *stubEmbedder) Dimensions() int { return 3 }

type stubStore struct {
	results    []model.RetrievedChunk
	fail       error
	queries    []vectorstore.QueryParams
	namespaces []string
}

func (s *stubStore) Upsert(context.Context, string, []vectorstore.Record) error { return nil }

func (s *stubStore) Query(_ context.Context, namespace string, _ []float32, params vectorstore.QueryParams) ([]model.RetrievedChunk, error) {
	s.namespaces = append(s.namespaces, namespace)
	s.queries = append(s.queries, params)
	if s.fail != nil {
		return nil, s.fail
	}
	return s.results, nil
}

func (s *stubStore) DeleteDocument(context.Context, string, string) error { return nil }

func (s *stubStore) Stats(context.Context, string) (vectorstore.Stats, error) {
	return vectorstore.Stats{}, nil
}

func TestRetrieveOrdersAndCaps(t *testing.T) {
	store := &stubStore{results: []model.RetrievedChunk{
		retrieved("d", 0, 10, 0.95),
		retrieved("d", 1, 10, 0.85),
		retrieved("d", 2, 10, 0.90),
		retrieved("d", 3, 10, 0.80),
	}}
	r := NewRetriever(&stubEmbedder{}, store)

	out, err := r.Retrieve(context.Background(), "user_1", "query", RetrieveParams{TopK: 3, ScoreThreshold: 0.70})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 0.95, out[0].Score)
	assert.Equal(t, 0.90, out[1].Score)
	assert.Equal(t, 0.85, out[2].Score)
}

func TestRetrieveDedupesKeepingHighestScore(t *testing.T) {
	dup := retrieved("d", 1, 10, 0.75)
	store := &stubStore{results: []model.RetrievedChunk{
		retrieved("d", 1, 10, 0.92),
		dup,
		retrieved("d", 2, 10, 0.80),
	}}
	r := NewRetriever(&stubEmbedder{}, store)

	out, err := r.Retrieve(context.Background(), "user_1", "query", RetrieveParams{TopK: 5, ScoreThreshold: 0.70})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "d_1", out[0].Chunk.ID())
	assert.Equal(t, 0.92, out[0].Score)
}

func TestRetrieveFiltersBelowThreshold(t *testing.T) {
	store := &stubStore{results: []model.RetrievedChunk{
		retrieved("d", 0, 10, 0.95),
		retrieved("d", 1, 10, 0.60),
	}}
	r := NewRetriever(&stubEmbedder{}, store)

	out, err := r.Retrieve(context.Background(), "user_1", "query", RetrieveParams{TopK: 5, ScoreThreshold: 0.70})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d_0", out[0].Chunk.ID())
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	r := NewRetriever(&stubEmbedder{}, &stubStore{})

	out, err := r.Retrieve(context.Background(), "user_1", "query", RetrieveParams{TopK: 5, ScoreThreshold: 0.70})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetrievePassesNamespaceAndDocumentFilter(t *testing.T) {
	store := &stubStore{}
	r := NewRetriever(&stubEmbedder{}, store)

	_, err := r.Retrieve(context.Background(), "user_42", "query", RetrieveParams{
		TopK:           5,
		ScoreThreshold: 0.70,
		DocumentID:     "doc-9",
	})
	require.NoError(t, err)
	require.Len(t, store.namespaces, 1)
	assert.Equal(t, "user_42", store.namespaces[0])
	assert.Equal(t, "doc-9", store.queries[0].DocumentID)
}

func TestRetrieveEmbeddingFailurePropagates(t *testing.T) {
	wantErr := errors.New("embedding provider down")
	r := NewRetriever(&stubEmbedder{fail: wantErr}, &stubStore{})

	_, err := r.Retrieve(context.Background(), "user_1", "query", RetrieveParams{TopK: 5, ScoreThreshold: 0.70})
	assert.ErrorIs(t, err, wantErr)
}
