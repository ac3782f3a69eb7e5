package chromem

import (
	"context"
	"testing"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(docID string, index int, vector []float32) vectorstore.Record {
	return vectorstore.Record{
		Chunk: model.Chunk{
			DocumentID: docID,
			UserID:     1,
			ChunkIndex: index,
			Text:       "chunk text",
			TokenCount: 2,
		},
		Vector: vector,
		Model:  "test-embed",
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "user_1", []vectorstore.Record{
		record("doc-1", 0, []float32{1, 0, 0}),
	}))

	// 同一个查询向量在别的 namespace 里什么都看不到
	out, err := s.Query(ctx, "user_2", []float32{1, 0, 0}, vectorstore.QueryParams{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = s.Query(ctx, "user_1", []float32{1, 0, 0}, vectorstore.QueryParams{TopK: 5})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestQueryNormalizesScoresAndFilters(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "user_1", []vectorstore.Record{
		record("doc-1", 0, []float32{1, 0, 0}),
		record("doc-1", 1, []float32{0, 1, 0}),
	}))

	out, err := s.Query(ctx, "user_1", []float32{1, 0, 0}, vectorstore.QueryParams{TopK: 5})
	require.NoError(t, err)
	require.Len(t, out, 2)

	// 完全一致的向量得分为 1，正交向量归一化后为 0.5
	assert.InDelta(t, 1.0, out[0].Score, 0.001)
	assert.Equal(t, 0, out[0].Chunk.ChunkIndex)
	assert.InDelta(t, 0.5, out[1].Score, 0.001)

	// 阈值过滤掉低分结果
	out, err = s.Query(ctx, "user_1", []float32{1, 0, 0}, vectorstore.QueryParams{TopK: 5, ScoreThreshold: 0.70})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Chunk.ChunkIndex)
}

func TestQueryRestoresChunkMetadata(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	ctx := context.Background()

	rec := record("doc-9", 4, []float32{1, 0, 0})
	rec.Chunk.UserID = 42
	rec.Chunk.TokenCount = 7
	require.NoError(t, s.Upsert(ctx, "user_42", []vectorstore.Record{rec}))

	out, err := s.Query(ctx, "user_42", []float32{1, 0, 0}, vectorstore.QueryParams{TopK: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "doc-9", out[0].Chunk.DocumentID)
	assert.Equal(t, 4, out[0].Chunk.ChunkIndex)
	assert.Equal(t, uint(42), out[0].Chunk.UserID)
	assert.Equal(t, 7, out[0].Chunk.TokenCount)
	assert.Equal(t, "doc-9_4", out[0].Chunk.ID())
}

func TestUpsertIsIdempotentPerChunkID(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	ctx := context.Background()

	records := []vectorstore.Record{
		record("doc-1", 0, []float32{1, 0, 0}),
		record("doc-1", 1, []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, "user_1", records))
	require.NoError(t, s.Upsert(ctx, "user_1", records))

	stats, err := s.Stats(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VectorCount)
}

func TestDeleteDocumentOnlyRemovesThatDocument(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "user_1", []vectorstore.Record{
		record("doc-1", 0, []float32{1, 0, 0}),
		record("doc-2", 0, []float32{0, 1, 0}),
	}))

	require.NoError(t, s.DeleteDocument(ctx, "user_1", "doc-1"))

	stats, err := s.Stats(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)

	out, err := s.Query(ctx, "user_1", []float32{0, 1, 0}, vectorstore.QueryParams{TopK: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "doc-2", out[0].Chunk.DocumentID)
}
