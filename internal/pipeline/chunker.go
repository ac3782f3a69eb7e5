// Package pipeline 定义了文档索引的核心流程。
package pipeline

import (
	"errors"
	"strings"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/tokenizer"
)

// ErrEmptyInput 表示文档文本去除空白后为空，无法切分。
var ErrEmptyInput = errors.New("document text is empty")

// Chunker 将长文本切分成带重叠的 token 窗口。
// 相邻分块之间重复 overlap 个 token，保留跨边界的上下文。
type Chunker struct {
	tok       tokenizer.Tokenizer
	chunkSize int
	overlap   int
}

// NewChunker 创建一个切块器。chunkSize/overlap 以 token 计；
// overlap 必须小于 chunkSize，否则窗口无法前进。
func NewChunker(tok tokenizer.Tokenizer, chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Chunker{tok: tok, chunkSize: chunkSize, overlap: overlap}
}

// Split 将文本切分为有序分块，chunk_index 从 0 开始连续编号。
// 末尾不足一个分块的文本不会被丢弃，而是作为最后一个（较短的）分块。
func (c *Chunker) Split(text, documentID string, userID uint) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}

	step := c.chunkSize - c.overlap
	var chunks []model.Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, model.Chunk{
			DocumentID: documentID,
			UserID:     userID,
			ChunkIndex: len(chunks),
			Text:       c.tok.Decode(window),
			TokenCount: len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}
