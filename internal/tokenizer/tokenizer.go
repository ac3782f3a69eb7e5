// Package tokenizer 提供分词计数能力，供切块与 token 预算计算使用。
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer 抽象了编码/解码/计数三个操作。
// 切块器依赖 Encode/Decode 做 token 级窗口切分，
// 上下文组装与历史截断只依赖 Count。测试中可用假实现替换。
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken 基于 tiktoken 的 BPE 编码创建 Tokenizer。
// encoding 为空时使用 cl100k_base。
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("加载 tiktoken 编码 '%s' 失败: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func (t *tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
