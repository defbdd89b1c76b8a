package tokenizer

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// wordEncoder is a whitespace encoder with a fixed vocabulary, ids start at 10.
type wordEncoder struct {
	vocab map[string]int64
	fail  string
}

func newWordEncoder(words ...string) *wordEncoder {
	vocab := make(map[string]int64, len(words))
	for i, w := range words {
		vocab[w] = int64(10 + i)
	}
	return &wordEncoder{vocab: vocab}
}

func (e *wordEncoder) Encode(text string, addSpecialTokens bool) ([]int64, []int64, error) {
	if e.fail != "" && strings.Contains(text, e.fail) {
		return nil, nil, errors.New("unencodable content")
	}
	var ids []int64
	if addSpecialTokens {
		ids = append(ids, 2)
	}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		id, ok := e.vocab[w]
		if !ok {
			id = 1
		}
		ids = append(ids, id)
	}
	if addSpecialTokens {
		ids = append(ids, 3)
	}
	return ids, make([]int64, len(ids)), nil
}

func countOnes(mask []int64) int {
	n := 0
	for _, v := range mask {
		if v == 1 {
			n++
		}
	}
	return n
}

func TestEncodeBatchPadsToLongest(t *testing.T) {
	tok := New(newWordEncoder("the", "quick", "fox", "jumps"), Padding{ID: 0, TypeID: 0, Token: "[PAD]"}, 0)

	texts := []string{"fox", "the quick fox jumps", "quick fox"}
	encs, err := tok.EncodeBatch(texts, true)
	require.NoError(t, err)
	require.Len(t, encs, len(texts))

	// longest: [CLS] the quick fox jumps [SEP]
	const wantLen = 6
	for i, enc := range encs {
		assert.Equal(t, wantLen, enc.Len(), "encoding %d", i)
		assert.Len(t, enc.AttentionMask, wantLen)
		assert.Len(t, enc.TypeIDs, wantLen)
		assert.Equal(t, enc.Length, countOnes(enc.AttentionMask), "mask ones must equal real tokens for %d", i)
		assert.Equal(t, texts[i], enc.Text)
	}

	assert.Equal(t, []int64{2, 12, 3, 0, 0, 0}, encs[0].IDs)
	assert.Equal(t, []int64{1, 1, 1, 0, 0, 0}, encs[0].AttentionMask)
	assert.Equal(t, 3, encs[0].Length)
	assert.Equal(t, 6, encs[1].Length)
}

func TestEncodeBatchUsesConfiguredPadValues(t *testing.T) {
	tok := New(newWordEncoder("a", "b"), Padding{ID: 99, TypeID: 7}, 0)

	encs, err := tok.EncodeBatch([]string{"a", "a b"}, false)
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 99}, encs[0].IDs)
	assert.Equal(t, []int64{0, 7}, encs[0].TypeIDs)
	assert.Equal(t, []int64{1, 0}, encs[0].AttentionMask)
	assert.Equal(t, []int64{10, 11}, encs[1].IDs)
}

func TestEncodeBatchWithoutSpecialTokens(t *testing.T) {
	tok := New(newWordEncoder("hello"), Padding{}, 0)

	encs, err := tok.EncodeBatch([]string{"hello"}, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, encs[0].IDs)
}

func TestEncodeBatchTruncation(t *testing.T) {
	tok := New(newWordEncoder("a", "b", "c", "d"), Padding{}, 4)

	encs, err := tok.EncodeBatch([]string{"a b c d", "a"}, true)
	require.NoError(t, err)

	assert.True(t, encs[0].Truncated)
	assert.False(t, encs[1].Truncated)
	// [CLS] a b [SEP]: trailing special token is preserved
	assert.Equal(t, []int64{2, 10, 11, 3}, encs[0].IDs)
	assert.Equal(t, 4, encs[1].Len())
	assert.Equal(t, 3, encs[1].Length)
}

func TestEncodeBatchErrors(t *testing.T) {
	enc := newWordEncoder("ok")
	enc.fail = "\u0000"
	tok := New(enc, Padding{}, 0)

	tests := []struct {
		name  string
		texts []string
		tok   *Tokenizer
	}{
		{"empty batch", nil, tok},
		{"invalid utf8", []string{"ok", string([]byte{0xff, 0xfe})}, tok},
		{"encoder failure", []string{"ok", "bad\u0000"}, tok},
		{"no tokens", []string{"   "}, tok},
		{"not loaded", []string{"ok"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tok.EncodeBatch(tt.texts, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, embederr.ErrTokenization)
		})
	}
}

func TestLoadMissingResource(t *testing.T) {
	tok, err := Load(filepath.Join(t.TempDir(), "missing.json"), 128)
	require.Error(t, err)
	assert.Nil(t, tok)
	assert.ErrorIs(t, err, embederr.ErrTokenization)

	stage, ok := embederr.StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, embederr.StageTokenize, stage)
}

func TestLoadHuggingFaceDefinition(t *testing.T) {
	tok, err := Load(filepath.Join("testdata", "tokenizer.json"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tok.Padding().ID)
	assert.Greater(t, tok.VocabSize(), 0)

	encs, err := tok.EncodeBatch([]string{"hello world", "the quick fox"}, true)
	require.NoError(t, err)
	require.Len(t, encs, 2)

	assert.Equal(t, encs[0].Len(), encs[1].Len())
	assert.Equal(t, int64(2), encs[0].IDs[0], "first token is [CLS]")
	assert.Equal(t, int64(3), encs[0].IDs[encs[0].Length-1], "last real token is [SEP]")
	assert.Equal(t, 4, encs[0].Length)
	assert.Equal(t, 5, encs[1].Length)
	assert.Equal(t, int64(0), encs[0].IDs[4], "padded with [PAD]")
}

func TestVocabSizeUnknownEncoder(t *testing.T) {
	tok := New(newWordEncoder("a", "b"), Padding{}, 0)
	assert.Equal(t, 0, tok.VocabSize())
}
