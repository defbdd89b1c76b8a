// Package tokenizer turns raw text batches into padded, model-ready encodings.
//
// The per-text work is delegated to an Encoder (normally a HuggingFace
// tokenizer.json loaded through sugarme/tokenizer); this package owns the
// batch contract: validation, truncation, and right padding to the longest
// sequence in the batch.
package tokenizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// Encoder encodes a single text into token ids and token-type ids without padding.
type Encoder interface {
	Encode(text string, addSpecialTokens bool) (ids []int64, typeIDs []int64, err error)
}

// Padding describes the values written at padded positions
type Padding struct {
	ID     int64
	TypeID int64
	Token  string
}

// Encoding is the tokenized form of one text, padded to the batch length
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
	Length        int // number of real (non-pad) tokens
	Text          string
	Truncated     bool
}

// Len returns the padded length of the encoding.
func (e Encoding) Len() int {
	return len(e.IDs)
}

// Tokenizer batches and pads encodings produced by an Encoder.
// It holds no mutable state after construction and is safe for concurrent use.
type Tokenizer struct {
	encoder   Encoder
	padding   Padding
	maxLength int
}

// New creates a Tokenizer around an Encoder. maxLength <= 0 disables truncation.
func New(encoder Encoder, padding Padding, maxLength int) *Tokenizer {
	return &Tokenizer{
		encoder:   encoder,
		padding:   padding,
		maxLength: maxLength,
	}
}

// Padding returns the pad values used for this tokenizer.
func (t *Tokenizer) Padding() Padding {
	return t.padding
}

// MaxLength returns the truncation limit, 0 when disabled.
func (t *Tokenizer) MaxLength() int {
	if t.maxLength < 0 {
		return 0
	}
	return t.maxLength
}

// VocabSize returns the encoder's vocabulary size, or 0 when the encoder
// does not report one.
func (t *Tokenizer) VocabSize() int {
	if v, ok := t.encoder.(interface{ VocabSize() int }); ok {
		return v.VocabSize()
	}
	return 0
}

// EncodeBatch encodes every text and right-pads all encodings to the length of
// the longest one. Every failure is wrapped in embederr.ErrTokenization.
func (t *Tokenizer) EncodeBatch(texts []string, addSpecialTokens bool) ([]Encoding, error) {
	if t == nil || t.encoder == nil {
		return nil, fmt.Errorf("%w: tokenizer not loaded", embederr.ErrTokenization)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty batch", embederr.ErrTokenization)
	}

	encodings := make([]Encoding, len(texts))
	maxLen := 0
	for i, text := range texts {
		if !utf8.ValidString(text) {
			return nil, fmt.Errorf("%w: text %d is not valid UTF-8", embederr.ErrTokenization, i)
		}

		ids, typeIDs, err := t.encoder.Encode(text, addSpecialTokens)
		if err != nil {
			return nil, fmt.Errorf("%w: text %d: %v", embederr.ErrTokenization, i, err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: text %d produced no tokens", embederr.ErrTokenization, i)
		}
		if len(typeIDs) != len(ids) {
			return nil, fmt.Errorf("%w: text %d has %d ids but %d type ids", embederr.ErrTokenization, i, len(ids), len(typeIDs))
		}

		ids, typeIDs, truncated := t.truncate(ids, typeIDs, addSpecialTokens)
		encodings[i] = Encoding{
			IDs:       ids,
			TypeIDs:   typeIDs,
			Length:    len(ids),
			Text:      text,
			Truncated: truncated,
		}
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	for i := range encodings {
		encodings[i] = t.pad(encodings[i], maxLen)
	}

	return encodings, nil
}

// truncate cuts a sequence to maxLength. When special tokens were added the
// trailing token (e.g. [SEP]) is kept in the last slot.
func (t *Tokenizer) truncate(ids, typeIDs []int64, keepLast bool) ([]int64, []int64, bool) {
	limit := t.MaxLength()
	if limit == 0 || len(ids) <= limit {
		return ids, typeIDs, false
	}

	outIDs := make([]int64, limit)
	outTypes := make([]int64, limit)
	copy(outIDs, ids[:limit])
	copy(outTypes, typeIDs[:limit])
	if keepLast && limit > 1 {
		outIDs[limit-1] = ids[len(ids)-1]
		outTypes[limit-1] = typeIDs[len(typeIDs)-1]
	}
	return outIDs, outTypes, true
}

// pad right-pads an encoding to length and builds its attention mask.
func (t *Tokenizer) pad(enc Encoding, length int) Encoding {
	ids := make([]int64, length)
	mask := make([]int64, length)
	types := make([]int64, length)

	copy(ids, enc.IDs)
	copy(types, enc.TypeIDs)
	for i := 0; i < length; i++ {
		if i < enc.Length {
			mask[i] = 1
			continue
		}
		ids[i] = t.padding.ID
		types[i] = t.padding.TypeID
	}

	enc.IDs = ids
	enc.AttentionMask = mask
	enc.TypeIDs = types
	return enc
}
