package tokenizer

import (
	"fmt"
	"os"

	hftok "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/raaihank/sentinel-embed/internal/embederr"
)

// DefaultPath is where the tokenizer definition is looked up when none is configured.
const DefaultPath = "./tokenizer.json"

// HFEncoder encodes text with a HuggingFace tokenizer.json definition.
type HFEncoder struct {
	tk *hftok.Tokenizer
}

// Load reads a tokenizer.json file and returns a batching Tokenizer.
// The pad id comes from the file's padding section, falling back to the
// [PAD] vocabulary entry. Load failures wrap embederr.ErrTokenization.
func Load(path string, maxLength int) (*Tokenizer, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: tokenizer resource %s: %v", embederr.ErrTokenization, path, err)
	}

	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load tokenizer %s: %v", embederr.ErrTokenization, path, err)
	}

	padding := Padding{Token: "[PAD]"}
	if params := tk.GetPadding(); params != nil {
		padding.ID = int64(params.PadId)
		padding.TypeID = int64(params.PadTypeId)
		if params.PadToken != "" {
			padding.Token = params.PadToken
		}
	} else if id, ok := tk.TokenToId(padding.Token); ok {
		padding.ID = int64(id)
	}

	// Padding is applied per batch by Tokenizer, never per text.
	tk.WithPadding(nil)

	return New(&HFEncoder{tk: tk}, padding, maxLength), nil
}

// Encode implements Encoder.
func (e *HFEncoder) Encode(text string, addSpecialTokens bool) ([]int64, []int64, error) {
	enc, err := e.tk.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, nil, err
	}

	rawIDs := enc.GetIds()
	rawTypes := enc.GetTypeIds()
	ids := make([]int64, len(rawIDs))
	types := make([]int64, len(rawIDs))
	for i, id := range rawIDs {
		ids[i] = int64(id)
		if i < len(rawTypes) {
			types[i] = int64(rawTypes[i])
		}
	}
	return ids, types, nil
}

// VocabSize returns the vocabulary size including added tokens.
func (e *HFEncoder) VocabSize() int {
	return e.tk.GetVocabSize(true)
}
