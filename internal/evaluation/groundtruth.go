package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Reference is one ground-truth entry.
type Reference struct {
	ID   string
	Text string
}

// GroundTruth is the ordered, read-only reference set. Evaluation visits
// identifiers in the order they first appear in the source document.
type GroundTruth struct {
	ids  []string
	refs map[string]string
}

// NewGroundTruth builds a reference set. A repeated identifier keeps its first
// position and its last text.
func NewGroundTruth(refs []Reference) *GroundTruth {
	gt := &GroundTruth{
		ids:  make([]string, 0, len(refs)),
		refs: make(map[string]string, len(refs)),
	}
	for _, r := range refs {
		if _, seen := gt.refs[r.ID]; !seen {
			gt.ids = append(gt.ids, r.ID)
		}
		gt.refs[r.ID] = r.Text
	}
	return gt
}

// Len returns the number of distinct identifiers.
func (g *GroundTruth) Len() int {
	return len(g.ids)
}

// IDs returns the identifiers in evaluation order.
func (g *GroundTruth) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Get returns the reference text for id.
func (g *GroundTruth) Get(id string) (string, bool) {
	text, ok := g.refs[id]
	return text, ok
}

// LoadGroundTruth reads a ground-truth JSON object from path.
func LoadGroundTruth(path string) (*GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ground truth: %w", err)
	}
	return DecodeGroundTruth(data)
}

// DecodeGroundTruth parses a JSON object of identifier to table text,
// preserving key order. null values are kept as empty references.
func DecodeGroundTruth(data []byte) (*GroundTruth, error) {
	data, err := utf8Text(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decoding ground truth: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("ground truth must be a JSON object")
	}

	var refs []Reference
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding ground truth key: %w", err)
		}
		key, _ := keyTok.(string)

		var text *string
		if err := dec.Decode(&text); err != nil {
			return nil, fmt.Errorf("ground truth %q: value must be a string: %w", key, err)
		}
		ref := Reference{ID: key}
		if text != nil {
			ref.Text = *text
		}
		refs = append(refs, ref)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decoding ground truth: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("ground truth has trailing data")
	}

	return NewGroundTruth(refs), nil
}

// utf8Text rejects non UTF-8 input and strips a leading byte order mark.
func utf8Text(data []byte) ([]byte, error) {
	if !utf8.Valid(data) {
		return nil, errNotUTF8
	}
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errNotUTF8
	}
	return out, nil
}

var errNotUTF8 = fmt.Errorf("content is not valid UTF-8")
