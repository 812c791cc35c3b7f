package codec

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"hearth/internal/domain"
)

// FormatJSON is the inventory as a single JSON document.
const FormatJSON = "json"

// JSONCodec handles JSON import/export
type JSONCodec struct {
	Indent bool
}

// NewJSONCodec creates a JSON codec that indents its output.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: true}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return FormatJSON
}

// ContentType implements ContentTyper.
func (c *JSONCodec) ContentType() string {
	return "application/json"
}

// Parse decodes an inventory and applies the inventory defaults.
func (c *JSONCodec) Parse(r io.Reader) (*domain.Inventory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json inventory: %w", err)
	}
	var inv domain.Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decode json inventory: %w", err)
	}
	var owner struct {
		Ownership *domain.Ownership `json:"ownership"`
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("decode json inventory: %w", err)
	}
	if owner.Ownership == nil {
		inv.Ownership = domain.DefaultOwnership
	}
	inv.ApplyDefaults()
	return &inv, nil
}

// Export encodes inv.
func (c *JSONCodec) Export(inv *domain.Inventory, w io.Writer) error {
	enc := json.NewEncoder(w)
	if c.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(inv); err != nil {
		return fmt.Errorf("encode json inventory: %w", err)
	}
	return nil
}
