package codec

import (
	"io"

	"hearth/internal/domain"
	"hearth/internal/loader"
)

// FormatYAML is the loader's own inventory format.
const FormatYAML = "yaml"

// YAMLCodec reads and writes the inventory file format.
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return FormatYAML
}

// ContentType implements ContentTyper.
func (c *YAMLCodec) ContentType() string {
	return "application/yaml"
}

// Parse reads an inventory file.
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Inventory, error) {
	return loader.Parse(r)
}

// Export writes inv so that Parse returns an equivalent inventory.
func (c *YAMLCodec) Export(inv *domain.Inventory, w io.Writer) error {
	data, err := loader.Marshal(inv)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
