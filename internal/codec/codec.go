// Package codec renders an inventory into the formats other tools consume
// and reads it back where the format carries enough information.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"hearth/internal/domain"
)

// Importer reads an inventory from a foreign format.
type Importer interface {
	Parse(r io.Reader) (*domain.Inventory, error)
	Format() string
}

// Exporter writes an inventory in a foreign format.
type Exporter interface {
	Export(inv *domain.Inventory, w io.Writer) error
	Format() string
}

// ContentTyper is implemented by exporters that know their MIME type.
type ContentTyper interface {
	ContentType() string
}

var aliases = map[string]string{
	"yml":     FormatYAML,
	"ansible": FormatAnsible,
}

// Exporters returns one exporter per supported format.
func Exporters() []Exporter {
	return []Exporter{NewYAMLCodec(), NewAnsibleCodec(), NewDnsmasqExporter(), NewJSONCodec()}
}

// Formats lists the export format names, sorted.
func Formats() []string {
	var names []string
	for _, e := range Exporters() {
		names = append(names, e.Format())
	}
	sort.Strings(names)
	return names
}

// ExporterFor returns the exporter for a format name or alias.
func ExporterFor(format string) (Exporter, error) {
	name := normalize(format)
	for _, e := range Exporters() {
		if e.Format() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats(), ", "))
}

// ImporterFor returns the importer for a format name or alias.
func ImporterFor(format string) (Importer, error) {
	switch normalize(format) {
	case FormatYAML:
		return NewYAMLCodec(), nil
	case FormatAnsible:
		return NewAnsibleCodec(), nil
	case FormatJSON:
		return NewJSONCodec(), nil
	}
	return nil, fmt.Errorf("format %q cannot be imported", format)
}

// ContentType returns the MIME type an exporter's output should be served with.
func ContentType(e Exporter) string {
	if ct, ok := e.(ContentTyper); ok {
		return ct.ContentType()
	}
	return "text/plain; charset=utf-8"
}

func normalize(format string) string {
	name := strings.ToLower(strings.TrimSpace(format))
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return name
}
