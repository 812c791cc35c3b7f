package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"hearth/internal/domain"
)

// FormatDnsmasq is a dnsmasq configuration snippet for the router.
const FormatDnsmasq = "dnsmasq"

// DnsmasqExporter writes the local zone as dnsmasq address records.
// Hosts resolve to their own address, services to their host's address.
type DnsmasqExporter struct{}

// NewDnsmasqExporter creates a dnsmasq exporter.
func NewDnsmasqExporter() *DnsmasqExporter {
	return &DnsmasqExporter{}
}

// Format returns the codec format identifier
func (e *DnsmasqExporter) Format() string {
	return FormatDnsmasq
}

// Records returns the name to address pairs written by Export, in output
// order. A name claimed twice keeps its first address.
func (e *DnsmasqExporter) Records(inv *domain.Inventory) ([][2]string, error) {
	var (
		out  [][2]string
		errs []error
		seen = make(map[string]bool)
	)
	add := func(name, addr string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, [2]string{name, addr})
	}

	for _, h := range inv.Hosts {
		addr, err := netip.ParseAddr(h.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("host %s: address %q is not an IP", h.ID, h.Address))
			continue
		}
		add(inv.HostFQDN(h), addr.String())
		for _, s := range inv.ServicesOn(h.ID) {
			if s.DNSName != "" {
				add(strings.ToLower(s.DNSName), addr.String())
			}
		}
	}
	return out, errors.Join(errs...)
}

// Export writes the snippet. Hosts without a usable address are skipped
// and reported in the returned error after the rest has been written.
func (e *DnsmasqExporter) Export(inv *domain.Inventory, w io.Writer) error {
	records, recErr := e.Records(inv)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# dnsmasq records for %s, generated by hearth\n", inv.Domain)
	fmt.Fprintf(bw, "domain=%s\n", inv.Domain)
	fmt.Fprintf(bw, "local=/%s/\n", inv.Domain)
	for _, r := range records {
		fmt.Fprintf(bw, "address=/%s/%s\n", r[0], r[1])
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write dnsmasq config: %w", err)
	}
	return recErr
}
