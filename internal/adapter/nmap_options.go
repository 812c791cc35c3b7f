package adapter

import "time"

// NmapOption is a functional option for configuring NmapScanner
type NmapOption func(*NmapScanner)

// WithTimeout sets the timeout for the entire nmap scan
func WithTimeout(d time.Duration) NmapOption {
	return func(n *NmapScanner) {
		n.timeout = d
	}
}

// WithPortRange sets the ports to scan. Invalid ranges are ignored.
// Format: "80,443,8080" or "1-1000" or "22,80-443,8080"
func WithPortRange(ports string) NmapOption {
	return func(n *NmapScanner) {
		if validated, err := parsePorts(ports); err == nil {
			n.portRange = validated
		}
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) NmapOption {
	return func(n *NmapScanner) {
		n.serviceDetection = enabled
	}
}

// WithSkipHostDiscovery sets whether to treat all hosts as online (-Pn).
// The router and VPS usually drop ICMP.
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(n *NmapScanner) {
		n.skipHostDiscovery = skip
	}
}

// WithAllPorts scans every TCP port
func WithAllPorts() NmapOption {
	return func(n *NmapScanner) {
		n.portRange = "1-65535"
		n.timeout = 30 * time.Minute
	}
}

// WithFastScan scans only the ports hearth's inventory commonly declares
func WithFastScan() NmapOption {
	return func(n *NmapScanner) {
		n.portRange = "22,53,80,139,443,445,4533,7878,8080-8096,8787,9696"
		n.serviceDetection = false
		n.timeout = 5 * time.Minute
	}
}
