// Package replicate runs the nightly pull replication of the media tree from
// the ingest host to the serving host with rsync, and records each run.
package replicate

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"hearth/internal/domain"
)

// Options describe one replication.
type Options struct {
	RsyncPath      string
	Source         string // ingest host reachable over ssh
	SourcePath     string
	DestPath       string
	BandwidthLimit string
	ExtraArgs      []string
	DryRun         bool
}

// OptionsFromInventory fills Source and paths from the inventory's
// replication section; non-empty fields in o win.
func OptionsFromInventory(o Options, inv *domain.Inventory) Options {
	if inv == nil || inv.Replication == nil {
		return o
	}
	r := inv.Replication
	if o.Source == "" {
		o.Source = r.Source
		if h, ok := inv.Host(r.Source); ok && h.Hostname != "" {
			o.Source = h.Hostname
		}
	}
	if o.SourcePath == "" {
		o.SourcePath = r.SourcePath
	}
	if o.DestPath == "" {
		o.DestPath = r.DestPath
	}
	return o
}

// Validate checks that a command can be built.
func (o Options) Validate() error {
	switch {
	case o.Source == "":
		return fmt.Errorf("replication source host is not set")
	case o.SourcePath == "":
		return fmt.Errorf("replication source path is not set")
	case o.DestPath == "":
		return fmt.Errorf("replication destination path is not set")
	}
	return nil
}

// BuildCommand returns the full argv, binary first:
//
//	rsync -aH --delete --info=stats1,progress2 <source>:<src path> <dest path>
func BuildCommand(o Options) []string {
	bin := o.RsyncPath
	if bin == "" {
		bin = "rsync"
	}
	argv := []string{bin, "-aH", "--delete", "--info=stats1,progress2"}
	if o.DryRun {
		argv = append(argv, "--dry-run")
	}
	if o.BandwidthLimit != "" {
		argv = append(argv, "--bwlimit="+o.BandwidthLimit)
	}
	argv = append(argv, o.ExtraArgs...)
	return append(argv, o.Source+":"+o.SourcePath, o.DestPath)
}

// exitMeanings are rsync's documented exit codes.
var exitMeanings = map[int]string{
	1:  "syntax or usage error",
	2:  "protocol incompatibility",
	3:  "errors selecting input/output files, dirs",
	4:  "requested action not supported",
	5:  "error starting client-server protocol",
	6:  "daemon unable to append to log-file",
	10: "error in socket I/O",
	11: "error in file I/O",
	12: "error in rsync protocol data stream",
	13: "errors with program diagnostics",
	14: "error in IPC code",
	20: "received SIGUSR1 or SIGINT",
	21: "some error returned by waitpid()",
	22: "error allocating core memory buffers",
	23: "partial transfer due to error",
	24: "partial transfer due to vanished source files",
	25: "the --max-delete limit stopped deletions",
	30: "timeout in data send/receive",
	35: "timeout waiting for daemon connection",
}

// ExitMeaning describes an rsync exit code.
func ExitMeaning(code int) string {
	if m, ok := exitMeanings[code]; ok {
		return m
	}
	if code < 0 {
		return "rsync did not run to completion"
	}
	return fmt.Sprintf("unknown exit code %d", code)
}

// ClassifyExit maps an rsync exit code to a run status. Files vanishing
// from the source mid-run is normal on a live download host.
func ClassifyExit(code int) domain.RunStatus {
	switch code {
	case 0:
		return domain.RunSuccess
	case 24:
		return domain.RunPartial
	default:
		return domain.RunFailed
	}
}

// ParseStats reads the --info=stats1 summary out of rsync's output.
func ParseStats(output string) domain.TransferStats {
	var st domain.TransferStats
	sc := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(output, "\r", "\n")))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		n, ok := parseNumber(value)
		if !ok {
			continue
		}
		switch key {
		case "Number of files":
			st.Files = n
		case "Number of regular files transferred":
			st.FilesTransferred = n
		case "Number of deleted files":
			st.FilesDeleted = n
		case "Total file size":
			st.TotalSize = n
		case "Total transferred file size":
			st.TransferredSize = n
		}
	}
	return st
}

// parseNumber reads the leading number of a stats value such as
// "1,234 (reg: 1,000, dir: 234)", "12,345 bytes" or "1.23G bytes".
func parseNumber(value string) (int64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	tok := strings.ReplaceAll(fields[0], ",", "")
	if tok == "" {
		return 0, false
	}

	mult := 1.0
	switch suffix := tok[len(tok)-1]; suffix {
	case 'K', 'k':
		mult = 1e3
	case 'M':
		mult = 1e6
	case 'G':
		mult = 1e9
	case 'T':
		mult = 1e12
	}
	if mult != 1 {
		tok = tok[:len(tok)-1]
	}

	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return n * int64(mult), true
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return int64(f * mult), true
}
