package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"hearth/internal/command"
	"hearth/internal/logging"
	"hearth/internal/transcode"
	"hearth/internal/transfer"
)

type transcodeFlags struct {
	source     string
	bitrate    string
	gpu        bool
	destHost   string
	destFolder string
	user       string
	password   string
	method     string
	tempDir    string
	yes        bool
}

func transcodeCmd() *cobra.Command {
	var f transcodeFlags
	cmd := &cobra.Command{
		Use:   "transcode [source]",
		Short: "Transcode a folder of videos to H.264 and copy them to the serving host",
		Long: `transcode converts every video under the source folder to H.264/AAC MKV,
extracts the first subtitle stream to SRT, and uploads both to the destination
folder, keeping the relative directory layout. Without a source it asks for
every setting interactively.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.source = args[0]
			}
			f.applyDefaults()

			in := bufio.NewReader(cmd.InOrStdin())
			if f.source == "" {
				if err := f.prompt(in, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
				f.yes = false
			}
			if err := f.validate(); err != nil {
				return err
			}
			if !f.yes {
				ok, err := f.confirm(in, cmd.OutOrStdout())
				if err != nil || !ok {
					return err
				}
			}
			return runTranscode(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.bitrate, "bitrate", "b", "", "video bitrate (default from config)")
	fl.BoolVar(&f.gpu, "gpu", false, "encode with NVENC, falling back to libx264")
	fl.StringVar(&f.destHost, "dest-host", "", "host receiving the files (default from config)")
	fl.StringVar(&f.destFolder, "dest-folder", "", "remote folder receiving the files")
	fl.StringVarP(&f.user, "user", "u", "", "remote login (default from config)")
	fl.StringVar(&f.method, "method", "", "transfer method: sftp or scp")
	fl.StringVar(&f.tempDir, "temp-dir", "", "local folder for encoded files")
	fl.BoolVarP(&f.yes, "yes", "y", false, "skip the confirmation")
	return cmd
}

func (f *transcodeFlags) applyDefaults() {
	t := cfg.Transcode
	if f.bitrate == "" {
		f.bitrate = t.Bitrate
	}
	if !f.gpu {
		f.gpu = t.GPU
	}
	if f.destHost == "" {
		f.destHost = t.DestHost
	}
	if f.destFolder == "" {
		f.destFolder = t.DestFolder
	}
	if f.user == "" {
		f.user = cfg.SSH.User
	}
	if f.password == "" {
		f.password = cfg.SSH.Password
	}
	if f.method == "" {
		f.method = t.Method
	}
	if f.tempDir == "" {
		f.tempDir = t.TempDir
	}
}

func (f *transcodeFlags) validate() error {
	var errs []error
	if f.source == "" {
		errs = append(errs, errors.New("source folder is required"))
	} else if fi, err := os.Stat(f.source); err != nil || !fi.IsDir() {
		errs = append(errs, fmt.Errorf("source %s is not a folder", f.source))
	}
	if f.destHost == "" {
		errs = append(errs, errors.New("destination host is required"))
	}
	if f.destFolder == "" {
		errs = append(errs, errors.New("destination folder is required"))
	}
	if f.method != transfer.MethodSFTP && f.method != transfer.MethodSCP {
		errs = append(errs, fmt.Errorf("unknown transfer method %q", f.method))
	}
	return errors.Join(errs...)
}

func (f *transcodeFlags) prompt(r *bufio.Reader, in io.Reader, out io.Writer) error {
	var eof bool
	ask := func(label string, value *string) error {
		if *value != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, *value)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof = err != nil
		if line = strings.TrimSpace(line); line != "" {
			*value = line
		}
		return nil
	}

	// The source folder is asked for until it names an existing directory.
	for {
		if err := ask("Source folder", &f.source); err != nil {
			return err
		}
		if fi, err := os.Stat(f.source); err == nil && fi.IsDir() {
			break
		}
		if eof {
			return fmt.Errorf("source %q is not a folder", f.source)
		}
		if f.source != "" {
			fmt.Fprintf(out, "%s is not a folder, try again\n", f.source)
		}
		f.source = ""
	}

	gpu := "n"
	if f.gpu {
		gpu = "y"
	}
	steps := []struct {
		label string
		value *string
	}{
		{"Video bitrate", &f.bitrate},
		{"Use GPU (y/n)", &gpu},
		{"Destination host", &f.destHost},
		{"Destination folder", &f.destFolder},
		{"Username", &f.user},
	}
	for _, s := range steps {
		if err := ask(s.label, s.value); err != nil {
			return err
		}
	}
	f.gpu = isYes(gpu)

	pw, err := readPassword(in, r, out)
	if err != nil {
		return err
	}
	if pw != "" {
		f.password = pw
	}

	if err := ask("Transfer method (sftp/scp)", &f.method); err != nil {
		return err
	}
	f.method = strings.ToLower(f.method)
	return ask("Temp folder", &f.tempDir)
}

// readPassword hides input on a terminal and reads a plain line otherwise.
func readPassword(in io.Reader, r *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password (empty for SSH keys): ")
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		b, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(out)
		return string(b), err
	}
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (f *transcodeFlags) confirm(r *bufio.Reader, out io.Writer) (bool, error) {
	encoder := "libx264 (CPU)"
	if f.gpu {
		encoder = "h264_nvenc (GPU, CPU fallback)"
	}
	login := f.destHost
	if f.user != "" {
		login = f.user + "@" + f.destHost
	}
	fmt.Fprintf(out, "\nSource:      %s\n", f.source)
	fmt.Fprintf(out, "Encoder:     %s at %s\n", encoder, f.bitrate)
	fmt.Fprintf(out, "Destination: %s:%s via %s\n", login, f.destFolder, f.method)
	fmt.Fprintf(out, "Temp folder: %s\n", f.tempDir)
	fmt.Fprint(out, "Proceed? (y/n): ")

	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if !isYes(line) {
		fmt.Fprintln(out, "Cancelled.")
		return false, nil
	}
	return true, nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}

func runTranscode(cmd *cobra.Command, f transcodeFlags) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	defer repo.Close()

	log := logging.Component("transcode")
	runner := command.NewExec(log)
	tr, err := transfer.New(f.method, transfer.Target{Host: f.destHost, User: f.user, Password: f.password},
		newDialerAs(f.user, f.password), runner)
	if err != nil {
		return err
	}

	t := cfg.Transcode
	prober := transcode.NewProber(runner, t.FFprobePath)
	encoder := transcode.NewEncoder(runner, prober, transcode.Options{
		Bitrate:      f.bitrate,
		AudioBitrate: t.AudioBitrate,
		GPU:          f.gpu,
		FFmpegPath:   t.FFmpegPath,
		FFprobePath:  t.FFprobePath,
	}, log, cmd.ErrOrStderr())

	pipeline := transcode.NewPipeline(transcode.Config{
		Source:     f.source,
		TempDir:    f.tempDir,
		DestHost:   f.destHost,
		DestFolder: f.destFolder,
	}, encoder, prober, tr, repo, nil, log)

	summary, err := pipeline.Run(cmd.Context())
	if summary != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\nBatch %s: %d/%d succeeded\n", summary.BatchID, summary.Succeeded, summary.Total)
		for _, job := range summary.Failed {
			fmt.Fprintf(out, "  FAILED %s: %s\n", job.Source, job.Error)
		}
	}
	if err != nil {
		return err
	}
	if len(summary.Failed) > 0 {
		return errFailed
	}
	return nil
}
