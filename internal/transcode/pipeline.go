package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hearth/internal/domain"
	"hearth/internal/metrics"
	"hearth/internal/service"
	"hearth/internal/transfer"
)

// ErrNoVideos is returned when the source folder holds no video files.
var ErrNoVideos = errors.New("no video files found in source folder")

// ErrDuplicateOutput marks a file whose output name is already taken by an
// earlier file in the batch, e.g. movie.mp4 next to movie.avi.
var ErrDuplicateOutput = errors.New("output name already used in this batch")

// FindVideos walks root and returns every video file, sorted.
func FindVideos(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsVideo(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// JobStore persists per-file results.
type JobStore interface {
	SaveTranscodeJob(ctx context.Context, job *domain.TranscodeJob) error
}

// Config describes one batch.
type Config struct {
	Source     string
	TempDir    string
	DestHost   string
	DestFolder string
	Options    Options
}

// Summary is the outcome of a batch.
type Summary struct {
	BatchID   string
	Total     int
	Succeeded int
	Failed    []domain.TranscodeJob
	Jobs      []domain.TranscodeJob
}

// Pipeline transcodes, extracts subtitles and transfers each file in turn.
type Pipeline struct {
	cfg      Config
	encoder  *Encoder
	prober   *Prober
	transfer transfer.Transferer
	store    JobStore
	events   service.Publisher
	log      zerolog.Logger
}

// NewPipeline wires a pipeline. store and events may be nil.
func NewPipeline(cfg Config, encoder *Encoder, prober *Prober, tr transfer.Transferer, store JobStore, events service.Publisher, log zerolog.Logger) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultTempDir
	}
	if events == nil {
		events = service.NopPublisher{}
	}
	return &Pipeline{
		cfg:      cfg,
		encoder:  encoder,
		prober:   prober,
		transfer: tr,
		store:    store,
		events:   events,
		log:      log,
	}
}

// Run processes every video under the source folder. A failing file is
// recorded and the batch moves on; only setup errors and cancellation
// abort the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if err := os.MkdirAll(p.cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	files, err := FindVideos(p.cfg.Source)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoVideos
	}

	summary := &Summary{BatchID: uuid.NewString(), Total: len(files)}
	p.log.Info().Int("files", len(files)).Str("batch", summary.BatchID).Msg("found video files to process")

	claimed := make(map[string]string, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		p.log.Info().Msgf("processing file %d/%d: %s", i+1, len(files), file)
		job := p.process(ctx, summary.BatchID, file, claimed)

		if p.store != nil {
			if err := p.store.SaveTranscodeJob(ctx, &job); err != nil {
				p.log.Warn().Err(err).Str("file", file).Msg("failed to record transcode job")
			}
		}

		summary.Jobs = append(summary.Jobs, job)
		if job.Status == domain.JobSuccess {
			summary.Succeeded++
		} else {
			summary.Failed = append(summary.Failed, job)
		}

		p.events.Publish(service.Event{
			Type: service.EventTranscodeProgress,
			Payload: map[string]any{
				"batch":  summary.BatchID,
				"index":  i + 1,
				"total":  len(files),
				"file":   file,
				"status": job.Status,
			},
		})
	}

	p.events.Publish(service.Event{
		Type: service.EventTranscodeFinished,
		Payload: map[string]any{
			"batch":     summary.BatchID,
			"total":     summary.Total,
			"succeeded": summary.Succeeded,
			"failed":    len(summary.Failed),
		},
	})
	return summary, nil
}

// Paths derives the temp output base and remote destinations for file.
func (p *Pipeline) Paths(file string) (base, remoteMKV, remoteSRT string, err error) {
	rel, err := filepath.Rel(p.cfg.Source, file)
	if err != nil {
		return "", "", "", fmt.Errorf("relative path: %w", err)
	}
	stem := trimExt(filepath.Base(rel))
	relDir := filepath.Dir(rel)

	base = filepath.Join(p.cfg.TempDir, relDir, stem)
	remoteBase := path.Join(p.cfg.DestFolder, filepath.ToSlash(relDir), stem)
	return base, remoteBase + ".mkv", remoteBase + ".srt", nil
}

// process handles one file. claimed maps remote outputs to the file that
// produced them.
func (p *Pipeline) process(ctx context.Context, batchID, file string, claimed map[string]string) domain.TranscodeJob {
	started := time.Now().UTC()
	job := domain.TranscodeJob{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Source:    file,
		StartedAt: started,
	}

	fail := func(err error) domain.TranscodeJob {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		finished := time.Now().UTC()
		job.FinishedAt = &finished
		metrics.RecordTranscode(string(domain.JobFailed), job.Encoder, finished.Sub(started))
		p.log.Error().Err(err).Str("file", file).Msg("transcode failed")
		return job
	}

	base, remoteMKV, remoteSRT, err := p.Paths(file)
	if err != nil {
		return fail(err)
	}
	job.Destination = p.cfg.DestHost + ":" + remoteMKV
	if prev, ok := claimed[remoteMKV]; ok {
		return fail(fmt.Errorf("%w: %s already writes %s", ErrDuplicateOutput, filepath.Base(prev), remoteMKV))
	}
	claimed[remoteMKV] = file

	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fail(fmt.Errorf("create output dir: %w", err))
	}

	mkv := base + ".mkv"
	defer os.Remove(mkv)

	p.log.Info().Str("file", file).Msg("transcoding")
	encoder, err := p.encoder.Encode(ctx, file, mkv)
	job.Encoder = encoder
	if err != nil {
		return fail(err)
	}

	var srt string
	hasSubs, err := p.prober.HasSubtitles(ctx, file)
	if err != nil {
		p.log.Warn().Err(err).Str("file", file).Msg("could not probe subtitles")
	}
	if hasSubs {
		srt, err = p.encoder.ExtractSubtitles(ctx, file, base)
		if err != nil {
			p.log.Warn().Err(err).Str("file", file).Msg("subtitle extraction failed")
		}
		if srt != "" {
			defer os.Remove(srt)
		}
	}

	p.log.Info().Str("file", mkv).Str("dest", job.Destination).Msg("transferring")
	if err := p.transfer.Put(ctx, mkv, remoteMKV); err != nil {
		return fail(fmt.Errorf("transfer mkv: %w", err))
	}

	if srt != "" {
		if err := p.transfer.Put(ctx, srt, remoteSRT); err != nil {
			return fail(fmt.Errorf("transfer srt: %w", err))
		}
		job.Subtitles = true
	}

	finished := time.Now().UTC()
	job.Status = domain.JobSuccess
	job.FinishedAt = &finished
	metrics.RecordTranscode(string(domain.JobSuccess), encoder, finished.Sub(started))
	return job
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
