// Package converter runs the URL-to-object-store conversion pipeline for one
// task: fetch each referenced URL, mirror the payload, and record a presigned
// link back on the task.
package converter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/progress"
	"github.com/nas2net/oss-relay/internal/registry"
	"github.com/nas2net/oss-relay/internal/relay"
)

// Config tunes the conversion pipeline.
type Config struct {
	// MaxParallel caps concurrent fetches per task.
	MaxParallel int
	// FetchTimeout bounds each remote GET.
	FetchTimeout time.Duration
	// MaxFetchBytes caps each downloaded body. Zero means no explicit cap.
	MaxFetchBytes int64
	// PresignTTL is the lifetime of generated download links.
	PresignTTL time.Duration
	// KeyPrefix optionally namespaces object keys, e.g. "mirrored".
	KeyPrefix string
	// DoneTopic, when set together with a publisher, receives a notification
	// for every finished task.
	DoneTopic string
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 5
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = time.Hour
	}
	return c
}

// SuffixGenerator produces the short fragments that keep object keys unique.
type SuffixGenerator interface {
	NewSuffix() (string, error)
}

// Converter executes tasks against an object store. All collaborators are
// injected; the publisher and emitter may be nil.
type Converter struct {
	cfg       Config
	store     relay.ObjectStore
	fetcher   relay.Fetcher
	registry  *registry.Registry
	suffixes  SuffixGenerator
	clock     relay.Clock
	publisher relay.Publisher
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New wires a Converter. Store, fetcher, registry, suffix generator, and
// clock are required.
func New(
	cfg Config,
	store relay.ObjectStore,
	fetcher relay.Fetcher,
	reg *registry.Registry,
	suffixes SuffixGenerator,
	clock relay.Clock,
	publisher relay.Publisher,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		cfg:       cfg.withDefaults(),
		store:     store,
		fetcher:   fetcher,
		registry:  reg,
		suffixes:  suffixes,
		clock:     clock,
		publisher: publisher,
		emitter:   emitter,
		logger:    logger,
	}
}

// urlJob is one unique URL plus every occurrence index it must resolve.
type urlJob struct {
	url     string
	indices []int
}

// Run converts every URL occurrence of the task. Duplicate URLs are fetched
// once and their result recorded for each occurrence. Run blocks until the
// task is terminal and is intended to be launched on its own goroutine.
func (c *Converter) Run(ctx context.Context, task relay.Task) {
	start := c.clock.Now()
	taskID := taskIDBytes(task.ID)
	c.emit(progress.Event{
		TaskID: taskID,
		TS:     start,
		Stage:  progress.StageTaskStart,
		Total:  task.Total,
	})

	jobs := groupOccurrences(task)
	if len(jobs) > 0 {
		c.runWorkers(ctx, task.ID, taskID, jobs)
	}

	final, err := c.registry.Get(task.ID)
	if err != nil {
		c.logger.Warn("task evicted before completion", zap.String("task_id", task.ID), zap.Error(err))
		final = task
	}
	succeeded, failed, skipped := tallyOutcomes(final)

	end := c.clock.Now()
	c.emit(progress.Event{
		TaskID:    taskID,
		TS:        end,
		Stage:     progress.StageTaskDone,
		Dur:       end.Sub(start),
		Total:     final.Total,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
	})
	c.publishDone(ctx, final, succeeded, failed, skipped)
}

func (c *Converter) runWorkers(ctx context.Context, taskID string, taskIDBin [16]byte, jobs []urlJob) {
	queue := make(chan urlJob)
	workers := c.cfg.MaxParallel
	if len(jobs) < workers {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				c.processJob(ctx, taskID, taskIDBin, job)
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
}

func (c *Converter) processJob(ctx context.Context, taskID string, taskIDBin [16]byte, job urlJob) {
	jobStart := c.clock.Now()
	res, bytes := c.convertOne(ctx, job.url)
	dur := c.clock.Now().Sub(jobStart)

	for _, idx := range job.indices {
		if _, err := c.registry.RecordResult(taskID, idx, res); err != nil {
			c.logger.Warn("record result failed",
				zap.String("task_id", taskID),
				zap.Int("index", idx),
				zap.Error(err),
			)
		}
	}

	c.emit(progress.Event{
		TaskID: taskIDBin,
		TS:     c.clock.Now(),
		Stage:  progress.StageConvertDone,
		URL:    job.url,
		Site:   progress.SiteOf(job.url),
		Status: res.Status,
		Bytes:  bytes,
		Dur:    dur,
		Note:   res.Reason,
	})
}

// convertOne mirrors a single URL. It returns the per-occurrence result plus
// the downloaded byte count for metrics.
func (c *Converter) convertOne(ctx context.Context, rawURL string) (relay.ConversionResult, int64) {
	if c.alreadyMirrored(rawURL) {
		return relay.Skipped(rawURL), 0
	}
	if err := ctx.Err(); err != nil {
		return relay.Failure("conversion canceled"), 0
	}

	resp, err := c.fetcher.Fetch(ctx, relay.FetchRequest{
		URL:      rawURL,
		Timeout:  c.cfg.FetchTimeout,
		MaxBytes: c.cfg.MaxFetchBytes,
	})
	if err != nil {
		return relay.Failure(fmt.Sprintf("fetch failed: %v", err)), 0
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return relay.Failure(fmt.Sprintf("fetch returned %d", resp.StatusCode)), 0
	}

	suffix, err := c.suffixes.NewSuffix()
	if err != nil {
		return relay.Failure(fmt.Sprintf("generate key suffix: %v", err)), 0
	}
	key := ObjectKey(c.cfg.KeyPrefix, inferFilename(rawURL, resp.Headers), suffix)

	if err := c.store.Put(ctx, key, contentTypeOf(resp.Headers), resp.Body); err != nil {
		return relay.Failure(fmt.Sprintf("store object: %v", err)), 0
	}
	presigned, err := c.store.Presign(ctx, key, c.cfg.PresignTTL)
	if err != nil {
		return relay.Failure(fmt.Sprintf("presign object: %v", err)), 0
	}
	return relay.Success(presigned), int64(len(resp.Body))
}

// alreadyMirrored reports whether the URL already points at our own store, in
// which case re-mirroring would only chain links.
func (c *Converter) alreadyMirrored(rawURL string) bool {
	endpoint := c.store.Endpoint()
	return endpoint != "" && strings.HasPrefix(rawURL, endpoint)
}

func (c *Converter) publishDone(ctx context.Context, task relay.Task, succeeded, failed, skipped int) {
	if c.publisher == nil || c.cfg.DoneTopic == "" {
		return
	}
	payload := map[string]any{
		"task_id":   task.ID,
		"total":     task.Total,
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skipped,
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.DoneTopic, payload); err != nil {
		c.logger.Warn("publish task done failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (c *Converter) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(evt)
}

// groupOccurrences collapses the task's occurrences into one job per unique
// URL, preserving first-seen order.
func groupOccurrences(task relay.Task) []urlJob {
	byURL := make(map[string]int, len(task.Occurrences))
	var jobs []urlJob
	for i, occ := range task.Occurrences {
		if pos, ok := byURL[occ.Raw]; ok {
			jobs[pos].indices = append(jobs[pos].indices, i)
			continue
		}
		byURL[occ.Raw] = len(jobs)
		jobs = append(jobs, urlJob{url: occ.Raw, indices: []int{i}})
	}
	return jobs
}

func tallyOutcomes(task relay.Task) (succeeded, failed, skipped int) {
	for _, u := range task.URLs {
		switch u.Status {
		case relay.StatusSuccess:
			succeeded++
		case relay.StatusFailed:
			failed++
		case relay.StatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

func taskIDBytes(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		var fallback [16]byte
		copy(fallback[:], id)
		return fallback
	}
	return progress.UUIDToBytes(parsed)
}
