package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/corpusvault/corpusvault/config"
	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
	"github.com/corpusvault/corpusvault/services/impl"
)

const (
	dequeueTimeout  = 5 * time.Second
	maxFetchBytes   = 100 << 20
	urlFetchTimeout = 30 * time.Second
)

// Pool runs the ingestion workers: each worker loops dequeue → process,
// throttled by a shared rate limiter. Stop drains in-flight jobs.
type Pool struct {
	queue     services.JobQueue
	blobs     services.BlobStore
	parser    services.Parser
	embedder  services.Embedder
	vectors   services.VectorStore
	documents services.DocumentService
	customers services.CustomerService
	usage     services.UsageTracker

	concurrency int
	limiter     *rate.Limiter
	httpClient  *http.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(
	cfg config.WorkerConfig,
	queue services.JobQueue,
	blobs services.BlobStore,
	parser services.Parser,
	embedder services.Embedder,
	vectors services.VectorStore,
	documents services.DocumentService,
	customers services.CustomerService,
	usage services.UsageTracker,
) *Pool {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 5
	}
	jobsPerSec := cfg.JobsPerSec
	if jobsPerSec <= 0 {
		jobsPerSec = 10
	}

	return &Pool{
		queue:       queue,
		blobs:       blobs,
		parser:      parser,
		embedder:    embedder,
		vectors:     vectors,
		documents:   documents,
		customers:   customers,
		usage:       usage,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(jobsPerSec), concurrency),
		httpClient:  &http.Client{Timeout: urlFetchTimeout},
	}
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}(i)
	}

	log.Printf("Worker pool started with %d workers", p.concurrency)
}

// Stop signals the workers and waits for in-flight jobs to reach a terminal
// state.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Println("Worker pool drained")
}

func (p *Pool) run(ctx context.Context, workerID int) {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker %d dequeue error: %v", workerID, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		// The attempt itself runs on Background so shutdown drains it
		// instead of cutting it off mid-write.
		p.process(context.Background(), job)

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	started := time.Now()
	log.Printf("Processing job %s (type=%s attempt=%d)", job.ID, job.Type, job.Attempts+1)

	stats, err := p.runAttempt(ctx, job)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	stats.ProcessingTimeMs = int(time.Since(started).Milliseconds())
	if err := p.documents.MarkCompleted(ctx, job.DocumentID, *stats); err != nil {
		log.Printf("Failed to mark document %s completed: %v", job.DocumentID, err)
	}
	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Printf("Failed to complete job %s: %v", job.ID, err)
	}
	p.reportProgress(ctx, job.ID, models.StageCompleted, 100)

	p.recordUsage(ctx, job, stats)

	log.Printf("Job %s completed: %d chunks, %d tokens, %.6f USD",
		job.ID, stats.ChunkCount, stats.EmbeddingTokens, stats.EmbeddingCostUSD)
}

func (p *Pool) runAttempt(ctx context.Context, job *models.Job) (*services.CompletionStats, error) {
	var (
		data    []byte
		docType models.DocumentType
		err     error
	)

	switch job.Type {
	case models.JobScrapeURL:
		p.reportProgress(ctx, job.ID, models.StageFetching, 10)
		data, docType, err = p.fetchURL(ctx, job.SourceURL)
		if err != nil {
			return nil, err
		}
	default:
		p.reportProgress(ctx, job.ID, models.StageDownloading, 10)
		data, err = p.blobs.Get(ctx, job.BlobKey)
		if err != nil {
			return nil, &transientError{err: fmt.Errorf("download failed: %w", err)}
		}
		docType = job.DocType
	}

	p.reportProgress(ctx, job.ID, models.StageParsing, 30)
	parsed, err := p.parser.Parse(docType, data)
	if err != nil {
		return nil, err
	}

	customer, err := p.customers.GetCustomer(ctx, job.CustomerID)
	if err != nil {
		return nil, err
	}
	cfg := customer.Config
	chunkSize, overlap := 1000, 200
	model := "text-embedding-3-small"
	if cfg != nil {
		if cfg.ChunkSize > 0 {
			chunkSize = cfg.ChunkSize
		}
		if cfg.ChunkOverlap >= 0 {
			overlap = cfg.ChunkOverlap
		}
		if cfg.EmbeddingModel != "" {
			model = cfg.EmbeddingModel
		}
	}
	apiKey, err := p.customers.GetEmbedderKey(ctx, job.CustomerID)
	if err != nil {
		return nil, err
	}

	chunks := impl.ChunkText(parsed.Content, chunkSize, overlap)
	if len(chunks) == 0 {
		return nil, &fatalError{err: fmt.Errorf("document produced no chunks")}
	}

	p.reportProgress(ctx, job.ID, models.StageEmbedding, 60)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embedded, err := p.embedder.EmbedBatch(ctx, texts, model, apiKey)
	if err != nil {
		return nil, err
	}
	if len(embedded.Vectors) != len(chunks) {
		return nil, &transientError{err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(embedded.Vectors), len(chunks))}
	}
	for i := range chunks {
		chunks[i].Embedding = embedded.Vectors[i]
		if parsed.Title != nil {
			chunks[i].Title = parsed.Title
		}
	}

	p.reportProgress(ctx, job.ID, models.StageStoring, 85)
	if err := p.vectors.AddChunks(ctx, job.CustomerID, job.DocumentID, chunks); err != nil {
		return nil, &transientError{err: fmt.Errorf("vector insert failed: %w", err)}
	}

	p.reportProgress(ctx, job.ID, models.StageFinalizing, 95)
	return &services.CompletionStats{
		ChunkCount:       len(chunks),
		CharacterCount:   parsed.CharacterCount,
		PageCount:        parsed.PageCount,
		EmbeddingTokens:  embedded.TokensUsed,
		EmbeddingCostUSD: embedded.CostUSD,
	}, nil
}

func (p *Pool) fetchURL(ctx context.Context, sourceURL string) ([]byte, models.DocumentType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", &fatalError{err: fmt.Errorf("invalid URL: %w", err)}
	}
	req.Header.Set("User-Agent", "corpusvault/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", &transientError{err: fmt.Errorf("fetch failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", &transientError{err: fmt.Errorf("fetch returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &fatalError{err: fmt.Errorf("fetch returned status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	var docType models.DocumentType
	switch {
	case strings.HasPrefix(contentType, "text/html"):
		docType = models.DocumentTypeHTML
	case strings.HasPrefix(contentType, "text/plain"):
		docType = models.DocumentTypeTXT
	default:
		return nil, "", &fatalError{err: fmt.Errorf("unsupported content type %q", contentType)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", &transientError{err: fmt.Errorf("fetch read failed: %w", err)}
	}

	return data, docType, nil
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	retryable := isRetryable(err)
	log.Printf("Job %s attempt %d failed (retryable=%t): %v", job.ID, job.Attempts+1, retryable, err)

	requeued, qErr := p.queue.Fail(ctx, job, err.Error(), retryable)
	if qErr != nil {
		log.Printf("Failed to record job failure %s: %v", job.ID, qErr)
	}

	if !requeued {
		if mErr := p.documents.MarkFailed(ctx, job.DocumentID, err.Error()); mErr != nil {
			log.Printf("Failed to mark document %s failed: %v", job.DocumentID, mErr)
		}
	}
}

func (p *Pool) reportProgress(ctx context.Context, jobID string, stage models.JobStage, percent int) {
	if err := p.queue.ReportProgress(ctx, models.JobProgress{
		JobID:   jobID,
		Stage:   stage,
		Percent: percent,
	}); err != nil {
		log.Printf("Failed to report progress for job %s: %v", jobID, err)
	}
}

func (p *Pool) recordUsage(ctx context.Context, job *models.Job, stats *services.CompletionStats) {
	metrics := []*models.UsageMetric{
		{
			CustomerID: job.CustomerID,
			DocumentID: &job.DocumentID,
			Type:       models.MetricDocumentProcessed,
			Value:      1,
		},
		{
			CustomerID: job.CustomerID,
			DocumentID: &job.DocumentID,
			Type:       models.MetricEmbeddingTokens,
			Value:      float64(stats.EmbeddingTokens),
			CostUSD:    stats.EmbeddingCostUSD,
		},
	}
	for _, m := range metrics {
		if err := p.usage.Record(ctx, m); err != nil {
			log.Printf("Failed to record usage metric: %v", err)
		}
	}
}

// Failure classification. Parse errors, embedder 4xx and auth failures are
// fatal; IO and embedder 5xx retry per the queue's backoff policy.

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return false
	}
	var parseErr *impl.ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var badReq *impl.EmbedderBadRequestError
	if errors.As(err, &badReq) {
		return false
	}
	var authErr *impl.EmbedderAuthError
	if errors.As(err, &authErr) {
		return false
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		// Catalog lookups that 404 will not start succeeding on retry.
		return apiErr.Kind == models.ErrInternal || apiErr.Kind == models.ErrServiceUnavailable
	}
	return true
}
