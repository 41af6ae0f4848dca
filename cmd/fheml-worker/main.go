// Command fheml-worker runs encrypted regression workers: it pops fit,
// predict and statistics jobs from a Redis queue, loads the referenced
// encrypted-value envelopes from storage and writes result envelopes
// back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luxfi/fheml"
	"github.com/luxfi/fheml/internal/queue"
	"github.com/luxfi/fheml/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		numWorkers  = flag.Int("workers", 4, "number of worker goroutines")
		redisAddr   = flag.String("redis", "localhost:6379", "Redis address")
		redisDB     = flag.Int("redis-db", 0, "Redis database number")
		queueName   = flag.String("queue", "default", "queue name")
		storagePath = flag.String("storage", "/tmp/fheml-storage", "envelope storage path")
		metricsAddr = flag.String("metrics", ":9090", "metrics server address")
	)
	flag.Parse()

	log.Printf("Regression worker starting...")
	log.Printf("  Workers: %d", *numWorkers)
	log.Printf("  Redis: %s", *redisAddr)
	log.Printf("  Storage: %s", *storagePath)
	log.Printf("  Metrics: %s", *metricsAddr)

	// Queue.
	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr: *redisAddr,
		DB:   *redisDB,
	}, *queueName)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	// Storage.
	store, err := storage.NewFileStorage(*storagePath)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	// One key context for the process; every worker forks its own
	// session off it so no evaluator is shared between goroutines.
	params, err := fheml.NewParametersFromLiteral(fheml.PN14T50)
	if err != nil {
		return fmt.Errorf("create parameters: %w", err)
	}
	root, err := fheml.NewSession(params)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer root.Close()

	pool := &WorkerPool{
		numWorkers: *numWorkers,
		queue:      q,
		storage:    store,
		root:       root,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	// Metrics server.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "# HELP fheml_jobs_total Total regression jobs\n")
		fmt.Fprintf(w, "# TYPE fheml_jobs_total counter\n")
		fmt.Fprintf(w, "fheml_jobs_total{status=\"success\"} %d\n", pool.successCount.Load())
		fmt.Fprintf(w, "fheml_jobs_total{status=\"failure\"} %d\n", pool.failureCount.Load())
	})

	server := &http.Server{
		Addr:    *metricsAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("Metrics server starting on %s", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("Received signal: %s", sig.String())

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	if err := pool.Stop(); err != nil {
		log.Printf("Worker pool shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// WorkerPool manages a pool of regression workers.
type WorkerPool struct {
	numWorkers   int
	queue        queue.Queue
	storage      storage.Storage
	root         *fheml.Session
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	successCount atomic.Int64
	failureCount atomic.Int64
}

// Start starts the worker pool.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.running.Load() {
		return errors.New("pool already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	log.Printf("Starting %d workers", p.numWorkers)

	for i := 0; i < p.numWorkers; i++ {
		session, err := p.root.Fork()
		if err != nil {
			p.cancel()
			return fmt.Errorf("fork session for worker %d: %w", i, err)
		}
		p.wg.Add(1)
		go p.worker(ctx, i, session)
	}

	return nil
}

// Stop gracefully stops the worker pool.
func (p *WorkerPool) Stop() error {
	if !p.running.Load() {
		return nil
	}

	log.Println("Stopping worker pool...")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker pool stopped")
	case <-time.After(30 * time.Second):
		log.Println("Shutdown timeout exceeded")
		return errors.New("shutdown timeout")
	}

	p.running.Store(false)
	return nil
}

func (p *WorkerPool) worker(ctx context.Context, id int, session *fheml.Session) {
	defer p.wg.Done()
	defer session.Close()

	log.Printf("Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
		}

		job, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("Worker %d: failed to pop job: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		p.processJob(ctx, id, session, job)
	}
}

func (p *WorkerPool) processJob(ctx context.Context, workerID int, session *fheml.Session, job *queue.Job) {
	log.Printf("Worker %d: processing job %s (op=%s)", workerID, job.ID, job.Op)

	job.Status = queue.StatusProcessing
	if err := p.queue.Update(ctx, job); err != nil {
		log.Printf("Worker %d: failed to update job status: %v", workerID, err)
	}

	results, err := p.execute(ctx, session, job)
	if err != nil {
		job.Status = queue.StatusFailed
		job.Error = err.Error()
		p.queue.Update(ctx, job)
		p.failureCount.Add(1)
		log.Printf("Worker %d: job %s failed: %v", workerID, job.ID, err)
		return
	}

	job.Status = queue.StatusCompleted
	job.Results = results
	if err := p.queue.Update(ctx, job); err != nil {
		log.Printf("Worker %d: failed to update job result: %v", workerID, err)
	}

	p.successCount.Add(1)
	log.Printf("Worker %d: job %s completed", workerID, job.ID)
}

func (p *WorkerPool) execute(ctx context.Context, session *fheml.Session, job *queue.Job) ([]string, error) {
	switch job.Op {
	case queue.OpFit:
		x, y, err := p.loadVectorPair(ctx, session, job.Args)
		if err != nil {
			return nil, err
		}
		model, err := session.Fit(x, y)
		if err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		slopeH, err := p.storeScalar(ctx, model.Slope())
		if err != nil {
			return nil, err
		}
		interceptH, err := p.storeScalar(ctx, model.Intercept())
		if err != nil {
			return nil, err
		}
		return []string{slopeH, interceptH}, nil

	case queue.OpPredict:
		if len(job.Args) != 3 {
			return nil, fmt.Errorf("predict: want 3 args, got %d", len(job.Args))
		}
		slope, err := p.loadScalar(ctx, session, job.Args[0])
		if err != nil {
			return nil, err
		}
		intercept, err := p.loadScalar(ctx, session, job.Args[1])
		if err != nil {
			return nil, err
		}
		batch, err := p.loadVector(ctx, session, job.Args[2])
		if err != nil {
			return nil, err
		}
		model, err := fheml.NewModel(session, slope, intercept)
		if err != nil {
			return nil, err
		}
		pred, err := model.PredictBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		h, err := p.storeVector(ctx, pred)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil

	case queue.OpMean, queue.OpVariance:
		if len(job.Args) != 1 {
			return nil, fmt.Errorf("%s: want 1 arg, got %d", job.Op, len(job.Args))
		}
		x, err := p.loadVector(ctx, session, job.Args[0])
		if err != nil {
			return nil, err
		}
		var out *fheml.EncryptedScalar
		if job.Op == queue.OpMean {
			out, err = session.Mean(x)
		} else {
			out, err = session.Variance(x)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", job.Op, err)
		}
		h, err := p.storeScalar(ctx, out)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil

	case queue.OpCovariance, queue.OpMSE:
		x, y, err := p.loadVectorPair(ctx, session, job.Args)
		if err != nil {
			return nil, err
		}
		var out *fheml.EncryptedScalar
		if job.Op == queue.OpCovariance {
			out, err = session.Covariance(x, y)
		} else {
			out, err = session.MeanSquaredError(x, y)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", job.Op, err)
		}
		h, err := p.storeScalar(ctx, out)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil

	default:
		return nil, fmt.Errorf("unsupported op: %s", job.Op)
	}
}

func (p *WorkerPool) loadVectorPair(ctx context.Context, session *fheml.Session, args []string) (*fheml.EncryptedVector, *fheml.EncryptedVector, error) {
	if len(args) != 2 {
		return nil, nil, fmt.Errorf("want 2 args, got %d", len(args))
	}
	x, err := p.loadVector(ctx, session, args[0])
	if err != nil {
		return nil, nil, err
	}
	y, err := p.loadVector(ctx, session, args[1])
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (p *WorkerPool) loadVector(ctx context.Context, session *fheml.Session, handle string) (*fheml.EncryptedVector, error) {
	// Check the envelope kind before binding anything to the session,
	// so a mis-wired job argument fails with the handle's actual type.
	info, err := p.storage.Info(ctx, storage.Handle(handle))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", handle, err)
	}
	if info.Kind != fheml.KindVector {
		return nil, fmt.Errorf("load %s: envelope holds a %s, want vector", handle, info.Kind)
	}
	data, err := p.storage.Load(ctx, storage.Handle(handle))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", handle, err)
	}
	v, err := session.UnmarshalVector(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", handle, err)
	}
	return v, nil
}

func (p *WorkerPool) loadScalar(ctx context.Context, session *fheml.Session, handle string) (*fheml.EncryptedScalar, error) {
	info, err := p.storage.Info(ctx, storage.Handle(handle))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", handle, err)
	}
	if info.Kind != fheml.KindScalar {
		return nil, fmt.Errorf("load %s: envelope holds a %s, want scalar", handle, info.Kind)
	}
	data, err := p.storage.Load(ctx, storage.Handle(handle))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", handle, err)
	}
	v, err := session.UnmarshalScalar(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", handle, err)
	}
	return v, nil
}

func (p *WorkerPool) storeVector(ctx context.Context, v *fheml.EncryptedVector) (string, error) {
	data, err := v.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	h, err := p.storage.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return string(h), nil
}

func (p *WorkerPool) storeScalar(ctx context.Context, v *fheml.EncryptedScalar) (string, error) {
	data, err := v.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	h, err := p.storage.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return string(h), nil
}
