package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ingest/internal/blob"
	"ingest/internal/config"
	"ingest/internal/database"
	"ingest/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateJob mirrors the database sentinel so callers need not import
// the database package just to branch on dedup
var ErrDuplicateJob = database.ErrDuplicateJob

// Processor handles one delivered job. The heartbeat func must be called
// during long steps so the stall reaper does not presume the worker dead.
// A returned error escalates to the queue's retry policy.
type Processor interface {
	Process(ctx context.Context, job *model.Job, heartbeat func()) error
}

// Queue is the durable work queue bridging "file accepted" to "file
// processed": RabbitMQ carries delivery, Mongo job records carry state
// (dedup, attempts, heartbeats), and the reaper redelivers stalled jobs.
// Delivery is therefore at-least-once, never exactly-once.
type Queue struct {
	db        database.Database
	rabbit    Client
	blobs     blob.Store
	rabbitCfg config.RabbitMQConfig
	ingestCfg config.IngestConfig
	processor Processor
	validate  *validator.Validate

	consumerTag string
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// New creates the job queue service. Start must be called before jobs flow.
func New(db database.Database, rabbit Client, blobs blob.Store,
	rabbitCfg config.RabbitMQConfig, ingestCfg config.IngestConfig, processor Processor) *Queue {
	return &Queue{
		db:        db,
		rabbit:    rabbit,
		blobs:     blobs,
		rabbitCfg: rabbitCfg,
		ingestCfg: ingestCfg,
		processor: processor,
		validate:  validator.New(),
		shutdown:  make(chan struct{}),
	}
}

// Enqueue admits a job for the task. A job with the same dedup id already
// queued or active yields ErrDuplicateJob and nothing is published.
func (q *Queue) Enqueue(ctx context.Context, payload model.JobPayload) (*model.Job, error) {
	if err := q.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}

	taskID, err := primitive.ObjectIDFromHex(payload.TaskID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id in payload: %w", err)
	}

	job := &model.Job{
		ID:          primitive.NewObjectID(),
		DedupID:     model.DedupIDForTask(taskID),
		Status:      model.JobQueued,
		Payload:     payload,
		MaxAttempts: q.ingestCfg.MaxAttempts,
	}

	if err := q.db.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := q.publishJob(job.ID); err != nil {
		// The record exists but the message never made it out; finish the
		// job so the dedup slot frees up and surface the error to the caller
		q.db.MarkJobFinished(ctx, job.ID, model.JobFailed, "enqueue publish failed: "+err.Error())
		return nil, fmt.Errorf("failed to publish job: %w", err)
	}

	log.Info().
		Str("jobId", job.ID.Hex()).
		Str("taskId", payload.TaskID).
		Str("fileName", payload.FileName).
		Msg("Job created and enqueued")

	return job, nil
}

// publishJob sends the lightweight rabbit message; the full job lives in Mongo
func (q *Queue) publishJob(jobID primitive.ObjectID) error {
	headers := amqp.Table{"job_id": jobID.Hex()}

	message, err := json.Marshal(map[string]string{"job_id": jobID.Hex()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.rabbit.Publish(
		q.rabbitCfg.ExchangeName,
		q.rabbitCfg.QueueName,
		message,
		headers,
	)
}

// Stats returns a snapshot of job counts by state
func (q *Queue) Stats(ctx context.Context) (*model.QueueStats, error) {
	return q.db.GetQueueStats(ctx)
}

// Start declares the queue topology and launches the consumer and the stall
// reaper. It returns once both are running.
func (q *Queue) Start(ctx context.Context) error {
	if q.processor == nil {
		return fmt.Errorf("no job processor configured")
	}

	if err := q.rabbit.DeclareExchange(q.rabbitCfg.ExchangeName, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := q.rabbit.DeclareQueue(q.rabbitCfg.QueueName)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.rabbitCfg.QueueName, err)
	}

	if err := q.rabbit.BindQueue(q.rabbitCfg.QueueName, q.rabbitCfg.ExchangeName, q.rabbitCfg.QueueName); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.rabbitCfg.QueueName, err)
	}

	q.consumerTag = fmt.Sprintf("ingest-consumer-%s", uuid.NewString())
	q.startConsumer(ctx, queue.Name, q.consumerTag)
	q.startStallReaper(ctx)

	log.Info().Str("queue", queue.Name).Msg("Job processing started")
	return nil
}

// Stop stops the consumer and reaper and waits for in-flight work
func (q *Queue) Stop() {
	close(q.shutdown)
	q.wg.Wait()
	log.Info().Msg("Job processing stopped")
}

// startConsumer runs the delivery loop. Each delivery is handled on its own
// goroutine so one stalled job cannot starve the others; rabbit prefetch
// bounds the total in flight.
func (q *Queue) startConsumer(ctx context.Context, queueName, consumerTag string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		log.Info().
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Starting job consumer")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("consumerTag", consumerTag).Msg("Context cancelled, stopping consumer")
				return
			case <-q.shutdown:
				log.Info().Str("consumerTag", consumerTag).Msg("Shutdown signal received, stopping consumer")
				return
			default:
			}

			deliveries, err := q.rabbit.Consume(queueName, consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", queueName).
					Msg("Failed to consume from queue")

				time.Sleep(5 * time.Second)
				continue
			}

			// The receive must stay selectable against ctx and shutdown;
			// a plain range over deliveries would park here forever and
			// deadlock Stop's wg.Wait.
			var inFlight sync.WaitGroup
			open := true
			for open {
				select {
				case <-ctx.Done():
					inFlight.Wait()
					log.Info().Str("consumerTag", consumerTag).Msg("Context cancelled, stopping consumer")
					return
				case <-q.shutdown:
					inFlight.Wait()
					log.Info().Str("consumerTag", consumerTag).Msg("Shutdown signal received, stopping consumer")
					return
				case delivery, ok := <-deliveries:
					if !ok {
						open = false
						break
					}
					inFlight.Add(1)
					go func(d amqp.Delivery) {
						defer inFlight.Done()
						q.processDelivery(ctx, d)
					}(delivery)
				}
			}
			inFlight.Wait()

			log.Warn().
				Str("queue", queueName).
				Msg("Consumer channel closed, reconnecting...")

			time.Sleep(5 * time.Second)
		}
	}()
}

// processDelivery handles a single delivery end to end
func (q *Queue) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	jobIDStr, ok := delivery.Headers["job_id"].(string)
	if !ok {
		log.Error().Msg("Message missing job_id header, rejecting")
		delivery.Nack(false, false) // Don't requeue malformed messages
		return
	}

	jobID, err := primitive.ObjectIDFromHex(jobIDStr)
	if err != nil {
		log.Error().Str("jobId", jobIDStr).Msg("Malformed job_id header, rejecting")
		delivery.Nack(false, false)
		return
	}

	logger := log.With().Str("jobId", jobID.Hex()).Logger()

	job, err := q.db.GetJob(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve job from database")
		delivery.Nack(false, false)
		return
	}

	if job.Status.IsFinished() {
		// A requeued duplicate of an already-settled job; drop it
		logger.Warn().Str("status", string(job.Status)).Msg("Job already finished, dropping delivery")
		delivery.Ack(false)
		return
	}

	// Reject malformed payloads at the entry point, before any stage runs
	if err := q.validate.Struct(job.Payload); err != nil {
		logger.Error().Err(err).Msg("Job payload failed schema validation, rejecting")
		q.db.MarkJobFinished(ctx, jobID, model.JobFailed, "invalid payload: "+err.Error())
		delivery.Ack(false)
		return
	}

	job, err = q.db.MarkJobStarted(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark job started")
		delivery.Nack(false, false)
		return
	}

	logger.Info().
		Str("taskId", job.Payload.TaskID).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	heartbeat := func() {
		if err := q.db.HeartbeatJob(context.Background(), jobID); err != nil {
			logger.Warn().Err(err).Msg("Failed to renew job heartbeat")
		}
	}

	// Wall-clock ceiling per attempt, regardless of phase
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(q.ingestCfg.JobTimeoutSecs)*time.Second)
	err = q.processor.Process(jobCtx, job, heartbeat)
	cancel()

	if err != nil {
		logger.Error().Err(err).Int("attempt", job.Attempts).Msg("Job processing failed")
		q.handleFailure(ctx, job, err)
		delivery.Ack(false)
		return
	}

	if err := q.db.MarkJobFinished(ctx, jobID, model.JobCompleted, ""); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job completed")
	}
	logger.Info().Msg("Job processed successfully")
	delivery.Ack(false)
}

// handleFailure applies the bounded-retry policy to a failed attempt
func (q *Queue) handleFailure(ctx context.Context, job *model.Job, procErr error) {
	if job.Attempts >= job.MaxAttempts {
		log.Warn().
			Str("jobId", job.ID.Hex()).
			Int("attempts", job.Attempts).
			Msg("Job exhausted retry attempts, abandoning")
		q.db.MarkJobFinished(ctx, job.ID, model.JobFailed, procErr.Error())
		return
	}

	if err := q.db.MarkJobRetrying(ctx, job.ID, procErr.Error()); err != nil {
		log.Error().Err(err).Str("jobId", job.ID.Hex()).Msg("Failed to mark job retrying")
		return
	}

	delay := q.backoffDelay(job.Attempts)
	log.Info().
		Str("jobId", job.ID.Hex()).
		Dur("delay", delay).
		Int("attempt", job.Attempts).
		Msg("Scheduling job retry")

	// The delayed republish joins the WaitGroup so Stop cannot return while
	// a retry is pending, and shutdown cancels it instead of letting it fire
	// against a closed transport.
	jobID := job.ID
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.shutdown:
			return
		case <-timer.C:
		}

		if err := q.publishJob(jobID); err != nil {
			log.Error().Err(err).Str("jobId", jobID.Hex()).Msg("Failed to republish job for retry")
			q.db.MarkJobFinished(context.Background(), jobID, model.JobFailed, "retry publish failed: "+err.Error())
		}
	}()
}

// backoffDelay grows exponentially with the attempt count
func (q *Queue) backoffDelay(attempts int) time.Duration {
	base := time.Duration(q.ingestCfg.BackoffBaseSecs) * time.Second
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// startStallReaper periodically redelivers jobs whose worker stopped
// heartbeating past the threshold
func (q *Queue) startStallReaper(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		interval := time.Duration(q.ingestCfg.StalledIntervalSec) * time.Second
		threshold := time.Duration(q.ingestCfg.StalledAfterSecs) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.shutdown:
				return
			case <-ticker.C:
				q.reapStalledJobs(ctx, threshold)
			}
		}
	}()
}

func (q *Queue) reapStalledJobs(ctx context.Context, threshold time.Duration) {
	stalled, err := q.db.FindStalledJobs(ctx, time.Now().Add(-threshold))
	if err != nil {
		log.Error().Err(err).Msg("Stall scan failed")
		return
	}

	for _, job := range stalled {
		logger := log.With().Str("jobId", job.ID.Hex()).Str("taskId", job.Payload.TaskID).Logger()
		logger.Warn().Time("heartbeatAt", job.HeartbeatAt).Msg("Job stalled, worker presumed dead")

		if job.Attempts >= job.MaxAttempts {
			q.db.MarkJobFinished(ctx, job.ID, model.JobFailed, "stalled with no attempts remaining")
			q.abandonTask(ctx, &job)
			continue
		}

		if err := q.db.MarkJobRetrying(ctx, job.ID, "stalled: heartbeat expired"); err != nil {
			logger.Error().Err(err).Msg("Failed to mark stalled job retrying")
			continue
		}

		if err := q.publishJob(job.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to redeliver stalled job")
			q.db.MarkJobFinished(ctx, job.ID, model.JobFailed, "stall redelivery failed")
			q.abandonTask(ctx, &job)
		}
	}
}

// abandonTask resolves the task record and frees the blob when a job dies
// with no worker left to do the bookkeeping
func (q *Queue) abandonTask(ctx context.Context, job *model.Job) {
	taskID, err := primitive.ObjectIDFromHex(job.Payload.TaskID)
	if err != nil {
		return
	}

	if err := q.db.UpdateTaskStatus(ctx, taskID, model.TaskFailed); err != nil {
		log.Error().Err(err).Str("taskId", job.Payload.TaskID).Msg("Failed to fail abandoned task")
	}
	if err := q.blobs.Delete(ctx, job.Payload.BlobKey); err != nil {
		log.Error().Err(err).Str("blobKey", job.Payload.BlobKey).Msg("Failed to delete abandoned blob")
	}
}
