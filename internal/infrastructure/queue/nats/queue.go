// Package nats is the durable job queue between the chat API and the
// worker. Jobs travel as JSON on a single subject consumed by a queue
// group, so adding workers scales consumption without re-delivery.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
	"github.com/dobongcare/welfare-chatbot/internal/infrastructure/resilience"
)

const workerGroup = "chat-workers"

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor

	mu  sync.Mutex
	sub *nats.Subscription
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("welfare-chatbot"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	q.mu.Lock()
	if q.sub != nil {
		_ = q.sub.Drain()
		q.sub = nil
	}
	q.mu.Unlock()
	if q.conn != nil {
		q.conn.Close()
	}
}

// Healthy reports whether the broker connection is currently usable. The
// dispatcher probes this per request to pick the delivery mode.
func (q *Queue) Healthy() bool {
	return q.conn != nil && q.conn.IsConnected()
}

// Publish enqueues one job.
func (q *Queue) Publish(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Next blocks up to timeout for the next job. ok=false on timeout lets the
// worker loop check for shutdown between polls.
func (q *Queue) Next(timeout time.Duration) (domain.Job, bool, error) {
	sub, err := q.subscription()
	if err != nil {
		return domain.Job{}, false, err
	}

	msg, err := sub.NextMsg(timeout)
	if errors.Is(err, nats.ErrTimeout) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, wrapTemporaryIfNeeded(fmt.Errorf("nats next: %w", err))
	}

	var job domain.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}

func (q *Queue) subscription() (*nats.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sub != nil {
		return q.sub, nil
	}
	sub, err := q.conn.QueueSubscribeSync(q.subject, workerGroup)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	q.sub = sub
	return sub, nil
}
