// Package writer buffers analytics writes behind a bounded channel so a
// slow database never adds latency to the request path: Save enqueues
// with a short timeout and drops on backpressure; a background actor
// batches and flushes.
package writer

import (
	"context"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/metrics"
	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/visitor"
)

const (
	channelCapacity = 65536
	batchMax        = 1024
	enqueueTimeout  = 50 * time.Millisecond
	batchWindow     = time.Second
)

// RequestLogStore is the subset of the store a request-log writer needs.
type RequestLogStore interface {
	SaveRequests(ctx context.Context, requests []store.RequestLog) error
	UpdateVisits(ctx context.Context, visits []store.Visit) error
}

// RequestLogWriter is a fire-and-forget sink for served-request records.
type RequestLogWriter struct {
	ch chan store.RequestLog
}

// NewRequestLogWriter starts the background batch actor and returns a
// writer ready to accept Save calls.
func NewRequestLogWriter(ctx context.Context, db RequestLogStore) *RequestLogWriter {
	w := &RequestLogWriter{ch: make(chan store.RequestLog, channelCapacity)}
	go requestLogActor(ctx, w.ch, db)
	return w
}

// Save enqueues a request log row. If the channel is full for longer than
// the enqueue timeout the row is dropped; this never blocks the caller's
// own request handling beyond that timeout.
func (w *RequestLogWriter) Save(r store.RequestLog) {
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case w.ch <- r:
	case <-timer.C:
		applog.Error("unable to log request: channel full after %s", enqueueTimeout)
		metrics.WritePipelineDropsInc("request_log")
	}
}

func requestLogActor(ctx context.Context, ch <-chan store.RequestLog, db RequestLogStore) {
	buffer := make([]store.RequestLog, 0, batchMax)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			buffer = append(buffer, r)
			buffer = drainRequestLogBatch(ctx, ch, buffer)
			metrics.WritePipelineQueueDepthSet("request_log", len(ch))
			flushRequestLogs(ctx, db, buffer)
			buffer = buffer[:0]
		}
	}
}

// drainRequestLogBatch accumulates more rows for up to batchWindow beyond
// the first one, or until the batch hits batchMax, whichever comes first.
func drainRequestLogBatch(ctx context.Context, ch <-chan store.RequestLog, buffer []store.RequestLog) []store.RequestLog {
	deadline := time.Now().Add(batchWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buffer
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return buffer
		case r, ok := <-ch:
			timer.Stop()
			if !ok {
				return buffer
			}
			buffer = append(buffer, r)
			if len(buffer) >= batchMax {
				return buffer
			}
		case <-timer.C:
			return buffer
		}
	}
}

// flushRequestLogs is the two-phase flush: phase A inserts the raw rows,
// phase B aggregates them in memory into Visit upserts.
func flushRequestLogs(ctx context.Context, db RequestLogStore, rows []store.RequestLog) {
	if len(rows) == 0 {
		return
	}
	metrics.WritePipelineFlushSizeObserve("request_log", len(rows))
	if err := db.SaveRequests(ctx, rows); err != nil {
		applog.Error("unable to save requests to db: %v", err)
	}
	visits := mergeRequestLogs(rows)
	if err := db.UpdateVisits(ctx, visits); err != nil {
		applog.Error("unable to update visits in db: %v", err)
	}
}

func mergeRequestLogs(rows []store.RequestLog) []store.Visit {
	byVisitor := make(map[visitor.Hash]*store.Visit, len(rows))
	order := make([]visitor.Hash, 0, len(rows))
	for _, r := range rows {
		v, ok := byVisitor[r.Visitor]
		if !ok {
			v = &store.Visit{
				FirstRequestTime: r.Time,
				LastRequestTime:  r.Time,
				Visitor:          r.Visitor,
				Version:          r.Version,
			}
			byVisitor[r.Visitor] = v
			order = append(order, r.Visitor)
		}
		v.RequestCount++
		v.LastRequestTime = r.Time
	}
	visits := make([]store.Visit, 0, len(order))
	for _, h := range order {
		visits = append(visits, *byVisitor[h])
	}
	return visits
}
