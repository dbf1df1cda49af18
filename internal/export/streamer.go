// Package export is the evidence receipt export streamer: a one-way,
// best-effort fan-out of prove receipts to Kafka (for downstream
// consumers) and S3 (for cold storage). It sits strictly downstream of
// the correctness-critical span (canonical-encode, sign, MMR append in
// internal/evidence.Orchestrator.Prove): nothing here can affect what
// gets signed or what gets appended, and if unconfigured the MMR and its
// bbolt store remain the sole durable record.
package export

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuanjing-labs/yuanjing-core/internal/canonical"
)

// Receipt is the minimal shape the streamer needs from an
// evidence.Receipt, kept separate so this package doesn't import
// internal/evidence (export is a one-way fan-out consumer, not a
// dependency of the signing path).
type Receipt struct {
	Root         string
	LeafPosition uint64
	Signature    string
	Evidence     map[string]interface{}
	At           time.Time
}

// Streamer drains an in-memory channel of receipts with bounded
// concurrency, publishing a canonical-JSON envelope of each to Kafka and
// archiving the same envelope to S3. There is no durable claim table and
// no retry backlog: a receipt that fails to export is logged and dropped,
// because the evidence itself is already durable in the MMR regardless of
// export outcome.
type Streamer struct {
	queue    chan Receipt
	producer Producer
	archiver Archiver
	sem      chan struct{}
	wg       sync.WaitGroup
}

// NewStreamer builds a Streamer with the given queue depth and bounded
// concurrency.
func NewStreamer(producer Producer, archiver Archiver, queueDepth, maxConcurrency int) *Streamer {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Streamer{
		queue:    make(chan Receipt, queueDepth),
		producer: producer,
		archiver: archiver,
		sem:      make(chan struct{}, maxConcurrency),
	}
}

// Enqueue hands a receipt to the streamer without blocking the caller's
// request path. If the queue is full the receipt is dropped and logged:
// backpressure here must never propagate back into Prove, since export is
// best-effort.
func (s *Streamer) Enqueue(r Receipt) {
	select {
	case s.queue <- r:
	default:
		log.Printf("[export.streamer] queue full, dropping receipt for leaf %d", r.LeafPosition)
	}
}

// Run drains the queue until ctx is cancelled, processing receipts with
// bounded concurrency, then waits for in-flight work to finish and closes
// the producer.
func (s *Streamer) Run(ctx context.Context) {
	log.Printf("[export.streamer] starting (concurrency=%d)", cap(s.sem))
	defer log.Printf("[export.streamer] stopped")

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return
		case r := <-s.queue:
			s.sem <- struct{}{}
			s.wg.Add(1)
			go func(r Receipt) {
				defer func() {
					<-s.sem
					s.wg.Done()
				}()
				if err := s.process(ctx, r); err != nil {
					log.Printf("[export.streamer] process leaf %d: %v", r.LeafPosition, err)
				}
			}(r)
		}
	}
}

func (s *Streamer) process(parent context.Context, r Receipt) error {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	envelope := map[string]interface{}{
		"root":      r.Root,
		"leafPos":   r.LeafPosition,
		"signature": r.Signature,
		"evidence":  r.Evidence,
		"ts":        r.At.Format(time.RFC3339Nano),
	}
	body, err := canonical.MarshalCanonical(envelope)
	if err != nil {
		return err
	}

	// A fresh id per export attempt, not derived from the leaf position,
	// so a re-exported receipt never collides with the first attempt's
	// archived object.
	id := uuid.New().String()

	if err := s.producer.Produce(ctx, []byte(r.Root), body); err != nil {
		return err
	}
	if err := s.archiver.Archive(ctx, id, r.At, body); err != nil {
		return err
	}
	return nil
}
