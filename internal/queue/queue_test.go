package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ingest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/leaselock"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	queue string
	msg   amqp091.Publishing
}

type fakeChannel struct {
	published []published
	declared  map[string]amqp091.Table
	err       error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{queue: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	if f.declared == nil {
		f.declared = map[string]amqp091.Table{}
	}
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return nil
}

func delivery(body string, retries any) (amqp091.Delivery, *fakeAck) {
	ack := &fakeAck{}
	d := amqp091.Delivery{Acknowledger: ack, Body: []byte(body)}
	if retries != nil {
		d.Headers = amqp091.Table{"x-retries": retries}
	}
	return d, ack
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{IngestQueue}); err != nil {
		t.Fatalf("SetupQueues: %v", err)
	}
	for _, name := range []string{"ingest_queue", "ingest_queue_dlq", "ingest_queue_retry"} {
		if _, ok := ch.declared[name]; !ok {
			t.Fatalf("queue %s not declared", name)
		}
	}
	retry := ch.declared["ingest_queue_retry"]
	if retry["x-dead-letter-routing-key"] != IngestQueue || retry["x-message-ttl"] != int32(10000) {
		t.Fatalf("unexpected retry args %v", retry)
	}
}

func TestHandleDeliveryRouting(t *testing.T) {
	failing := func(context.Context, []byte) error { return errors.New("store unavailable") }

	tests := []struct {
		name        string
		retries     any
		process     ProcessFunc
		wantQueue   string
		wantRetries int
	}{
		{name: "success acks", process: func(context.Context, []byte) error { return nil }},
		{name: "first failure retries", process: failing, wantQueue: "ingest_queue_retry", wantRetries: 1},
		{name: "counts int64 headers", retries: int64(4), process: failing, wantQueue: "ingest_queue_retry", wantRetries: 5},
		{name: "exhausted goes to dlq", retries: int32(10), process: failing, wantQueue: "ingest_queue_dlq", wantRetries: 10},
		{
			name:        "permanent goes to dlq",
			process:     func(context.Context, []byte) error { return ErrPermanent },
			wantQueue:   "ingest_queue_dlq",
			wantRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			d, ack := delivery(`{}`, tt.retries)
			HandleDelivery(context.Background(), ch, d, IngestQueue, tt.process)

			if !ack.acked {
				t.Fatalf("message should be acked")
			}
			if tt.wantQueue == "" {
				if len(ch.published) != 0 {
					t.Fatalf("unexpected publish %+v", ch.published)
				}
				return
			}
			if len(ch.published) != 1 || ch.published[0].queue != tt.wantQueue {
				t.Fatalf("published = %+v, want %s", ch.published, tt.wantQueue)
			}
			if got := retryCount(ch.published[0].msg.Headers); got != tt.wantRetries {
				t.Fatalf("x-retries = %d, want %d", got, tt.wantRetries)
			}
		})
	}
}

func TestHandleDeliveryRequeuesWhenRerouteFails(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	d, ack := delivery(`{}`, nil)
	HandleDelivery(context.Background(), ch, d, IngestQueue, func(context.Context, []byte) error { return errors.New("x") })
	if ack.acked || !ack.nacked || !ack.requeued {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

type fakeIngester struct {
	dirs []string
	docs []string
	err  error
}

func (f *fakeIngester) Ingest(ctx context.Context, dir string) (ingest.Result, error) {
	f.dirs = append(f.dirs, dir)
	return ingest.Result{Documents: []string{"a"}, Chunks: 2}, f.err
}

func (f *fakeIngester) AddDocument(ctx context.Context, doc common.Document) (ingest.Result, error) {
	f.docs = append(f.docs, doc.ID)
	return ingest.Result{Documents: []string{doc.ID}, Chunks: 1}, f.err
}

type fakeLocker struct {
	keys []string
	busy bool
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.busy {
		return leaselock.ErrBusy
	}
	return fn(ctx)
}

func TestIngestProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("directory job holds the lease", func(t *testing.T) {
		ing, lock := &fakeIngester{}, &fakeLocker{}
		p := &IngestProcessor{Ingestor: ing, Locker: lock, PendingDir: "/data/pending"}
		if err := p.Process(ctx, []byte(`{"job_id": "j1"}`)); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(ing.dirs) != 1 || ing.dirs[0] != "/data/pending" {
			t.Fatalf("dirs = %v", ing.dirs)
		}
		if len(lock.keys) != 1 || lock.keys[0] != leaselock.IngestKey {
			t.Fatalf("lease keys = %v", lock.keys)
		}
	})

	t.Run("busy lease skips the run", func(t *testing.T) {
		ing := &fakeIngester{}
		p := &IngestProcessor{Ingestor: ing, Locker: &fakeLocker{busy: true}, PendingDir: "/data/pending"}
		if err := p.Process(ctx, []byte(`{"directory": "/x"}`)); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(ing.dirs) != 0 {
			t.Fatalf("ingest should not run, got %v", ing.dirs)
		}
	})

	t.Run("document job does not scan", func(t *testing.T) {
		ing := &fakeIngester{}
		p := &IngestProcessor{Ingestor: ing, PendingDir: "/data/pending"}
		body, _ := json.Marshal(IngestJobMsg{JobID: "j2", Documents: []common.Document{{ID: "d1", Text: "x"}, {ID: "d2", Text: "y"}}})
		if err := p.Process(ctx, body); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(ing.docs) != 2 || len(ing.dirs) != 0 {
			t.Fatalf("docs = %v, dirs = %v", ing.docs, ing.dirs)
		}
	})

	errorCases := []struct {
		name          string
		body          string
		err           error
		wantNil       bool
		wantPermanent bool
	}{
		{name: "malformed body", body: `{`, wantPermanent: true},
		{name: "no documents", body: `{}`, err: common.ErrNoDocuments, wantNil: true},
		{name: "configuration", body: `{}`, err: common.ErrConfiguration, wantPermanent: true},
		{name: "connectivity retries", body: `{}`, err: common.Connectivity("upsert", "pgvector", "a", errors.New("timeout"))},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			p := &IngestProcessor{Ingestor: &fakeIngester{err: tt.err}, PendingDir: "/data/pending"}
			err := p.Process(ctx, []byte(tt.body))
			if tt.wantNil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, ErrPermanent) != tt.wantPermanent {
				t.Fatalf("permanent = %v for %v", !tt.wantPermanent, err)
			}
		})
	}
}

func TestEnqueueIngest(t *testing.T) {
	ch := &fakeChannel{}
	id, err := EnqueueIngest(context.Background(), ch, IngestJobMsg{Directory: "/data/pending", RequestedBy: "curator"})
	if err != nil {
		t.Fatalf("EnqueueIngest: %v", err)
	}
	if id == "" || len(ch.published) != 1 || ch.published[0].queue != IngestQueue {
		t.Fatalf("id = %q, published = %+v", id, ch.published)
	}
	var job IngestJobMsg
	if err := json.Unmarshal(ch.published[0].msg.Body, &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.JobID != id || job.Directory != "/data/pending" || job.RequestedAt.IsZero() {
		t.Fatalf("unexpected job %+v", job)
	}
	if ch.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Fatalf("jobs must be persistent")
	}
}
