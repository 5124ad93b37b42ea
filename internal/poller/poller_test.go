package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/discochess/listpress/internal/event"
	"github.com/discochess/listpress/internal/stats"
)

const queueURL = "https://sqs.eu-west-1.amazonaws.com/123456789012/listpress"

type fakeSQS struct {
	mu         sync.Mutex
	batches    [][]types.Message
	receiveErr error
	deleted    []string
	onEmpty    func()
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(in.QueueUrl) != queueURL {
		return nil, fmt.Errorf("unexpected queue %q", aws.ToString(in.QueueUrl))
	}
	if f.receiveErr != nil {
		err := f.receiveErr
		f.receiveErr = nil
		return nil, err
	}
	if len(f.batches) == 0 {
		if f.onEmpty != nil {
			f.onEmpty()
		}
		return &sqs.ReceiveMessageOutput{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func message(id, receipt, key string) types.Message {
	body := fmt.Sprintf(`{"Records":[{"awsRegion":"eu-west-1","s3":{"bucket":{"name":"lists"},"object":{"key":%q}}}]}`, key)
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(body),
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	records []event.Record
	err     error
}

func (h *recordingHandler) Handle(_ context.Context, rec event.Record) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if h.err != nil {
		return "", h.err
	}
	return "Done.", nil
}

func TestNew_RequiresQueue(t *testing.T) {
	if _, err := New(&fakeSQS{}, "", &recordingHandler{}, 0); !errors.Is(err, ErrNoQueue) {
		t.Errorf("New() error = %v, want ErrNoQueue", err)
	}
}

func TestPollOnce_ProcessesAndDeletes(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{
		message("m1", "r1", "wordlist/a.txt"),
		message("m2", "r2", "rules/b+c.rule"),
	}}}
	h := &recordingHandler{}
	p, err := New(client, queueURL, h, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PollOnce() = %d, want 2", n)
	}

	if len(h.records) != 2 || h.records[1].Key != "rules/b c.rule" {
		t.Errorf("handled records = %+v", h.records)
	}
	if got := client.Deleted(); len(got) != 2 || got[0] != "r1" || got[1] != "r2" {
		t.Errorf("deleted = %v, want [r1 r2]", got)
	}
}

func TestPollOnce_LogsRecord(t *testing.T) {
	msg := message("m1", "r1", "wordlist/a.txt")
	msg.Body = aws.String(`{"Records":[{"awsRegion":"eu-west-1","s3":{"bucket":{"name":"lists"},"object":{"key":"wordlist/a.txt","size":1048576}}}]}`)
	client := &fakeSQS{batches: [][]types.Message{{msg}}}
	core, logs := observer.New(zapcore.InfoLevel)
	p, err := New(client, queueURL, &recordingHandler{}, 0, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	entries := logs.FilterMessage("processing notification").All()
	if len(entries) != 1 {
		t.Fatalf("got %d processing entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["size"] != int64(1048576) {
		t.Errorf("size = %v, want 1048576", fields["size"])
	}
	if fields["region"] != "eu-west-1" || fields["object"] != "lists/wordlist/a.txt" {
		t.Errorf("fields = %v", fields)
	}
}

func TestPollOnce_FailedInvocationStillDeletes(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{message("m1", "r1", "malware/x.bin")}}}
	h := &recordingHandler{err: errors.New("'malware' is not a valid type")}
	p, _ := New(client, queueURL, h, 0)

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if got := client.Deleted(); len(got) != 1 {
		t.Errorf("deleted = %v, want [r1]", got)
	}
}

func TestPollOnce_SkipsDuplicates(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{
		{message("m1", "r1", "wordlist/a.txt")},
		{message("m1", "r1-again", "wordlist/a.txt")},
	}}
	h := &recordingHandler{}
	collector := stats.NewMemory()
	p, _ := New(client, queueURL, h, 8, WithStats(collector))

	for i := 0; i < 2; i++ {
		if _, err := p.PollOnce(context.Background()); err != nil {
			t.Fatalf("PollOnce() error = %v", err)
		}
	}

	if len(h.records) != 1 {
		t.Errorf("handled %d records, want 1", len(h.records))
	}
	if got := client.Deleted(); len(got) != 2 || got[1] != "r1-again" {
		t.Errorf("deleted = %v, want duplicate deleted too", got)
	}
	if got := collector.Counter(stats.MetricMessagesDuplicate); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricMessagesDuplicate, got)
	}
}

func TestPollOnce_DropsInvalidBodies(t *testing.T) {
	bad := types.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`),
	}
	client := &fakeSQS{batches: [][]types.Message{{bad}}}
	h := &recordingHandler{}
	collector := stats.NewMemory()
	p, _ := New(client, queueURL, h, 0, WithStats(collector))

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if len(h.records) != 0 {
		t.Errorf("handled %d records, want 0", len(h.records))
	}
	if got := client.Deleted(); len(got) != 1 {
		t.Errorf("deleted = %v, want [r1]", got)
	}
	if got := collector.Counter(stats.MetricMessagesInvalid); got != 1 {
		t.Errorf("%s = %d, want 1", stats.MetricMessagesInvalid, got)
	}
}

func TestPollOnce_TimeoutLeavesMessage(t *testing.T) {
	client := &fakeSQS{batches: [][]types.Message{{message("m1", "r1", "wordlist/a.txt")}}}
	h := HandlerFunc(func(ctx context.Context, _ event.Record) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p, _ := New(client, queueURL, h, 0, WithProcessTimeout(10*time.Millisecond))

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if got := client.Deleted(); len(got) != 0 {
		t.Errorf("deleted = %v, want none", got)
	}
	if p.seen.Contains("m1") {
		t.Error("abandoned message marked as seen")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeSQS{
		receiveErr: errors.New("throttled"),
		batches:    [][]types.Message{{message("m1", "r1", "wordlist/a.txt")}},
		onEmpty:    cancel,
	}
	h := &recordingHandler{}
	p, _ := New(client, queueURL, h, 0, WithErrorBackoff(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if len(h.records) != 1 {
		t.Errorf("handled %d records, want 1", len(h.records))
	}
}
