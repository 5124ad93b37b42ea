package s3listpressfx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/discochess/listpress"
	"github.com/discochess/listpress/internal/config"
	"github.com/discochess/listpress/internal/poller"
	"github.com/discochess/listpress/internal/store"
	"github.com/discochess/listpress/internal/store/memstore"
)

type oneShotSQS struct {
	mu      sync.Mutex
	sent    bool
	deleted chan string
}

func (q *oneShotSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	if !q.sent {
		q.sent = true
		q.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{{
			MessageId:     aws.String("m1"),
			ReceiptHandle: aws.String("r1"),
			Body:          aws.String(`{"Records":[{"s3":{"bucket":{"name":"lists"},"object":{"key":"wordlist/a.txt"}}}]}`),
		}}}, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *oneShotSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.deleted <- aws.ToString(in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestModule_ProcessesQueue(t *testing.T) {
	cfg := config.Default()
	cfg.Region = "eu-west-1"
	cfg.Queue.URL = "https://sqs.eu-west-1.amazonaws.com/123456789012/listpress"
	cfg.Metrics.Addr = "127.0.0.1:0"

	mem := memstore.New()
	mem.SetObject("lists", "wordlist/a.txt", []byte("hunter2\n"), nil)
	queue := &oneShotSQS{deleted: make(chan string, 1)}

	var pipeline *listpress.Pipeline
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Supply(zap.NewNop()),
		Module,
		fx.Decorate(func(store.Store) store.Store { return mem }),
		fx.Decorate(func(poller.Client) poller.Client { return queue }),
		fx.Populate(&pipeline),
	)
	app.RequireStart()

	select {
	case receipt := <-queue.deleted:
		if receipt != "r1" {
			t.Errorf("deleted receipt = %q, want r1", receipt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message was not processed")
	}

	app.RequireStop()

	if pipeline.Store() != mem {
		t.Error("pipeline does not use the decorated store")
	}
	if _, ok := mem.Object("lists", "wordlist/a.gz"); !ok {
		t.Error("target wordlist/a.gz not written")
	}
}
