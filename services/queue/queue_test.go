package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exportPayload struct {
	ExportID string `json:"export_id"`
}

func TestTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewTask(KindExport, exportPayload{ExportID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, KindExport, task.Kind)
	assert.NotEmpty(t, task.ID)

	var p exportPayload
	require.NoError(t, task.Decode(&p))
	assert.Equal(t, "abc", p.ExportID)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(context.Background(), Task{Kind: "unknown"})
	assert.ErrorIs(t, err, ErrNoHandler)

	called := false
	r.Handle("ping", func(ctx context.Context, task Task) error {
		called = true
		return nil
	})
	require.NoError(t, r.Dispatch(context.Background(), Task{Kind: "ping"}))
	assert.True(t, called)
}

func TestMemoryQueueRunsTasks(t *testing.T) {
	r := NewRegistry()
	var count int32
	var wg sync.WaitGroup
	r.Handle("count", func(ctx context.Context, task Task) error {
		defer wg.Done()
		atomic.AddInt32(&count, 1)
		return nil
	})
	r.Handle("fail", func(ctx context.Context, task Task) error {
		defer wg.Done()
		return errors.New("boom")
	})
	r.Handle("panic", func(ctx context.Context, task Task) error {
		defer wg.Done()
		panic("boom")
	})

	q := NewMemoryQueue(r, 3, 10)
	wg.Add(12)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Task{Kind: "count"}))
	}
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: "fail"}))
	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: "panic"}))
	wg.Wait()
	q.Close()

	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{Kind: "count"}), ErrQueueClosed)
	q.Close()
}

func TestMemoryQueueEnqueueHonorsContext(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	r.Handle("block", func(ctx context.Context, task Task) error {
		<-release
		return nil
	})
	q := NewMemoryQueue(r, 1, 0)
	defer func() {
		close(release)
		q.Close()
	}()

	require.NoError(t, q.Enqueue(context.Background(), Task{Kind: "block"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, Task{Kind: "block"}), context.DeadlineExceeded)
}

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	inbox    []types.Message
	deleted  []string
	sendErr  error
	received int
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	msgs := f.inbox
	f.inbox = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueEnqueue(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueueWithClient(fake, "https://sqs.local/tasks")

	task, err := NewTask(KindExport, exportPayload{ExportID: "e1"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), task))

	require.Len(t, fake.sent, 1)
	var decoded Task
	require.NoError(t, json.Unmarshal([]byte(fake.sent[0]), &decoded))
	assert.Equal(t, task.ID, decoded.ID)
	assert.Equal(t, KindExport, decoded.Kind)

	fake.sendErr = errors.New("throttled")
	assert.Error(t, q.Enqueue(context.Background(), task))
}

func TestSQSQueuePoll(t *testing.T) {
	task, err := NewTask(KindExport, exportPayload{ExportID: "e2"})
	require.NoError(t, err)
	body, err := json.Marshal(task)
	require.NoError(t, err)

	fake := &fakeSQS{inbox: []types.Message{
		{MessageId: aws.String("1"), ReceiptHandle: aws.String("r1"), Body: aws.String(string(body))},
		{MessageId: aws.String("2"), ReceiptHandle: aws.String("r2"), Body: aws.String("not json")},
	}}
	q := NewSQSQueueWithClient(fake, "https://sqs.local/tasks")

	var got []string
	r := NewRegistry()
	r.Handle(KindExport, func(ctx context.Context, task Task) error {
		var p exportPayload
		require.NoError(t, task.Decode(&p))
		got = append(got, p.ExportID)
		return nil
	})

	n, err := q.Poll(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e2"}, got)
	assert.Equal(t, []string{"r1", "r2"}, fake.deleted)
}

func TestSQSQueueConsumeStopsOnCancel(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueueWithClient(fake, "https://sqs.local/tasks")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, q.Consume(ctx, NewRegistry()))
}
