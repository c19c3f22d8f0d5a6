package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/core/internal/pkg/mail"
	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/taskqueue"
)

type fakeQueue struct {
	calls []string
	msgs  []mail.Message
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, taskType string, payload interface{}, dedupKey string) (*taskqueue.Task, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.calls = append(q.calls, taskType+"|"+dedupKey)
	q.msgs = append(q.msgs, payload.(mail.Message))
	return &taskqueue.Task{ID: dedupKey}, nil
}

func renderer(t *testing.T) *mail.Renderer {
	t.Helper()
	r, err := mail.NewRenderer("LearnHub")
	require.NoError(t, err)
	return r
}

func TestNewAssignsID(t *testing.T) {
	a := New(UserRegistered, "a@example.com", "", nil)
	b := New(UserRegistered, "a@example.com", "", nil)
	assert.Len(t, a.ID, 26)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}

func TestDispatchEnqueuesMail(t *testing.T) {
	q := &fakeQueue{}
	d := NewDispatcher(q, renderer(t), nil)

	d.Dispatch(context.Background(),
		New(UserRegistered, "ada@example.com", "verify:u1", map[string]interface{}{"name": "Ada", "verificationCode": "654321"}),
		New(PaymentVerified, "ada@example.com", "payment-success:p1", map[string]interface{}{"name": "Ada"}),
		New(Type("unknown"), "ada@example.com", "x", nil),
		New(PaymentRejected, "", "payment-failed:p2", nil),
	)

	assert.Equal(t, []string{mail.TaskType + "|verify:u1", mail.TaskType + "|payment-success:p1"}, q.calls)
	assert.Equal(t, "Verify your email", q.msgs[0].Subject)
	assert.Contains(t, q.msgs[0].HTML, "654321")
	assert.Equal(t, "Payment Successful", q.msgs[1].Subject)
}

func TestDispatchSwallowsErrors(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	d := NewDispatcher(q, renderer(t), nil)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), New(PasswordResetRequested, "a@example.com", "reset:1", nil))
	})

	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() { nilDispatcher.Dispatch(context.Background(), New(UserRegistered, "a", "", nil)) })
}

func TestDispatchThroughQueueIsDeduplicated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := taskqueue.NewService(redis.New(rdb))
	d := NewDispatcher(svc, renderer(t), nil)
	ctx := context.Background()

	ev := New(PaymentSubmitted, "admin@example.com", "payment-submitted:p1", map[string]interface{}{"paymentId": "p1"})
	d.Dispatch(ctx, ev)
	d.Dispatch(ctx, ev)

	n, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sent := make(chan mail.Message, 1)
	w := taskqueue.NewWorker(svc, taskqueue.WorkerOptions{})
	w.Handle(mail.TaskType, mail.TaskHandler(mailerFunc(func(_ context.Context, msg mail.Message) error {
		sent <- msg
		return nil
	})))
	took, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, took)

	msg := <-sent
	assert.Equal(t, []string{"admin@example.com"}, msg.To)
	assert.Equal(t, "New Payment Submitted", msg.Subject)
	assert.Contains(t, msg.HTML, "p1")
}

type mailerFunc func(ctx context.Context, msg mail.Message) error

func (f mailerFunc) Send(ctx context.Context, msg mail.Message) error { return f(ctx, msg) }
