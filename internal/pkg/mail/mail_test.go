package mail

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/core/internal/pkg/taskqueue"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func TestRenderVerification(t *testing.T) {
	r, err := NewRenderer("LearnHub")
	require.NoError(t, err)

	msg, err := r.Render(TemplateVerification, "ada@example.com", map[string]interface{}{
		"name":             "Ada",
		"verificationCode": "123456",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ada@example.com"}, msg.To)
	assert.Equal(t, "Verify your email", msg.Subject)
	assert.Contains(t, msg.HTML, "<h1>Verify Your Email</h1>")
	assert.Contains(t, msg.HTML, "<strong>Ada</strong>")
	assert.Contains(t, msg.HTML, "123456")
	assert.Contains(t, msg.HTML, "LearnHub")
}

func TestRenderDropsRawHTML(t *testing.T) {
	r, err := NewRenderer("LearnHub")
	require.NoError(t, err)

	msg, err := r.Render(TemplatePaymentFailed, "x@example.com", map[string]interface{}{
		"name":   "<script>alert(1)</script>",
		"reason": "card declined",
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "card declined")
}

func TestRenderClassReminder(t *testing.T) {
	r, err := NewRenderer("LearnHub")
	require.NoError(t, err)

	msg, err := r.Render(TemplateClassReminder, "ada@example.com", map[string]interface{}{
		"name":        "Ada",
		"classTitle":  "Goroutines 101",
		"batchName":   "Spring cohort",
		"courseName":  "Go Backend",
		"startsAt":    "2026-03-01 10:00 UTC",
		"meetingLink": "https://meet.example.com/go",
	})
	require.NoError(t, err)
	assert.Equal(t, "Upcoming Class Reminder", msg.Subject)
	assert.Contains(t, msg.HTML, "<strong>Goroutines 101</strong>")
	assert.Contains(t, msg.HTML, `href="https://meet.example.com/go"`)

	msg, err = r.Render(TemplateClassReminder, "ada@example.com", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "Join the class")
}

func TestRenderAllTemplates(t *testing.T) {
	r, err := NewRenderer("LearnHub")
	require.NoError(t, err)

	for name := range templateSources {
		msg, err := r.Render(name, "someone@example.com", map[string]interface{}{"paymentId": "pay-1"})
		require.NoError(t, err, name)
		assert.NotEmpty(t, msg.Subject, name)
		assert.True(t, strings.HasPrefix(msg.HTML, "<!DOCTYPE html>"), name)
	}

	_, err = r.Render("nope", "a@b.c", nil)
	assert.Error(t, err)
}

func TestTaskHandler(t *testing.T) {
	m := &recordingMailer{}
	payload, err := json.Marshal(Message{To: []string{"a@example.com"}, Subject: "Hi", HTML: "<p>x</p>"})
	require.NoError(t, err)

	h := TaskHandler(m)
	require.NoError(t, h(context.Background(), &taskqueue.Task{Type: TaskType, Payload: payload}))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Hi", m.sent[0].Subject)

	m.err = errors.New("smtp down")
	assert.Error(t, h(context.Background(), &taskqueue.Task{Type: TaskType, Payload: payload}))
}

func TestDisabledSenderDrops(t *testing.T) {
	s := New(Config{Enable: false})
	assert.NoError(t, s.Send(context.Background(), Message{To: []string{"a@example.com"}}))

	s = New(Config{Enable: true})
	assert.Error(t, s.Send(context.Background(), Message{}))
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("noreply@learnhub.dev", "support@learnhub.dev", Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Hello",
		HTML:    "<p>body</p>",
	}))
	assert.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, raw, "Reply-To: support@learnhub.dev\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>body</p>"))
}
