package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"policy-core/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishNotificationKeysByReport(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w, topic: "notifications", logger: zap.NewNop()}

	n := models.Notification{
		ID:              "n-1",
		Type:            models.NotificationUrgent,
		Title:           "Critical Patient Report",
		RelatedReportID: "r-9",
		CreatedAt:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishNotification(context.Background(), n))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "r-9", string(msg.Key))
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, "urgent", string(msg.Headers[0].Value))

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, n.Title, decoded.Title)
}

func TestPublishNotificationWithoutReportUsesID(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w, logger: zap.NewNop()}

	require.NoError(t, p.PublishNotification(context.Background(), models.Notification{ID: "sys-1", Type: models.NotificationSystem}))
	assert.Equal(t, "sys-1", string(w.msgs[0].Key))
}

func TestPublishNotificationWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaProducer{writer: &recordingWriter{err: boom}, logger: zap.NewNop()}

	err := p.PublishNotification(context.Background(), models.Notification{ID: "x"})
	assert.ErrorIs(t, err, boom)
}
