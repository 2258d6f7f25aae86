package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"studio-booking/internal/models"
)

// Default topic names carried by the booking service.
const (
	TopicBookingConfirmed   = "studio.booking.confirmed"
	TopicBookingRescheduled = "studio.booking.rescheduled"
	TopicBookingCancelled   = "studio.booking.cancelled"
)

type Producer struct {
	confirmed   *kafka.Writer
	rescheduled *kafka.Writer
	cancelled   *kafka.Writer
}

func NewProducer(brokers []string, confirmedTopic, rescheduledTopic, cancelledTopic string) *Producer {
	writer := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{
		confirmed:   writer(confirmedTopic),
		rescheduled: writer(rescheduledTopic),
		cancelled:   writer(cancelledTopic),
	}
}

func (p *Producer) publish(w *kafka.Writer, r *models.Reservation) error {
	msgBytes, err := json.Marshal(r)
	if err != nil {
		return err
	}

	fmt.Printf("Publishing to Kafka [%s]: %s\n", w.Topic, string(msgBytes))

	return w.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(strconv.FormatInt(r.ID, 10)),
			Value: msgBytes,
		},
	)
}

// PublishBookingConfirmed streams the confirmation event to Kafka.
func (p *Producer) PublishBookingConfirmed(r *models.Reservation) error {
	return p.publish(p.confirmed, r)
}

// PublishBookingRescheduled streams the reschedule event to Kafka.
func (p *Producer) PublishBookingRescheduled(r *models.Reservation) error {
	return p.publish(p.rescheduled, r)
}

// PublishBookingCancelled streams the cancellation event to Kafka.
func (p *Producer) PublishBookingCancelled(r *models.Reservation) error {
	return p.publish(p.cancelled, r)
}

func (p *Producer) Close() error {
	for _, w := range []*kafka.Writer{p.confirmed, p.rescheduled, p.cancelled} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}
