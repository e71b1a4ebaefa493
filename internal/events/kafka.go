package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
)

// InvoiceCreatedType is the type attribute of invoice creation events.
const InvoiceCreatedType = "invoice.created"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a Kafka notifier.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish. Defaults to 5s.
	WriteTimeout time.Duration
}

// Kafka publishes events as JSON messages keyed by order id.
type Kafka struct {
	writer messageWriter
	lg     *zap.Logger
	now    func() time.Time
}

var _ reconcile.Notifier = (*Kafka)(nil)

// NewKafka creates a Kafka notifier.
func NewKafka(opts KafkaOptions, lg *zap.Logger) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       zap.NewStdLog(lg.With(zap.String("kafka_component", "producer"))),
		ErrorLogger:  zap.NewStdLog(lg.With(zap.String("kafka_component", "producer"))),
	}
	lg.Info("Kafka producer initialized", zap.Strings("brokers", opts.Brokers), zap.String("topic", opts.Topic))
	return newKafka(w, lg), nil
}

func newKafka(w messageWriter, lg *zap.Logger) *Kafka {
	return &Kafka{writer: w, lg: lg, now: time.Now}
}

// InvoiceCreated implements reconcile.Notifier.
func (k *Kafka) InvoiceCreated(ctx context.Context, ev reconcile.InvoiceCreated) error {
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: encodeInvoiceCreated(uuid.New(), k.now().UTC(), ev),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(InvoiceCreatedType)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "publish invoice created")
	}
	k.lg.Debug("Published event", zap.String("type", InvoiceCreatedType), zap.String("order_id", ev.OrderID))
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return errors.Wrap(err, "close kafka writer")
	}
	return nil
}

func encodeInvoiceCreated(id uuid.UUID, at time.Time, ev reconcile.InvoiceCreated) []byte {
	e := &jx.Encoder{}
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_id", func(e *jx.Encoder) { e.Str(id.String()) })
		e.Field("type", func(e *jx.Encoder) { e.Str(InvoiceCreatedType) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(at.Format(time.RFC3339Nano)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("order_name", func(e *jx.Encoder) { e.Str(ev.OrderName) })
		e.Field("email", func(e *jx.Encoder) { e.Str(ev.Email) })
		e.Field("invoice_url", func(e *jx.Encoder) { e.Str(ev.InvoiceURL) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(ev.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(ev.Currency) })
	})
	return e.Bytes()
}
