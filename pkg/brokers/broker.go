package brokers

import (
	"context"
	"fmt"

	"github.com/joseanu/mssql-converter/pkg/core/outcome"
)

// Publisher отправляет события конвертации в очередь или topic
type Publisher interface {
	// Connect устанавливает соединение с брокером
	Connect(ctx context.Context) error

	// Close закрывает соединение с брокером
	Close() error

	// Send отправляет сообщение; key - идентификатор сообщения
	// (MessageId в RabbitMQ, ключ партиционирования в Kafka)
	Send(ctx context.Context, key string, message []byte) error

	// Ping проверяет доступность брокера
	Ping(ctx context.Context) error

	// Type возвращает тип брокера (rabbitmq, kafka)
	Type() string
}

// Config содержит параметры подключения к брокеру
type Config struct {
	Type     string `yaml:"type"` // rabbitmq, kafka
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"tls"`

	// RabbitMQ
	Queue      string `yaml:"queue"`
	Exchange   string `yaml:"exchange"`    // пустая строка = default exchange
	RoutingKey string `yaml:"routing_key"` // пустая строка = имя очереди
	Durable    bool   `yaml:"durable"`     // должно совпадать с существующей очередью

	// Kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// New создает Publisher по конфигурации
func New(cfg Config) (Publisher, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMQ(cfg)
	case "kafka":
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %q (supported: rabbitmq, kafka)", cfg.Type)
	}
}

// EventSink публикует итоги конвертаций через Publisher
type EventSink struct {
	publisher Publisher
}

// NewEventSink оборачивает подключенный Publisher
func NewEventSink(p Publisher) *EventSink {
	return &EventSink{publisher: p}
}

// Publish отправляет итог как JSON; ключ сообщения - ID события
func (s *EventSink) Publish(ctx context.Context, r outcome.Record) error {
	payload, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := s.publisher.Send(ctx, r.ID, payload); err != nil {
		return fmt.Errorf("%s: %w", s.publisher.Type(), err)
	}
	return nil
}

func (s *EventSink) Close() error {
	return s.publisher.Close()
}
