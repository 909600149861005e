package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/infra/kafka"
)

// KafkaProducer adapts the teacher's push-style sarama consumer group
// client to the pull-style FetchEvents contract §6 describes: a
// background goroutine feeds a bounded channel via KafkaClient.Consumer,
// and FetchEvents drains whatever is already buffered without blocking.
type KafkaProducer struct {
	logger *slog.Logger
	client *kafka.KafkaClient
	topic  string

	mu         sync.Mutex
	lastOffset string
	cancel     context.CancelFunc
	stopped    bool

	buffer chan string
}

func NewKafkaProducer(logger *slog.Logger, client *kafka.KafkaClient, topic string) *KafkaProducer {
	return &KafkaProducer{
		logger: logger,
		client: client,
		topic:  topic,
		buffer: make(chan string, 4096),
	}
}

func (p *KafkaProducer) Start(ctx context.Context, cfg domain.ConnectorConfig) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	handler := func(messages []kafka.Message) error {
		for _, m := range messages {
			select {
			case p.buffer <- string(m.Value):
			case <-runCtx.Done():
				return nil
			}
			p.mu.Lock()
			p.lastOffset = m.Key
			p.mu.Unlock()
		}
		return nil
	}

	go func() {
		if err := p.client.Consumer(runCtx, handler, p.topic); err != nil {
			p.logger.Error("kafka producer consume loop exited", "connector", cfg.Name, "err", err)
		}
	}()

	return nil
}

// FetchEvents drains whatever is already buffered, non-blocking.
func (p *KafkaProducer) FetchEvents(ctx context.Context) ([]string, error) {
	var out []string
	for {
		select {
		case ev := <-p.buffer:
			out = append(out, ev)
		default:
			return out, nil
		}
	}
}

// GetOffset returns the last consumed message's key as the opaque offset
// descriptor; consumer-group offset commits remain the broker's job.
func (p *KafkaProducer) GetOffset(ctx context.Context, db string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOffset, nil
}

// SetOffset is a no-op beyond bookkeeping: the consumer group's committed
// offsets already govern replay position on restart.
func (p *KafkaProducer) SetOffset(ctx context.Context, db string, offset string, file string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOffset = offset
	return nil
}

func (p *KafkaProducer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
