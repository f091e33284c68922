// Package kafka ingests lapse notices published by the carrier feed.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
)

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

// Ingester opens a conservation alert for a lapse notice.
type Ingester interface {
	Ingest(ctx context.Context, n models.LapseNotice) (models.ConservationAlert, error)
}

type Consumer struct {
	reader *kafka.Reader
	svc    Ingester
	logger *logging.Logger
}

func NewConsumer(cfg Config, svc Ingester, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{cfg.Broker},
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	})
	return &Consumer{reader: r, svc: svc, logger: logger.With("topic", cfg.Topic)}
}

// Start reads until ctx is canceled. Every message is committed once handled,
// including malformed ones, so a bad payload cannot block the partition.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started")

		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}

			if err := c.handle(ctx, msg.Value); err != nil {
				c.logger.Errorf("Lapse notice at offset %d dropped: %v", msg.Offset, err)
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var notice models.LapseNotice
	if err := json.Unmarshal(value, &notice); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if notice.AgentID == "" {
		return errors.New("missing agent_id")
	}

	alert, err := c.svc.Ingest(ctx, notice)
	if err != nil {
		return err
	}
	c.logger.With("alert_id", alert.ID).Infof("Processed lapse notice")
	return nil
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warnf("Close reader failed: %v", err)
	}
}
