// Package smschannel adapts an NSQ topic into the gateway's message
// channel. A forwarder app on the phone publishes each received SMS as
// a JSON event; NSQ's at-least-once delivery matches the OS channel
// contract (no delivery-count guarantee, redelivery possible).
package smschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

// smsEvent is the wire format published by the forwarder.
type smsEvent struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body,omitempty"`
	Parts      []string  `json:"parts,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NSQChannel consumes SMS events from an NSQ topic.
type NSQChannel struct {
	topic       string
	channel     string
	lookupdAddr string
	logger      *zap.Logger

	consumer *nsq.Consumer
}

// NewNSQChannel creates the channel. Subscription does not start until
// Subscribe is called.
func NewNSQChannel(topic, channel, lookupdAddr string, logger *zap.Logger) *NSQChannel {
	return &NSQChannel{
		topic:       topic,
		channel:     channel,
		lookupdAddr: lookupdAddr,
		logger:      logger,
	}
}

// Subscribe connects to nsqlookupd and delivers every event to the
// handler. Handler errors never requeue: the pipeline absorbs its own
// failures, and a poison message must not loop forever.
func (c *NSQChannel) Subscribe(ctx context.Context, handler port.MessageHandler) error {
	cfg := nsq.NewConfig()
	cfg.MaxInFlight = 4

	consumer, err := nsq.NewConsumer(c.topic, c.channel, cfg)
	if err != nil {
		return fmt.Errorf("create nsq consumer: %w", err)
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.Touch()

		var ev smsEvent
		if err := json.Unmarshal(m.Body, &ev); err != nil {
			c.logger.Warn("smschannel: undecodable event dropped", zap.Error(err))
			m.Finish()
			return nil
		}

		msg := domain.InboundMessage{
			Sender:     ev.Sender,
			Parts:      ev.Parts,
			ReceivedAt: ev.ReceivedAt,
		}
		if len(msg.Parts) == 0 && ev.Body != "" {
			msg.Parts = []string{ev.Body}
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now()
		}

		handler(ctx, msg)
		m.Finish()
		return nil
	}))

	if err := consumer.ConnectToNSQLookupd(c.lookupdAddr); err != nil {
		return fmt.Errorf("connect to nsqlookupd %s: %w", c.lookupdAddr, err)
	}

	c.consumer = consumer
	c.logger.Info("smschannel: subscribed",
		zap.String("topic", c.topic),
		zap.String("channel", c.channel),
	)

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	return nil
}

// Close stops the consumer and waits for in-flight handlers.
func (c *NSQChannel) Close() error {
	if c.consumer == nil {
		return nil
	}
	c.consumer.Stop()
	<-c.consumer.StopChan
	return nil
}
