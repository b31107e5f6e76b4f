package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/core"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix is prepended to every subject
const DefaultPrefix = "crosscheck"

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string `yaml:"url" json:"url"`

	// Prefix is prepended to all subjects. Default: "crosscheck".
	Prefix string `yaml:"prefix" json:"prefix"`

	// Name is an optional NATS connection name.
	Name string `yaml:"name" json:"name"`

	// FlushTimeout bounds how long a publish waits for the server. Default: 2s.
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

// NATSPublisher publishes batch notifications to <prefix>.batch.settled
type NATSPublisher struct {
	nc           *nats.Conn
	subject      string
	flushTimeout time.Duration
	logger       core.Logger
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig, logger core.Logger) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 2 * time.Second
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	return &NATSPublisher{
		nc:           nc,
		subject:      SettledSubject(prefix),
		flushTimeout: flush,
		logger:       logger,
	}, nil
}

// SettledSubject returns the subject batch notifications are published on
func SettledSubject(prefix string) string {
	return prefix + ".batch.settled"
}

// PublishSettled publishes event and waits for the server to acknowledge the flush
func (p *NATSPublisher) PublishSettled(ctx context.Context, event BatchSettled) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", event.RunID, err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if rid := core.GetRequestID(ctx); rid != "" {
		msg.Header.Set("X-Request-ID", rid)
	}
	msg.Header.Set("Nats-Msg-Id", event.RunID)

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish batch %s: %w", event.RunID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush batch %s: %w", event.RunID, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
