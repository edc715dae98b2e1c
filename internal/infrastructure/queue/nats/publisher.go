// Package nats announces processed documents on a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/vat-intake/internal/application/port"
	"github.com/garyjia/vat-intake/internal/domain/entity"
	"github.com/garyjia/vat-intake/internal/infrastructure/resilience"
)

// DefaultSubject carries processed-document events
const DefaultSubject = "vat.document.processed"

// ProcessedEvent is the message body published per document
type ProcessedEvent struct {
	DocumentID      string                 `json:"document_id"`
	OwnerScope      string                 `json:"owner_scope"`
	StrategyUsed    string                 `json:"strategy_used"`
	PrimaryAmount   float64                `json:"primary_amount"`
	Confidence      float64                `json:"confidence"`
	IsDuplicate     bool                   `json:"is_duplicate"`
	DuplicateOfID   string                 `json:"duplicate_of_id,omitempty"`
	ComplianceLevel entity.ComplianceLevel `json:"compliance_level"`
	ReviewDecision  string                 `json:"review_decision"`
	ProcessedAt     time.Time              `json:"processed_at"`
}

// NewProcessedEvent summarizes a result for downstream consumers
func NewProcessedEvent(r *entity.ProcessingResult) ProcessedEvent {
	return ProcessedEvent{
		DocumentID:      r.DocumentID,
		OwnerScope:      r.OwnerScope,
		StrategyUsed:    r.Extraction.StrategyUsed,
		PrimaryAmount:   r.Extraction.PrimaryAmount,
		Confidence:      r.Extraction.Confidence,
		IsDuplicate:     r.Duplicate.IsDuplicate,
		DuplicateOfID:   r.Duplicate.DuplicateOfID,
		ComplianceLevel: r.Compliance.ComplianceLevel,
		ReviewDecision:  r.Review.Decision,
		ProcessedAt:     r.ProcessedAt,
	}
}

// msgPublisher is the part of *nats.Conn the publisher needs
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher implements port.ResultPublisher over NATS
type Publisher struct {
	conn     *nats.Conn
	pub      msgPublisher
	subject  string
	executor *resilience.Executor
	logger   *zap.Logger
}

// Options tunes the connection
type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
}

// New connects to url and publishes on subject
func New(url, subject string, options Options, logger *zap.Logger) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("vat-intake"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p := newPublisher(conn, subject, options.Executor, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(pub msgPublisher, subject string, executor *resilience.Executor, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{pub: pub, subject: subject, executor: executor, logger: logger}
}

// Close drains the connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// PublishProcessed sends one event per processed document. The document ID
// doubles as the JetStream de-duplication key.
func (p *Publisher) PublishProcessed(ctx context.Context, result *entity.ProcessingResult) error {
	body, err := json.Marshal(NewProcessedEvent(result))
	if err != nil {
		return fmt.Errorf("encode processed event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, result.DocumentID)
	msg.Header.Set("Owner-Scope", result.OwnerScope)

	call := func(_ context.Context) error {
		if err := p.pub.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		p.logger.Error("Failed to publish processed event",
			zap.String("document_id", result.DocumentID),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Published processed event",
		zap.String("subject", p.subject),
		zap.String("document_id", result.DocumentID))
	return nil
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// NoopPublisher drops events when no broker is configured
type NoopPublisher struct{}

// PublishProcessed does nothing
func (NoopPublisher) PublishProcessed(context.Context, *entity.ProcessingResult) error { return nil }

var (
	_ port.ResultPublisher = (*Publisher)(nil)
	_ port.ResultPublisher = NoopPublisher{}
)
