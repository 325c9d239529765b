// Package events connects the VAT engine to the payment platform's NATS bus.
// Each subject is a request/reply endpoint served by a queue group, so any
// number of engine replicas can share the load.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"

	"github.com/boohpay/vatcore/internal/config"
	"github.com/boohpay/vatcore/internal/logger"
	"github.com/boohpay/vatcore/internal/reversement"
	"github.com/boohpay/vatcore/internal/vat"
)

//go:generate mockgen -destination=mocks/mock_consumer.go -package=mocks github.com/boohpay/vatcore/internal/events VATService,Metrics

// VATService is the part of vat.Service the consumer drives.
type VATService interface {
	Calculate(ctx context.Context, req vat.CalculationRequest) (vat.CalculationResult, error)
	AdjustForRefund(ctx context.Context, req vat.RefundRequest) (*vat.RefundAdjustment, error)
}

// Metrics counts consumed messages.
type Metrics interface {
	EventConsumed(subject, outcome string)
}

// Error codes carried in replies.
const (
	CodeValidation         = "validation_error"
	CodeInvariantViolation = "invariant_violation"
	CodeRateUnavailable    = "rate_unavailable"
	CodeInternal           = "internal_error"
)

// Outcomes reported to Metrics.
const (
	OutcomeOK    = "ok"
	OutcomeNoop  = "noop"
	OutcomeError = "error"
)

// Reply is the JSON body sent back on every request.
type Reply struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Noop   bool        `json:"noop,omitempty"`
	Error  *ReplyError `json:"error,omitempty"`
}

type ReplyError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

// ReversementCheck asks whether automatic remittance can be enabled.
type ReversementCheck struct {
	Account       string `json:"account"`
	SellerCountry string `json:"sellerCountry"`
}

// Consumer decodes bus messages and hands them to the VAT service.
type Consumer struct {
	svc       VATService
	metrics   Metrics
	logger    *logger.Logger
	cfg       config.NATSConfig
	providers []reversement.Provider
}

// NewConsumer builds a Consumer. providers are the payout providers the
// platform is configured with.
func NewConsumer(svc VATService, metrics Metrics, log *logger.Logger, cfg config.NATSConfig, providers []reversement.Provider) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		svc:       svc,
		metrics:   metrics,
		logger:    log,
		cfg:       cfg,
		providers: providers,
	}
}

// HandleCalculation computes the split for a payment.authorized event.
func (c *Consumer) HandleCalculation(ctx context.Context, data []byte) Reply {
	var req vat.CalculationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return c.fail(c.cfg.CalculationSubject, errors.Mark(errors.Wrap(err, "decoding calculation request"), vat.ErrValidation))
	}

	res, err := c.svc.Calculate(ctx, req)
	if err != nil {
		c.logger.Errorw("vat calculation failed", "payment_id", req.PaymentID, "error", err)
		return c.fail(c.cfg.CalculationSubject, err)
	}

	c.observe(c.cfg.CalculationSubject, OutcomeOK)
	return Reply{OK: true, Result: res}
}

// HandleRefund records the VAT reversal for a refund.succeeded event. A
// refund of an untaxed payment replies OK with Noop set.
func (c *Consumer) HandleRefund(ctx context.Context, data []byte) Reply {
	var req vat.RefundRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return c.fail(c.cfg.RefundSubject, errors.Mark(errors.Wrap(err, "decoding refund request"), vat.ErrValidation))
	}

	adj, err := c.svc.AdjustForRefund(ctx, req)
	if err != nil {
		c.logger.Errorw("refund adjustment failed", "payment_id", req.PaymentID, "refund_id", req.RefundID, "error", err)
		return c.fail(c.cfg.RefundSubject, err)
	}
	if adj == nil {
		c.observe(c.cfg.RefundSubject, OutcomeNoop)
		return Reply{OK: true, Noop: true}
	}

	c.observe(c.cfg.RefundSubject, OutcomeOK)
	return Reply{OK: true, Result: adj}
}

// HandleReversementCheck validates a remittance account.
func (c *Consumer) HandleReversementCheck(data []byte) Reply {
	var req ReversementCheck
	if err := json.Unmarshal(data, &req); err != nil {
		return c.fail(c.cfg.ReversementSubject, errors.Mark(errors.Wrap(err, "decoding reversement check"), vat.ErrValidation))
	}

	c.observe(c.cfg.ReversementSubject, OutcomeOK)
	return Reply{OK: true, Result: reversement.Validate(req.Account, req.SellerCountry, c.providers)}
}

// Subscribe registers queue subscriptions for every configured subject.
// Subjects left empty are skipped.
func (c *Consumer) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	handlers := map[string]func(*nats.Msg) Reply{
		c.cfg.CalculationSubject: func(m *nats.Msg) Reply {
			ctx, cancel := c.handlerContext()
			defer cancel()
			return c.HandleCalculation(ctx, m.Data)
		},
		c.cfg.RefundSubject: func(m *nats.Msg) Reply {
			ctx, cancel := c.handlerContext()
			defer cancel()
			return c.HandleRefund(ctx, m.Data)
		},
		c.cfg.ReversementSubject: func(m *nats.Msg) Reply {
			return c.HandleReversementCheck(m.Data)
		},
	}

	var subs []*nats.Subscription
	for subject, handle := range handlers {
		if subject == "" {
			continue
		}
		handle := handle
		sub, err := nc.QueueSubscribe(subject, c.cfg.QueueGroup, func(m *nats.Msg) {
			c.respond(m, handle(m))
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, errors.Wrapf(err, "subscribing to %s", subject)
		}
		c.logger.Infow("subscribed", "subject", subject, "queue", c.cfg.QueueGroup)
		subs = append(subs, sub)
	}
	return subs, nil
}

// handlerContext bounds one message's work by HandlerTimeout. Zero means
// no deadline.
func (c *Consumer) handlerContext() (context.Context, context.CancelFunc) {
	if c.cfg.HandlerTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.cfg.HandlerTimeout)
}

func (c *Consumer) respond(m *nats.Msg, r Reply) {
	if m.Reply == "" {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		c.logger.Errorw("encoding reply", "subject", m.Subject, "error", err)
		return
	}
	if err := m.Respond(body); err != nil {
		c.logger.Warnw("sending reply", "subject", m.Subject, "error", err)
	}
}

func (c *Consumer) fail(subject string, err error) Reply {
	c.observe(subject, OutcomeError)
	return Reply{Error: toReplyError(err)}
}

func (c *Consumer) observe(subject, outcome string) {
	if c.metrics != nil {
		c.metrics.EventConsumed(subject, outcome)
	}
}

// toReplyError maps an engine error to its wire code. Internal errors do
// not leak their message.
func toReplyError(err error) *ReplyError {
	switch {
	case vat.IsValidation(err):
		return &ReplyError{Code: CodeValidation, Message: err.Error(), Hints: errors.GetAllHints(err)}
	case vat.IsInvariantViolation(err):
		return &ReplyError{Code: CodeInvariantViolation, Message: "calculation rejected by invariant check"}
	case errors.Is(err, vat.ErrRateUnavailable):
		return &ReplyError{Code: CodeRateUnavailable, Message: err.Error(), Hints: errors.GetAllHints(err)}
	default:
		return &ReplyError{Code: CodeInternal, Message: "internal error"}
	}
}

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(cfg config.NATSConfig, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("vatcore"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to nats at %s", cfg.URL)
	}
	return nc, nil
}

// Drainer is the part of *nats.Conn used by Drain.
type Drainer interface {
	SetClosedHandler(cb nats.ConnHandler)
	Drain() error
}

// Drain stops all subscriptions and waits until every in-flight message
// handler has returned and the connection is closed, or ctx is done.
func Drain(ctx context.Context, nc Drainer) error {
	closed := make(chan struct{})
	var once sync.Once
	nc.SetClosedHandler(func(*nats.Conn) { once.Do(func() { close(closed) }) })

	if err := nc.Drain(); err != nil {
		return errors.Wrap(err, "draining nats connection")
	}
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for nats drain")
	}
}
