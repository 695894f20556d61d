package signal

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"betexec/internal/logger"
	"betexec/internal/metrics"
	"betexec/internal/types"

	"github.com/redis/go-redis/v9"
)

// Handler 接收归一化后的下单指令；返回的错误只影响审计记录。
type Handler interface {
	HandleOrder(ctx context.Context, req types.OrderRequest) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req types.OrderRequest) error

func (f HandlerFunc) HandleOrder(ctx context.Context, req types.OrderRequest) error {
	return f(ctx, req)
}

// AuditEntry 一条信号的审计记录。
type AuditEntry struct {
	ReceivedAt  time.Time
	Channel     string
	Kind        string
	SignalID    string
	MarketID    string
	Disposition Disposition
	Reason      string
	Orders      int
	Payload     string
}

type AuditSink interface {
	RecordSignal(ctx context.Context, entry AuditEntry) error
}

type IntakeOption func(*Intake)

func WithAuditSink(sink AuditSink) IntakeOption {
	return func(in *Intake) { in.audit = sink }
}

// Intake 订阅信号 channel，每条消息在独立 goroutine 中处理，消息之间无顺序保证。
type Intake struct {
	rdb      redis.UniversalClient
	channels []string
	norm     *Normalizer
	handler  Handler
	audit    AuditSink
	nowFn    func() time.Time

	wg sync.WaitGroup
}

func NewIntake(rdb redis.UniversalClient, channels []string, norm *Normalizer, handler Handler, opts ...IntakeOption) *Intake {
	in := &Intake{
		rdb:      rdb,
		channels: channels,
		norm:     norm,
		handler:  handler,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

// Channels 根据配置返回需要订阅的 channel。
func Channels(arbitrage, strategy bool) []string {
	var out []string
	if arbitrage {
		out = append(out, ChannelArbitrage)
	}
	if strategy {
		out = append(out, ChannelStrategy)
	}
	return out
}

// Run 阻塞直到 ctx 结束；返回前等待所有在途消息处理完毕。
func (in *Intake) Run(ctx context.Context) error {
	if len(in.channels) == 0 {
		logger.Warnf("signal: no channels configured, intake idle")
		<-ctx.Done()
		return nil
	}
	sub := in.rdb.Subscribe(ctx, in.channels...)
	defer func() {
		_ = sub.Close()
		in.wg.Wait()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", strings.Join(in.channels, ","), err)
	}
	logger.Infof("signal: subscribed to %s", strings.Join(in.channels, ", "))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			in.wg.Add(1)
			go func(channel, payload string) {
				defer in.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("signal: panic processing message on %s: %v\n%s", channel, r, debug.Stack())
					}
				}()
				in.Process(ctx, channel, []byte(payload))
			}(msg.Channel, msg.Payload)
		}
	}
}

// Process 处理单条消息：解码、归一化、逐腿交给 handler，最后写审计。
func (in *Intake) Process(ctx context.Context, channel string, payload []byte) Result {
	entry := AuditEntry{
		ReceivedAt: in.nowFn(),
		Channel:    channel,
		Payload:    string(payload),
	}
	sig, err := Decode(channel, payload)
	if err != nil {
		logger.Warnf("signal: drop malformed message on %s: %v", channel, err)
		metrics.SignalRejected(string(DispositionMalformed))
		entry.Kind = KindUnknown.String()
		entry.Disposition = DispositionMalformed
		entry.Reason = err.Error()
		in.record(ctx, entry)
		return Result{Disposition: DispositionMalformed, Reason: err.Error()}
	}
	entry.Kind = sig.Kind.String()
	entry.SignalID = sig.ID()
	entry.MarketID = sig.MarketID()
	metrics.SignalReceived(sig.Kind.String())

	res := in.norm.Normalize(sig)
	for _, skip := range res.Skipped {
		logger.Infof("signal: %s skip leg %s", entry.SignalID, skip)
	}
	if res.Disposition != DispositionAccepted {
		logger.Warnf("signal: %s %s market=%s: %s", sig.Kind, res.Disposition, entry.MarketID, res.Reason)
		metrics.SignalRejected(string(res.Disposition))
		entry.Disposition = res.Disposition
		entry.Reason = res.Reason
		in.record(ctx, entry)
		return res
	}

	logger.Infof("signal: %s %s market=%s legs=%d", sig.Kind, entry.SignalID, entry.MarketID, len(res.Requests))
	var reasons []string
	placed := 0
	for _, req := range res.Requests {
		if in.handler == nil {
			continue
		}
		if err := in.handler.HandleOrder(ctx, req); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s %s: %v", req.Side, req.SelectionID, err))
			continue
		}
		placed++
	}
	entry.Orders = placed
	entry.Disposition = DispositionAccepted
	if len(reasons) > 0 {
		entry.Reason = strings.Join(reasons, "; ")
		if placed == 0 {
			entry.Disposition = DispositionRejected
			res.Disposition = DispositionRejected
			res.Reason = entry.Reason
		}
	}
	in.record(ctx, entry)
	return res
}

func (in *Intake) record(ctx context.Context, entry AuditEntry) {
	if in.audit == nil {
		return
	}
	if err := in.audit.RecordSignal(ctx, entry); err != nil {
		logger.Warnf("signal: audit write failed: %v", err)
	}
}
