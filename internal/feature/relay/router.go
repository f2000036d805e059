// Package relay routes inbound Telegram messages: it registers groups the bot
// is added to, gates monitored groups by mention, and relays the rest to the
// agent runtime.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"tg_agent_bridge/internal/agent"
	"tg_agent_bridge/internal/domain"
	"tg_agent_bridge/internal/logging"
)

// UnknownTitle names auto-registered groups that report no title.
const UnknownTitle = "Unknown"

const (
	// replySendTimeout bounds each relay reply, independently of the agent call.
	replySendTimeout = 30 * time.Second
	// limiterPruneInterval is how often full, idle per-chat limiters are dropped.
	limiterPruneInterval = time.Minute
)

// Decision is the routing outcome for one inbound message.
type Decision int

const (
	Ignore Decision = iota
	Register
	Unregister
	Relay
)

func (d Decision) String() string {
	switch d {
	case Register:
		return "register"
	case Unregister:
		return "unregister"
	case Relay:
		return "relay"
	default:
		return "ignore"
	}
}

// Decide applies the first-match routing policy. monitored reports whether
// the message's chat is in the registry.
func Decide(msg domain.InboundMessage, monitored bool, botName string) Decision {
	if msg.BotRemoved {
		if msg.IsGroup() && monitored {
			return Unregister
		}
		return Ignore
	}

	if msg.Text == "" {
		if msg.IsGroup() && msg.GroupCreated {
			return Register
		}
		return Ignore
	}

	if msg.IsGroup() && monitored {
		if botName == "" || !strings.Contains(msg.Text, "@"+botName) {
			return Ignore
		}
		return Relay
	}

	if msg.IsPrivate() || msg.IsGroup() {
		return Relay
	}

	return Ignore
}

// Registry is the subset of the group registry the router needs.
type Registry interface {
	Contains(id int64) bool
	Add(ctx context.Context, g domain.MonitoredGroup) (bool, error)
	Remove(ctx context.Context, id int64) (bool, error)
}

// TextSender delivers relay replies.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Options tunes relay behaviour. Zero Rate or MaxInflight disables that limit.
type Options struct {
	BotName     string
	Timeout     time.Duration
	Rate        float64
	Burst       int
	MaxInflight int
}

// Router dispatches inbound messages.
type Router struct {
	registry  Registry
	sender    TextSender
	processor agent.Processor
	opts      Options
	logger    *logrus.Entry

	mu        sync.Mutex
	limiters  map[int64]*rate.Limiter
	lastPrune time.Time
	inflight  *semaphore.Weighted
	wg        sync.WaitGroup
}

// NewRouter constructs a Router.
func NewRouter(registry Registry, sender TextSender, processor agent.Processor, opts Options, logger *logrus.Entry) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if processor == nil {
		return nil, errors.New("agent processor is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	opts.BotName = strings.TrimPrefix(strings.TrimSpace(opts.BotName), "@")
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	r := &Router{
		registry:  registry,
		sender:    sender,
		processor: processor,
		opts:      opts,
		logger:    logger,
		limiters:  make(map[int64]*rate.Limiter),
	}
	if opts.MaxInflight > 0 {
		r.inflight = semaphore.NewWeighted(int64(opts.MaxInflight))
	}

	return r, nil
}

// Handle routes one inbound message. Registry changes complete before Handle
// returns; relays run in the background until Wait.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) {
	decision := Decide(msg, r.registry.Contains(msg.ChatID), r.opts.BotName)

	r.logger.WithFields(logging.Fields{
		"event":     "message_routed",
		"chat_id":   msg.ChatID,
		"chat_type": msg.ChatType,
		"decision":  decision.String(),
	}).Debug("inbound message routed")

	switch decision {
	case Register:
		r.register(ctx, msg)
	case Unregister:
		r.unregister(ctx, msg)
	case Relay:
		r.relay(ctx, msg)
	}
}

func (r *Router) register(ctx context.Context, msg domain.InboundMessage) {
	title := strings.TrimSpace(msg.ChatTitle)
	if title == "" {
		title = UnknownTitle
	}

	if _, err := r.registry.Add(ctx, domain.MonitoredGroup{ID: msg.ChatID, Title: title}); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "group_auto_register_failed",
			"chat_id": msg.ChatID,
		}).WithError(err).Error("failed to register created group")
	}
}

func (r *Router) unregister(ctx context.Context, msg domain.InboundMessage) {
	if _, err := r.registry.Remove(ctx, msg.ChatID); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "group_unregister_failed",
			"chat_id": msg.ChatID,
		}).WithError(err).Error("failed to remove group after bot left")
	}
}

func (r *Router) relay(ctx context.Context, msg domain.InboundMessage) {
	fields := logging.Fields{"chat_id": msg.ChatID}

	if !r.allow(msg.ChatID) {
		fields["event"] = "relay_rate_limited"
		r.logger.WithFields(fields).Warn("relay dropped: chat over rate limit")
		return
	}

	if r.inflight != nil && !r.inflight.TryAcquire(1) {
		fields["event"] = "relay_saturated"
		r.logger.WithFields(fields).Warn("relay dropped: too many relays in flight")
		return
	}

	// Relays outlive the update that triggered them; shutdown drains them via Wait.
	relayCtx := context.WithoutCancel(ctx)
	relayID := uuid.NewString()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.inflight != nil {
			defer r.inflight.Release(1)
		}
		r.process(relayCtx, msg, relayID)
	}()
}

func (r *Router) process(ctx context.Context, msg domain.InboundMessage, relayID string) {
	logger := r.logger.WithFields(logging.Fields{"chat_id": msg.ChatID, "relay_id": relayID})

	resp, err := r.ask(ctx, msg)
	if err != nil {
		logger.WithField("event", "relay_failed").WithError(err).Error("agent runtime relay failed")
		return
	}

	sent := 0
	for _, choice := range resp.Choices {
		text := choice.Text()
		if text == "" {
			continue
		}
		if err := r.reply(ctx, msg.ChatID, text); err != nil {
			logger.WithFields(logging.Fields{
				"event":        "relay_reply_failed",
				"choice_index": choice.Index,
			}).WithError(err).Error("failed to deliver relay reply")
			continue
		}
		sent++
	}

	logger.WithFields(logging.Fields{
		"event":   "relay_complete",
		"choices": len(resp.Choices),
		"sent":    sent,
	}).Info("relay completed")
}

func (r *Router) ask(ctx context.Context, msg domain.InboundMessage) (agent.Response, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	return r.processor.Process(ctx, []agent.Message{{Role: "user", Content: Prompt(msg.ChatID, msg.Text)}})
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, replySendTimeout)
	defer cancel()

	return r.sender.SendText(ctx, chatID, text)
}

func (r *Router) allow(chatID int64) bool {
	if r.opts.Rate <= 0 {
		return true
	}

	now := time.Now()

	r.mu.Lock()
	if now.Sub(r.lastPrune) >= limiterPruneInterval {
		r.pruneLimiters(now)
	}
	limiter, ok := r.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.opts.Rate), r.opts.Burst)
		r.limiters[chatID] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

// pruneLimiters drops limiters whose bucket has refilled; a fresh limiter
// behaves the same. Must be called with mu held.
func (r *Router) pruneLimiters(now time.Time) {
	for chatID, limiter := range r.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(r.limiters, chatID)
		}
	}
	r.lastPrune = now
}

// Wait blocks until all in-flight relays finish or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
