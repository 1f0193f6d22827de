package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prestabot/prestabot/internal/engine"
	"github.com/prestabot/prestabot/internal/guest"
	"github.com/prestabot/prestabot/internal/identity"
	"github.com/prestabot/prestabot/internal/session"
	"github.com/prestabot/prestabot/internal/tools"
)

// handleTimeout bounds how long a single inbound message may be
// processed (engine round-trips plus tool calls plus the reply send).
const handleTimeout = 2 * time.Minute

// maxToolRounds caps engine/tool iterations for one inbound message.
const maxToolRounds = 5

// rateWindow is the sliding window for per-sender rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// Engine produces a reply, and possibly tool calls, for a conversation.
// The real implementation is *engine.Client.
type Engine interface {
	Reply(ctx context.Context, req *engine.Request) (*engine.Response, error)
}

// Gateway is the messaging surface the bridge consumes and replies
// through. The real implementation is *Client.
type Gateway interface {
	Messages() <-chan *Envelope
	Send(ctx context.Context, phone, text string) error
	SendTyping(ctx context.Context, phone string, stop bool) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Gateway   Gateway
	Router    *identity.Router
	Sessions  *session.Tracker
	Buffer    *guest.Buffer
	Tools     *tools.Registry
	Engine    Engine
	Logger    *slog.Logger
	RateLimit int // messages per sender per minute; 0 = unlimited
}

// Bridge receives gateway messages, routes each sender through the
// identity router, runs the conversational engine with tool dispatch,
// and sends replies back through the gateway.
type Bridge struct {
	gateway   Gateway
	router    *identity.Router
	sessions  *session.Tracker
	buffer    *guest.Buffer
	tools     *tools.Registry
	engine    Engine
	logger    *slog.Logger
	rateLimit int

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a gateway message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		gateway:     cfg.Gateway,
		router:      cfg.Router,
		sessions:    cfg.Sessions,
		buffer:      cfg.Buffer,
		tools:       cfg.Tools,
		engine:      cfg.Engine,
		logger:      logger,
		rateLimit:   cfg.RateLimit,
		senderTimes: make(map[string][]time.Time),
	}
}

// Start consumes envelopes from the gateway until ctx is cancelled or
// the gateway channel closes.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge shutting down")
			return
		case env, okCh := <-b.gateway.Messages():
			if !okCh {
				b.logger.Info("gateway channel closed, bridge stopping")
				return
			}
			if env.From == "" || !env.HasContent() {
				b.logger.Debug("ignoring empty envelope", "sender", env.From)
				continue
			}
			b.handleEnvelope(ctx, env)
		}
	}
}

// handleEnvelope processes a single inbound message end to end.
func (b *Bridge) handleEnvelope(ctx context.Context, env *Envelope) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	outcome, err := b.router.Route(ctx, env.From)
	if err != nil {
		b.logger.Error("identity routing failed",
			"sender", env.From,
			"error", err,
		)
		return
	}

	switch outcome.Kind {
	case identity.KindIgnored:
		b.logger.Debug("sender ignored",
			"phone", outcome.Phone,
			"reason", outcome.Reason,
		)
		return
	case identity.KindGuest, identity.KindStaff:
	default:
		b.logger.Error("unexpected routing outcome", "kind", outcome.Kind)
		return
	}

	if !b.allowSender(outcome.Phone) {
		b.logger.Warn("sender rate-limited", "phone", outcome.Phone)
		return
	}

	newSession := b.sessions.IsNew(outcome.Phone)
	b.sessions.Touch(outcome.Phone)

	b.logger.Info("message received",
		"phone", outcome.Phone,
		"kind", outcome.Kind.String(),
		"new_session", newSession,
		"text_len", len(env.Text),
	)

	isGuest := outcome.Kind == identity.KindGuest
	if isGuest {
		b.buffer.Append(outcome.Phone, guestMessage(env))
	}

	if err := b.gateway.SendTyping(ctx, outcome.Phone, false); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	reply, err := b.converse(ctx, env, outcome, newSession)

	// Stop typing regardless of outcome; use a fresh context so this
	// best-effort cleanup runs even after a handler timeout.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if typErr := b.gateway.SendTyping(stopCtx, outcome.Phone, true); typErr != nil {
		b.logger.Debug("typing stop failed", "error", typErr)
	}

	if err != nil {
		b.logger.Error("engine conversation failed",
			"phone", outcome.Phone,
			"error", err,
		)
		return
	}
	if reply == "" {
		return
	}

	if err := b.gateway.Send(ctx, outcome.Phone, reply); err != nil {
		b.logger.Error("reply send failed",
			"phone", outcome.Phone,
			"error", err,
		)
		return
	}

	// If a create_member call migrated the guest during this turn the
	// buffer entry is gone; re-creating it would leak, since the new
	// member's messages are ignored from here on.
	if isGuest && b.buffer.Has(outcome.Phone) {
		b.buffer.Append(outcome.Phone, guest.Text(guest.RoleAssistant, reply))
	}

	b.logger.Info("reply sent", "phone", outcome.Phone, "reply_len", len(reply))
}

// converse runs the engine with tool dispatch until it produces a final
// reply or the round cap is hit.
func (b *Bridge) converse(ctx context.Context, env *Envelope, outcome identity.Outcome, newSession bool) (string, error) {
	messages := b.conversationMessages(env, outcome)
	tctx := tools.NewContext(outcome)

	req := &engine.Request{
		Messages:   messages,
		Tools:      b.tools.List(),
		NewSession: newSession,
		Profile: map[string]string{
			"kind":      outcome.Kind.String(),
			"role":      outcome.Role.String(),
			"push_name": env.PushName,
		},
	}

	for round := 0; ; round++ {
		resp, err := b.engine.Reply(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 || round >= maxToolRounds {
			return resp.Content, nil
		}

		req.Messages = append(req.Messages, engine.Message{
			Role:      guest.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := b.tools.Execute(ctx, call.Name, call.Arguments, tctx)
			body, merr := json.Marshal(result)
			if merr != nil {
				body = []byte(`{"success":false,"message":"internal error"}`)
			}
			req.Messages = append(req.Messages, engine.Message{
				Role:       guest.RoleTool,
				Content:    string(body),
				ToolCallID: call.ID,
			})
		}
	}
}

// conversationMessages builds the engine message list: the guest's full
// buffered history, or just the current turn for staff.
func (b *Bridge) conversationMessages(env *Envelope, outcome identity.Outcome) []engine.Message {
	if outcome.Kind != identity.KindGuest {
		return []engine.Message{engineMessage(guestMessage(env))}
	}

	history := b.buffer.History(outcome.Phone)
	messages := make([]engine.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, engineMessage(msg))
	}
	return messages
}

// guestMessage converts an inbound envelope into a buffered guest turn.
func guestMessage(env *Envelope) guest.Message {
	var parts []guest.Part
	if env.Text != "" {
		parts = append(parts, guest.Part{Text: env.Text})
	}
	for _, att := range env.Attachments {
		parts = append(parts, guest.Part{Image: &guest.Attachment{
			URL:         att.URL,
			ContentType: att.ContentType,
			Filename:    att.Filename,
		}})
	}
	return guest.Message{Role: guest.RoleUser, Parts: parts, At: time.Now()}
}

// engineMessage flattens a buffered turn into the engine wire shape.
func engineMessage(msg guest.Message) engine.Message {
	out := engine.Message{Role: msg.Role}
	for _, part := range msg.Parts {
		if part.Text != "" {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += part.Text
		}
		if part.Image != nil && part.Image.URL != "" {
			out.Images = append(out.Images, part.Image.URL)
		}
	}
	return out
}

// allowSender checks whether the sender is within the per-minute rate
// limit.
func (b *Bridge) allowSender(phone string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.senderTimes[phone]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.senderTimes[phone] = valid
		return false
	}

	b.senderTimes[phone] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale sender entries. Must be called with
// b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for phone, timestamps := range b.senderTimes {
		if len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.senderTimes, phone)
		}
	}
}
