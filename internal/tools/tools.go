// Package tools defines the side-effecting operations the
// conversational agent may invoke, and the dispatcher that executes
// them behind a failure boundary.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prestabot/prestabot/internal/events"
	"github.com/prestabot/prestabot/internal/guest"
	"github.com/prestabot/prestabot/internal/store"
)

// Tool represents a callable tool. Parameters follows the JSON-schema
// shape the engine expects; the dispatcher also uses it to validate
// arguments before the handler runs.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Handler executes one tool call. It must return a Result, never
// panic; the dispatch boundary converts panics into failed results as
// a last resort.
type Handler func(ctx context.Context, deps Deps, args map[string]any, tctx *Context) Result

// Store is the persistence surface the tool handlers need.
type Store interface {
	CreateMember(ctx context.Context, nm store.NewMember) (*store.Member, error)
	AddMemberMessage(ctx context.Context, memberID, role, content string, attachments []string) (string, error)
	LoanByNumber(ctx context.Context, number int64) (*store.Loan, error)
	LoansByCollector(ctx context.Context, collectorID string) ([]*store.Loan, error)
	CreatePayment(ctx context.Context, np store.NewPayment) (*store.Payment, error)
}

// ReceiptRenderer generates a payment receipt and returns a reference
// (URL or document id). Rendering lives outside this service.
type ReceiptRenderer interface {
	RenderPayment(ctx context.Context, paymentID string) (string, error)
}

// Messenger sends an outbound text to a canonical phone number.
type Messenger interface {
	Send(ctx context.Context, phone, text string) error
}

// MediaUploader stores media referenced by URL and returns a durable
// reference.
type MediaUploader interface {
	Upload(ctx context.Context, sourceURL, filename string) (string, error)
}

// EventPublisher emits domain events. Publishing is best-effort from
// the dispatcher's perspective; a failed publish never fails a tool.
type EventPublisher interface {
	Publish(ctx context.Context, key string, evt events.Event) error
}

// Deps holds the injected capabilities handlers may use. Optional
// collaborators (Receipts, Events, Media) may be nil; handlers must
// degrade with a clear message rather than panic.
type Deps struct {
	Store     Store
	Receipts  ReceiptRenderer
	Messenger Messenger
	Media     MediaUploader
	Events    EventPublisher
	Migrator  *guest.Migrator
	Country   string // default country code for phone normalization
	Logger    *slog.Logger
}

// Registry is the closed mapping from tool name to handler. Stateless
// between calls: everything a handler needs is in its arguments, the
// trust context, or Deps.
type Registry struct {
	tools  map[string]*Tool
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates the tool registry with its builtin tools.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger

	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

func (r *Registry) registerBuiltins() {
	r.register(createMemberTool())
	r.register(createPaymentTool())
	r.register(listCollectorLoansTool())
	r.register(generateReceiptTool())
	r.register(sendMessageTool())
	r.register(uploadMediaTool())
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns tool declarations in the shape the engine expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. It always returns a Result and never
// panics: an unknown name, invalid arguments, or a handler panic all
// become failed results. The model invents tool names and arguments;
// none of that is a programming error here.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tctx *Context) (result Result) {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return failf("No reconozco la herramienta %q.", name)
	}

	if args == nil {
		args = map[string]any{}
	}

	if err := validateArgs(tool, args); err != nil {
		r.logger.Info("tool arguments rejected",
			"tool", name,
			"error", err,
		)
		return failf("Los datos para %s no son válidos: %s", name, err.message)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked",
				"tool", name,
				"panic", fmt.Sprint(p),
			)
			result = failf("Ocurrió un error interno ejecutando %s. Intente de nuevo.", name)
		}
	}()

	result = tool.Handler(ctx, r.deps, args, tctx)
	if !result.Success {
		r.logger.Info("tool returned failure",
			"tool", name,
			"message", result.Message,
		)
	}
	return result
}

// publishEvent emits a domain event when a publisher is wired. Failures
// are logged and swallowed: events feed reporting, not the operation
// itself.
func publishEvent(ctx context.Context, deps Deps, key string, payload any) {
	if deps.Events == nil {
		return
	}
	if err := deps.Events.Publish(ctx, key, events.New(key, payload)); err != nil {
		deps.Logger.Warn("event publish failed",
			"key", key,
			"error", err,
		)
	}
}
