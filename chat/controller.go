// Package chat drives a conversation turn: it validates a submission,
// persists it, streams the reply from the relay and folds every event into
// the stored conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"miku/bus"
	"miku/model"
	"miku/session"
)

// DefaultQuestionLimit is the number of completed turns allowed before
// submissions are refused.
const DefaultQuestionLimit = 10

// ErrorReply is appended as an assistant message when a turn fails.
const ErrorReply = "Sorry, there was an error processing your request."

// Conversations is the part of the local store a turn writes to.
type Conversations interface {
	Open(slug string) (*model.ConversationRecord, error)
	Get(id string) (*model.ConversationRecord, error)
	SaveMessages(id string, version int64, messages []model.Message) (int64, error)
}

// Counter is the question counter.
type Counter interface {
	Load() (int, error)
	Increment() (int, error)
}

// Preferences supplies the domain filters sent with every request.
type Preferences interface {
	Load() (model.DomainPreferences, error)
}

// ConversationUpdate is the payload of bus.KindConversationUpdated.
type ConversationUpdate struct {
	ID       string
	Slug     string
	Messages []model.Message
}

// QuotaReached is the payload of bus.KindQuotaLimitReached.
type QuotaReached struct {
	Count int
	Limit int
}

// Options tunes a Controller. Zero values pick defaults.
type Options struct {
	Limit  int
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Controller runs one turn at a time.
type Controller struct {
	conversations Conversations
	counter       Counter
	preferences   Preferences
	transport     Transport
	bus           *bus.Bus
	logger        *zap.Logger
	limit         int

	inFlight atomic.Bool

	mu       sync.Mutex
	machines map[string]*session.Machine
}

func NewController(conv Conversations, counter Counter, prefs Preferences, transport Transport, opts Options) *Controller {
	if opts.Limit <= 0 {
		opts.Limit = DefaultQuestionLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		conversations: conv,
		counter:       counter,
		preferences:   prefs,
		transport:     transport,
		bus:           opts.Bus,
		logger:        opts.Logger.Named("chat"),
		limit:         opts.Limit,
		machines:      make(map[string]*session.Machine),
	}
}

// Limit returns the question limit in effect.
func (c *Controller) Limit() int {
	return c.limit
}

// Status returns the turn status of the conversation at slug.
func (c *Controller) Status(slug string) model.Status {
	return c.machine(slug).Current()
}

// Busy reports whether a turn is in flight.
func (c *Controller) Busy() bool {
	return c.inFlight.Load()
}

// Active reports whether a turn is streaming into the conversation at slug.
func (c *Controller) Active(slug string) bool {
	return c.machine(slug).Active()
}

func (c *Controller) machine(slug string) *session.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.machines[slug]
	if !ok {
		m = session.NewMachine(slug, c.bus)
		c.machines[slug] = m
	}
	return m
}

// Remaining returns how many questions may still be asked.
func (c *Controller) Remaining() (int, error) {
	n, err := c.counter.Load()
	if err != nil {
		return 0, err
	}
	return max(c.limit-n, 0), nil
}

// Submit sends text as the next user message of the conversation at slug
// and blocks until the reply has finished streaming. searchHint asks the
// relay to search the web for this message.
func (c *Controller) Submit(ctx context.Context, slug, text string, searchHint bool, files []File) error {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return model.ErrValidation
	}

	count, err := c.counter.Load()
	if err != nil {
		return fmt.Errorf("load question count: %w", err)
	}
	if count >= c.limit {
		c.bus.Emit(bus.KindQuotaLimitReached, QuotaReached{Count: count, Limit: c.limit})
		return model.ErrQuotaExceeded
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		return model.ErrTurnInFlight
	}
	defer c.inFlight.Store(false)

	status := c.machine(slug)
	_ = status.Transition(model.StatusThinking)
	defer status.Reset()

	t := &turnRun{c: c, slug: slug, status: status, started: time.Now()}
	return t.run(ctx, text, searchHint, files)
}

// turnRun holds the state of one Submit call.
type turnRun struct {
	c       *Controller
	slug    string
	status  *session.Machine
	started time.Time

	id      string
	version int64
	turn    *session.Turn
}

func (t *turnRun) run(ctx context.Context, text string, searchHint bool, files []File) error {
	c := t.c
	rec, err := c.conversations.Open(t.slug)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	t.id, t.version = rec.ID, rec.Version

	user := model.Message{Role: model.RoleUser, Content: text}
	for _, f := range files {
		user.Files = append(user.Files, f.Attachment())
	}
	history := model.CloneMessages(rec.Messages)
	t.turn = session.BeginTurn(history, user)
	if err := t.persist(); err != nil {
		return err
	}

	prefs, err := c.preferences.Load()
	if err != nil {
		c.logger.Warn("failed to load domain preferences", zap.Error(err))
		prefs = model.DomainPreferences{}
	}
	req := Request{Messages: outgoing(history, user, searchHint), Preferences: prefs, Files: files}

	logger := c.logger.With(zap.String("slug", t.slug), zap.String("conversation", t.id))
	logger.Info("turn started", zap.Bool("search", searchHint), zap.Int("files", len(files)))

	dec, err := c.transport.Stream(ctx, req)
	if err != nil {
		return t.fail(logger, err)
	}
	defer dec.Close()

	events := 0
	for !t.turn.Closed() {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			t.turn.Close()
			break
		}
		if err != nil {
			return t.fail(logger, err)
		}
		events++
		t.turn.Apply(ev)
		if ev.CurrentAction != "" {
			if err := t.status.Transition(ev.CurrentAction); err != nil {
				logger.Debug("ignoring status change", zap.Error(err))
			}
		}
		if err := t.persist(); err != nil {
			return t.fail(logger, err)
		}
	}
	_ = t.status.Transition(model.StatusDone)

	n, err := c.counter.Increment()
	if err != nil {
		logger.Warn("failed to increment question count", zap.Error(err))
	} else if n >= c.limit {
		c.bus.Emit(bus.KindQuotaLimitReached, QuotaReached{Count: n, Limit: c.limit})
	}

	logger.Info("turn completed",
		zap.Int("events", events),
		zap.Int("questions", n),
		zap.Duration("elapsed", time.Since(t.started)))
	return nil
}

// outgoing is the message list sent to the relay.
func outgoing(history []model.Message, user model.Message, searchHint bool) []model.Message {
	msgs := model.CloneMessages(history)
	if searchHint {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: ForceSearchPrompt})
	}
	return append(msgs, user)
}

// persist writes the turn's messages under the version last read or
// written, then announces them.
func (t *turnRun) persist() error {
	msgs := t.turn.Messages()
	v, err := t.c.conversations.SaveMessages(t.id, t.version, msgs)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	t.version = v
	t.c.bus.Emit(bus.KindConversationUpdated, ConversationUpdate{ID: t.id, Slug: t.slug, Messages: msgs})
	return nil
}

// fail records the error reply and returns cause.
func (t *turnRun) fail(logger *zap.Logger, cause error) error {
	logger.Warn("turn failed", zap.Error(cause), zap.Duration("elapsed", time.Since(t.started)))
	t.turn.Fail(ErrorReply)
	err := t.persist()
	if errors.Is(err, model.ErrStaleWrite) {
		err = t.replyOnStored()
	}
	if err != nil {
		logger.Warn("failed to save error reply", zap.Error(err))
	}
	return cause
}

// replyOnStored appends the error reply to the record as the other writer
// left it, so its changes are kept.
func (t *turnRun) replyOnStored() error {
	rec, err := t.c.conversations.Get(t.id)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	msgs := append(model.CloneMessages(rec.Messages), model.Message{Role: model.RoleAssistant, Content: ErrorReply})
	v, err := t.c.conversations.SaveMessages(rec.ID, rec.Version, msgs)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	t.version = v
	t.c.bus.Emit(bus.KindConversationUpdated, ConversationUpdate{ID: t.id, Slug: t.slug, Messages: msgs})
	return nil
}
