package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatdock/internal/browser"
	"chatdock/internal/classify"
	"chatdock/internal/config"
	"chatdock/internal/policy"
)

// DriverFactory builds the browser driver for one session instance.
type DriverFactory func(opts browser.Options) browser.Driver

// ChatSession automates one conversation: it owns one browser page, turns
// intercepted vendor responses into state transitions, and decides when to
// send scripted replies, suspend auto-reply, or restart.
//
// Lifecycle: a ChatSession instance runs at most once. Recovery goes through
// reload, which tears this instance down and registers a fresh one under the
// same id; an explicit Stop(force=true) wins over any in-flight reload.
type ChatSession struct {
	id        string
	cfg       config.Session
	newDriver DriverFactory
	pub       Publisher
	reg       *Registry
	log       *zap.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	state     State
	driver    browser.Driver
	ctx       context.Context
	cancel    context.CancelFunc
	debounce  *time.Timer // single-slot reply decision timer
	watchdog  *time.Timer // no-agent-before-wait-deadline timer
	stopped   bool
	stopping  bool // force-stop requested; reload must not resurrect
	reloading bool
}

// New creates an idle session. cfg should already be normalized.
func New(id string, cfg config.Session, newDriver DriverFactory, pub Publisher, reg *Registry, log *zap.Logger) *ChatSession {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatSession{
		id:        id,
		cfg:       cfg,
		newDriver: newDriver,
		pub:       pub,
		reg:       reg,
		log:       log.With(zap.String("session", id)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		state:     State{AutoReply: cfg.AutoReply},
	}
}

// ID returns the session id.
func (s *ChatSession) ID() string { return s.id }

// Config returns the session's immutable config.
func (s *ChatSession) Config() config.Session { return s.cfg }

// Snapshot returns a copy of the current state.
func (s *ChatSession) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Messages = append([]classify.Message(nil), s.state.Messages...)
	return st
}

// Start launches the browser and begins the conversation. No-op when already
// running or already stopped.
func (s *ChatSession) Start() {
	s.mu.Lock()
	if s.state.Running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopping = false
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.applyLocked(Patch{Running: boolPtr(true), Closed: boolPtr(false)})
	proxy, hasProxy := s.cfg.PickProxy(s.rng)
	ua := s.cfg.PickUserAgent(s.rng)
	welcome := s.cfg.PickWelcome(s.rng)
	s.mu.Unlock()

	if hasProxy {
		s.activity("using proxy " + proxy.URL)
	}
	s.log.Info("session starting")
	go s.launch(ctx, proxy, ua, welcome)
}

// launch performs the startup sequence. Any failure here is recoverable: it
// is reported as activity and escalates to a reload rather than a crash.
func (s *ChatSession) launch(ctx context.Context, proxy config.Proxy, ua, welcome string) {
	if err := s.openAndStart(ctx, proxy, ua, welcome); err != nil {
		if ctx.Err() != nil {
			return // session stopped mid-launch
		}
		s.activity("failed to open browser: " + err.Error())
		s.reload()
	}
}

func (s *ChatSession) openAndStart(ctx context.Context, proxy config.Proxy, ua, welcome string) error {
	drv := s.newDriver(browser.Options{
		Headless:          s.cfg.Headless,
		UserAgent:         ua,
		Proxy:             proxy,
		BrowserBin:        s.cfg.BrowserBin,
		FindTimeout:       s.cfg.FindTimeout,
		NavigationTimeout: s.cfg.NavigationTimeout,
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = drv.Close()
		return nil
	}
	s.driver = drv
	s.mu.Unlock()

	if err := drv.Start(ctx); err != nil {
		return err
	}
	s.activity("browser opened")

	drv.Intercept(s.handleExchange)

	if err := drv.Navigate(ctx, s.cfg.EntryURLFor(welcome)); err != nil {
		return err
	}
	if err := drv.ClickStartChat(ctx); err != nil {
		return err
	}
	return nil
}

// handleExchange is the interception pipeline: vendor response in, state
// transition out. Called from the driver's event goroutine.
func (s *ChatSession) handleExchange(ex classify.Exchange) {
	ev := classify.Classify(ex)
	switch ev.Kind {
	case classify.KindIgnored:

	case classify.KindRequestFailed:
		s.activity(fmt.Sprintf("response status %d: %s", ev.Status, ex.URL))
		if ev.Fatal {
			// Chat authorize failed; nothing will recover this attempt.
			s.activity("chat is unavailable")
			go s.reload()
		}

	case classify.KindConversationStarted:
		s.activity("conversation started")

	case classify.KindAgentFound:
		agent := ev.Agent
		s.apply(Patch{Agent: &agent})
		s.activity("agent found: " + agent.FullName)

	case classify.KindNewMessages:
		s.handleNewMessages(ev.Messages)

	case classify.KindWaitTime:
		s.handleWaitTime(ev.WaitTime)

	case classify.KindConversationClosed:
		s.apply(Patch{Closed: boolPtr(true)})
		s.activity("conversation closed")
		go s.reload()

	case classify.KindSendEcho:
		// Reconcile locally-sent messages into history.
		s.apply(Patch{Messages: ev.Messages})

	case classify.KindSecureForm:
		s.activity("secure form requested")
	}
}

// handleNewMessages appends the batch, then runs the escalation scan over the
// messages past the last system marker. The first escalating message suspends
// auto-reply for good (only an explicit dashboard command re-enables it);
// otherwise each scanned message re-arms the single-slot reply debounce.
func (s *ChatSession) handleNewMessages(batch []classify.Message) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.applyLocked(Patch{Messages: batch})
	if !s.state.AutoReply {
		return
	}

	cut := -1
	for i, m := range batch {
		if m.Sender == classify.SystemSender {
			cut = i
		}
	}
	for _, m := range batch[cut+1:] {
		if m.PayloadType != classify.PayloadNewMessage {
			continue
		}
		if reason, ok := policy.ScanEscalation(m); ok {
			s.applyLocked(Patch{AutoReply: boolPtr(false)})
			s.pub.PublishState(s.id, Patch{Activities: []Activity{newActivity("auto-reply suspended: " + reason)}})
			s.log.Info("auto-reply suspended", zap.String("reason", reason))
			return
		}
		s.resetDebounceLocked()
	}
}

func (s *ChatSession) resetDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.DebounceNewMessage, s.decideReply)
}

// decideReply fires when the message debounce elapses. It consults the last
// known message at firing time, which under batched delivery may differ from
// the message that armed the timer; that race is accepted behavior.
func (s *ChatSession) decideReply() {
	s.mu.Lock()
	if s.stopped || !s.state.AutoReply {
		s.mu.Unlock()
		return
	}
	msgs := append([]classify.Message(nil), s.state.Messages...)
	texts := policy.PickReply(s.cfg.ReplyTemplates, s.rng)
	s.mu.Unlock()

	decision, reason := policy.Decide(msgs)
	switch decision {
	case policy.DecisionSend:
		s.activity(reason)
		s.sendMessages(texts)
	case policy.DecisionReload:
		s.activity(reason)
		s.reload()
	}
}

// handleWaitTime records the estimate and re-arms the watchdog: if the wait
// elapses (plus slack) with no agent assigned, the session restarts.
func (s *ChatSession) handleWaitTime(ms int64) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.applyLocked(Patch{WaitTime: int64Ptr(ms)})
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	deadline := time.Duration(ms)*time.Millisecond + s.cfg.DebounceWaitTime
	s.watchdog = time.AfterFunc(deadline, s.watchdogFired)
	s.mu.Unlock()

	s.activity(fmt.Sprintf("estimated wait time: %dms", ms))
}

func (s *ChatSession) watchdogFired() {
	s.mu.Lock()
	fire := !s.stopped && s.state.Agent.Empty()
	s.mu.Unlock()
	if fire {
		s.reload()
	}
}

// sendMessages delivers each sub-message in order with fixed pacing. A failed
// send is logged as activity and does not stop later sub-messages.
func (s *ChatSession) sendMessages(texts []string) {
	s.mu.Lock()
	drv, ctx := s.driver, s.ctx
	pacing := s.cfg.MessagePacing
	s.mu.Unlock()
	if drv == nil || ctx == nil {
		return
	}
	for _, text := range texts {
		if err := drv.SendMessage(ctx, text); err != nil {
			s.activity("message send failed: " + err.Error())
		}
		time.Sleep(pacing)
	}
}

// SendManual queues a human-override message through the same composer path.
func (s *ChatSession) SendManual(texts []string) {
	go s.sendMessages(texts)
}

// SubmitSecureField fills a vendor secure-form field.
func (s *ChatSession) SubmitSecureField(fieldID, value string) {
	s.mu.Lock()
	drv, ctx := s.driver, s.ctx
	s.mu.Unlock()
	if drv == nil || ctx == nil {
		return
	}
	go func() {
		if err := drv.FillSecureField(ctx, fieldID, value); err != nil {
			s.activity("secure field submit failed: " + err.Error())
		}
	}()
}

// ApplyPatch merges an externally-supplied state patch (dashboard override,
// typically flipping autoReply off).
func (s *ChatSession) ApplyPatch(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.applyLocked(p)
}

// Stop cancels all timers, detaches the driver, removes the session from the
// registry, and publishes a cleared state. force=true marks the session
// non-restartable so an in-flight reload cannot resurrect it. Close failures
// are logged as activity, never returned: cleanup always proceeds through
// registry removal.
func (s *ChatSession) Stop(force bool) {
	s.mu.Lock()
	if force {
		s.stopping = true
	}
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	drv := s.driver
	cancel := s.cancel
	s.driver, s.ctx, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if drv != nil {
		if err := drv.Close(); err != nil {
			s.activity("failed to close browser: " + err.Error())
			s.log.Warn("browser close failed", zap.Error(err))
		}
	}
	if s.reg != nil {
		s.reg.Remove(s.id)
	}

	empty := classify.AgentInfo{}
	s.apply(Patch{Running: boolPtr(!force), Agent: &empty, WaitTime: int64Ptr(0)})
	s.activity("browser closed")
	s.log.Info("session stopped", zap.Bool("force", force))
}

// reload tears this instance down non-destructively and, after the restart
// delay, registers and starts a replacement under the same id. Guarded: only
// one reload per instance, and a force-stop in the window aborts it.
func (s *ChatSession) reload() {
	s.mu.Lock()
	if s.reloading || s.stopping {
		s.mu.Unlock()
		return
	}
	s.reloading = true
	delay := s.cfg.RestartDelay
	s.mu.Unlock()

	s.activity("restarting session")
	s.Stop(false)
	time.Sleep(delay)

	s.mu.Lock()
	aborted := s.stopping
	s.mu.Unlock()
	if aborted {
		return
	}

	if next := s.reg.Replace(s.id, s.cfg); next != nil {
		next.Start()
	}
	s.mu.Lock()
	s.reloading = false
	s.mu.Unlock()
}

// apply merges a patch into state and publishes the delta.
func (s *ChatSession) apply(p Patch) {
	s.mu.Lock()
	s.applyLocked(p)
	s.mu.Unlock()
}

func (s *ChatSession) applyLocked(p Patch) {
	added := s.state.Apply(p)
	if len(p.Messages) > 0 {
		p.Messages = added
		if len(added) == 0 && p.Agent == nil && p.WaitTime == nil && p.AutoReply == nil &&
			p.Running == nil && p.Closed == nil && len(p.Activities) == 0 {
			return // everything was a duplicate, nothing to publish
		}
	}
	s.pub.PublishState(s.id, p)
}

// activity publishes one human-readable status line.
func (s *ChatSession) activity(text string) {
	s.pub.PublishState(s.id, Patch{Activities: []Activity{newActivity(text)}})
}
