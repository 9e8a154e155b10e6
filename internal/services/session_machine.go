package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/you/abcauth/domain"
)

// message is one unit of work on the mailbox. run executes on the machine
// goroutine; abort is called instead when the machine closes first.
type message struct {
	name  string
	run   func(ctx context.Context)
	abort func(err error)
}

// SnapshotListener receives every published snapshot in version order
type SnapshotListener func(domain.Snapshot)

// SessionMachine is the single owner of the auth phase. Session notifications,
// deep links and user actions are all messages on one FIFO mailbox processed by
// one goroutine, so every transition applies a complete phase in arrival order.
type SessionMachine struct {
	client   domain.IdentityClient
	links    domain.DeepLinkHandler
	profiles *ProfileService
	metrics  domain.MetricsRecorder
	logger   *slog.Logger

	mu          sync.Mutex
	base        domain.AuthPhase
	restoring   bool
	pending     []string
	profile     *domain.UserProfile
	degraded    bool
	lastOutcome *domain.DeepLinkOutcome
	published   domain.AuthPhase
	version     uint64
	started     bool
	closed      bool
	queue       []message
	runCtx      context.Context
	unsubscribe func()

	signal chan struct{}
	done   chan struct{}

	subMu       sync.Mutex
	subscribers map[int]SnapshotListener
	nextSub     int

	// deliverMu orders subscriber callbacks; older versions are dropped
	deliverMu     sync.Mutex
	lastDelivered uint64
}

// NewSessionMachine creates a machine in the Uninitialized phase
func NewSessionMachine(
	client domain.IdentityClient,
	links domain.DeepLinkHandler,
	profiles *ProfileService,
	metrics domain.MetricsRecorder,
	logger *slog.Logger,
) *SessionMachine {
	return &SessionMachine{
		client:      client,
		links:       links,
		profiles:    profiles,
		metrics:     metrics,
		logger:      logger,
		base:        domain.Uninitialized(),
		published:   domain.Uninitialized(),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		subscribers: make(map[int]SnapshotListener),
	}
}

// Start restores the stored session and, when launchURL is an auth link,
// processes it right after. Routing stays on Restoring or ProcessingDeepLink
// until both have been resolved.
func (m *SessionMachine) Start(ctx context.Context, launchURL string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrMachineClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("session machine already started")
	}
	m.started = true
	m.restoring = true
	m.runCtx = context.WithoutCancel(ctx)
	m.unsubscribe = m.client.OnSessionChange(m.onSessionChange)

	head := []message{{name: "restore", run: m.restore, abort: func(error) {}}}
	if launchURL != "" && m.links.Classify(launchURL) {
		m.pending = append(m.pending, launchURL)
		head = append(head, m.linkMessage(launchURL, nil))
	}
	// links delivered before Start wait behind the restore
	m.queue = append(head, m.queue...)
	snap, changed := m.publishLocked()
	m.mu.Unlock()

	if changed {
		m.deliver(snap)
	}
	m.logger.InfoContext(ctx, "session machine started", slog.Bool("launch_link", len(head) > 1))

	go m.loop()
	m.wake()
	return nil
}

// Close releases the machine. A call already in flight finishes but its result is
// discarded; queued callers receive domain.ErrMachineClosed.
func (m *SessionMachine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	started := m.started
	var orphaned []message
	if !started {
		orphaned, m.queue = m.queue, nil
	}
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, msg := range orphaned {
		msg.abort(domain.ErrMachineClosed)
	}
	if !started {
		close(m.done)
	}
	m.wake()
}

// Done is closed once the machine goroutine has exited
func (m *SessionMachine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the current published state
func (m *SessionMachine) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Decision runs the onboarding gate on the current snapshot
func (m *SessionMachine) Decision() domain.Decision {
	snap := m.Snapshot()
	return Decide(snap.Phase, snap.Profile)
}

// Subscribe registers fn for future snapshots. Callbacks must not block.
func (m *SessionMachine) Subscribe(fn SnapshotListener) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

// Flush waits until every message enqueued before it has been applied
func (m *SessionMachine) Flush(ctx context.Context) error {
	return m.submit(ctx, "flush", func(context.Context) error { return nil })
}

// HandleDeepLink queues an incoming URL. Auth links are processed in arrival
// order; other links are reported as unrecognized without touching the state.
// Links may arrive before Start.
func (m *SessionMachine) HandleDeepLink(ctx context.Context, rawURL string) (domain.DeepLinkOutcome, error) {
	if !m.links.Classify(rawURL) {
		outcome := domain.DeepLinkOutcome{RecognizedAsAuthLink: false, Success: true}
		m.metrics.RecordDeepLink(outcome)
		return outcome, nil
	}

	result := make(chan domain.DeepLinkOutcome, 1)
	failed := make(chan error, 1)
	msg := m.linkMessage(rawURL, result)
	msg.abort = func(err error) { failed <- err }

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.DeepLinkOutcome{}, domain.ErrMachineClosed
	}
	m.pending = append(m.pending, rawURL)
	m.queue = append(m.queue, msg)
	snap, changed := m.publishLocked()
	m.mu.Unlock()

	if changed {
		m.deliver(snap)
	}
	m.wake()

	select {
	case outcome := <-result:
		return outcome, nil
	case err := <-failed:
		return domain.DeepLinkOutcome{}, err
	case <-ctx.Done():
		return domain.DeepLinkOutcome{}, ctx.Err()
	}
}

// RequestCode asks for a one-time code and waits for it
func (m *SessionMachine) RequestCode(ctx context.Context, email string) error {
	return m.submit(ctx, "request_code", func(ctx context.Context) error {
		normalized, err := ValidateEmail(email)
		if err != nil {
			return err
		}
		if err := m.client.RequestOneTimeCode(ctx, normalized); err != nil {
			return err
		}
		m.update(func() { m.base = domain.AwaitingVerification(normalized) })
		return nil
	})
}

// RequestMagicLink asks for a sign-in link and waits for it
func (m *SessionMachine) RequestMagicLink(ctx context.Context, email string) error {
	return m.submit(ctx, "request_magic_link", func(ctx context.Context) error {
		normalized, err := ValidateEmail(email)
		if err != nil {
			return err
		}
		if err := m.client.RequestMagicLink(ctx, normalized); err != nil {
			return err
		}
		m.update(func() { m.base = domain.AwaitingVerification(normalized) })
		return nil
	})
}

// ResendCode requests a new code for the address awaiting verification
func (m *SessionMachine) ResendCode(ctx context.Context) error {
	return m.submit(ctx, "resend_code", func(ctx context.Context) error {
		email, ok := m.awaitingEmail()
		if !ok {
			return domain.ErrNotAwaitingVerification
		}
		return m.client.RequestOneTimeCode(ctx, email)
	})
}

// VerifyCode completes a one-time code sign-in. A rejected code keeps the
// machine awaiting verification.
func (m *SessionMachine) VerifyCode(ctx context.Context, code string) error {
	return m.submit(ctx, "verify_code", func(ctx context.Context) error {
		email, ok := m.awaitingEmail()
		if !ok {
			return domain.ErrNotAwaitingVerification
		}
		session, err := m.client.VerifyOneTimeCode(ctx, email, code)
		if err != nil {
			return err
		}
		m.authenticate(ctx, session, nil)
		return nil
	})
}

// Cancel leaves code entry or a failed link and returns to sign-in
func (m *SessionMachine) Cancel(ctx context.Context) error {
	return m.submit(ctx, "cancel", func(ctx context.Context) error {
		m.update(func() {
			switch m.base.Kind {
			case domain.PhaseAwaitingVerification, domain.PhaseDeepLinkFailed:
				m.base = domain.Unauthenticated()
			}
		})
		return nil
	})
}

// SignOut always ends Unauthenticated. Remote failures are logged only.
func (m *SessionMachine) SignOut(ctx context.Context) error {
	return m.submit(ctx, "sign_out", func(ctx context.Context) error {
		if err := m.client.SignOut(ctx); err != nil {
			m.logger.WarnContext(ctx, "sign out finished with a remote error", slog.String("error", err.Error()))
		}
		m.update(m.signedOutLocked)
		return nil
	})
}

// Refresh renews the session on demand. A failed refresh signs the user out.
func (m *SessionMachine) Refresh(ctx context.Context) error {
	return m.submit(ctx, "refresh", func(ctx context.Context) error {
		if !m.authenticated() {
			return domain.ErrNotAuthenticated
		}
		session, err := m.client.RefreshSession(ctx)
		if err != nil {
			m.update(m.signedOutLocked)
			return err
		}
		m.authenticate(ctx, session, nil)
		return nil
	})
}

// SetHomeStore saves the onboarding store selection for the signed-in account
func (m *SessionMachine) SetHomeStore(ctx context.Context, storeID string) (*domain.UserProfile, error) {
	var saved *domain.UserProfile
	err := m.submit(ctx, "set_home_store", func(ctx context.Context) error {
		identity, ok := m.identity()
		if !ok {
			return domain.ErrNotAuthenticated
		}
		profile, err := m.profiles.SetHomeStore(ctx, identity, storeID)
		if err != nil {
			return err
		}
		saved = profile
		m.update(func() { m.setProfileLocked(profile) })
		return nil
	})
	return copyProfile(saved), err
}

// UpdateProfile applies a partial profile update for the signed-in account
func (m *SessionMachine) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	var saved *domain.UserProfile
	err := m.submit(ctx, "update_profile", func(ctx context.Context) error {
		identity, ok := m.identity()
		if !ok {
			return domain.ErrNotAuthenticated
		}
		profile, err := m.profiles.Update(ctx, identity.ID, update)
		if err != nil {
			return err
		}
		saved = profile
		m.update(func() { m.setProfileLocked(profile) })
		return nil
	})
	return copyProfile(saved), err
}

// DeleteProfile removes the profile row of the signed-in account. The session is kept
// and the next sign-in creates a fresh default profile.
func (m *SessionMachine) DeleteProfile(ctx context.Context) error {
	return m.submit(ctx, "delete_profile", func(ctx context.Context) error {
		identity, ok := m.identity()
		if !ok {
			return domain.ErrNotAuthenticated
		}
		if err := m.profiles.Delete(ctx, identity.ID); err != nil {
			return err
		}
		m.update(func() { m.profile = nil })
		return nil
	})
}

// onSessionChange queues a reconcile against the stored session. The change itself
// may be the echo of a message that has since been overtaken by later ones, so its
// carried session is never applied directly.
func (m *SessionMachine) onSessionChange(change domain.SessionChange) {
	m.enqueue(message{
		name:  "session_" + string(change.Event),
		run:   m.reconcile,
		abort: func(error) {},
	})
}

// reconcile applies whatever session the client holds right now
func (m *SessionMachine) reconcile(ctx context.Context) {
	session, err := m.client.GetCurrentSession(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "could not read session after change", slog.String("error", err.Error()))
		return
	}
	if session == nil {
		if m.authenticated() {
			m.update(m.signedOutLocked)
		}
		return
	}
	if m.applied(session) {
		return
	}
	m.authenticate(ctx, session, nil)
}

// applied reports whether session is already the published one with a healthy profile
func (m *SessionMachine) applied(session *domain.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.base.Session
	return current != nil && !m.degraded &&
		current.User.ID == session.User.ID &&
		current.AccessToken == session.AccessToken
}

func (m *SessionMachine) restore(ctx context.Context) {
	session, err := m.client.GetCurrentSession(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session restore failed", slog.String("error", err.Error()))
	}
	if session == nil {
		m.update(func() {
			m.restoring = false
			m.base = domain.Unauthenticated()
		})
		return
	}
	m.authenticate(ctx, session, func() { m.restoring = false })
}

func (m *SessionMachine) linkMessage(rawURL string, result chan<- domain.DeepLinkOutcome) message {
	return message{
		name: "deep_link",
		run: func(ctx context.Context) {
			outcome := m.processLink(ctx, rawURL)
			if result != nil {
				result <- outcome
			}
		},
		abort: func(error) {},
	}
}

func (m *SessionMachine) processLink(ctx context.Context, rawURL string) domain.DeepLinkOutcome {
	outcome := m.links.Handle(ctx, rawURL)

	var session *domain.Session
	if outcome.RecognizedAsAuthLink && outcome.Success {
		current, err := m.client.GetCurrentSession(ctx)
		if err != nil || current == nil {
			outcome = domain.DeepLinkOutcome{RecognizedAsAuthLink: true, ErrorMessage: "session could not be established"}
		} else {
			session = current
		}
	}
	m.metrics.RecordDeepLink(outcome)

	finish := func() {
		m.removePendingLocked(rawURL)
		result := outcome
		m.lastOutcome = &result
	}

	if session != nil {
		m.authenticate(ctx, session, finish)
		return outcome
	}

	m.update(func() {
		finish()
		if outcome.RecognizedAsAuthLink && !outcome.Success && !m.base.IsAuthenticated() {
			m.base = domain.DeepLinkFailed(outcome.ErrorMessage)
		}
	})
	return outcome
}

// authenticate ensures the profile when the account changes, or when the last
// attempt was degraded, and then applies Authenticated together with extra.
func (m *SessionMachine) authenticate(ctx context.Context, session *domain.Session, extra func()) {
	m.mu.Lock()
	ensure := m.base.AccountID() != session.User.ID || m.degraded
	m.mu.Unlock()

	var result EnsureResult
	if ensure {
		result = m.profiles.Ensure(ctx, session.User)
	}

	m.update(func() {
		if extra != nil {
			extra()
		}
		m.base = domain.Authenticated(session)
		if ensure {
			m.profile = result.Profile
			m.degraded = result.Degraded
		}
	})
}

func (m *SessionMachine) signedOutLocked() {
	m.base = domain.Unauthenticated()
	m.profile = nil
	m.degraded = false
}

func (m *SessionMachine) setProfileLocked(profile *domain.UserProfile) {
	m.profile = profile
	m.degraded = false
}

func (m *SessionMachine) removePendingLocked(rawURL string) {
	for i, u := range m.pending {
		if u == rawURL {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *SessionMachine) awaitingEmail() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base.Kind != domain.PhaseAwaitingVerification {
		return "", false
	}
	return m.base.Email, true
}

func (m *SessionMachine) authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base.IsAuthenticated()
}

func (m *SessionMachine) identity() (domain.AccountIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.base.IsAuthenticated() {
		return domain.AccountIdentity{}, false
	}
	return *m.base.Identity, true
}

// update applies fn and publishes the result. Results arriving after Close are dropped.
func (m *SessionMachine) update(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	fn()
	snap, changed := m.publishLocked()
	m.mu.Unlock()

	if changed {
		m.deliver(snap)
	}
}

// publishLocked derives the visible phase: a pending link wins over the restore,
// which wins over the session-derived phase.
func (m *SessionMachine) publishLocked() (domain.Snapshot, bool) {
	next := m.base
	switch {
	case len(m.pending) > 0:
		next = domain.ProcessingDeepLink(m.pending[0])
	case m.restoring:
		next = domain.Restoring()
	}

	prev := m.published
	m.published = next
	m.version++

	if prev.Kind != next.Kind {
		m.metrics.RecordTransition(prev.Kind, next.Kind)
		m.logger.Info("auth phase changed",
			slog.String("from", prev.Kind.String()),
			slog.String("to", next.Kind.String()),
			slog.String("account_id", next.AccountID()),
		)
	}
	return m.snapshotLocked(), true
}

func (m *SessionMachine) snapshotLocked() domain.Snapshot {
	phase := m.published
	if phase.Session != nil {
		s := *phase.Session
		phase.Session = &s
	}
	snap := domain.Snapshot{
		Phase:           phase,
		Profile:         copyProfile(m.profile),
		ProfileDegraded: m.degraded,
		Version:         m.version,
	}
	if m.lastOutcome != nil {
		outcome := *m.lastOutcome
		snap.LastOutcome = &outcome
	}
	return snap
}

func (m *SessionMachine) deliver(snap domain.Snapshot) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if snap.Version <= m.lastDelivered {
		return
	}
	m.lastDelivered = snap.Version

	m.subMu.Lock()
	subscribers := make([]SnapshotListener, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subscribers {
		fn(snap)
	}
}

// submit runs fn on the machine goroutine and waits for its result. A caller
// that gives up through ctx does not cancel the call.
func (m *SessionMachine) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	msg := message{
		name:  name,
		run:   func(ctx context.Context) { done <- fn(ctx) },
		abort: func(err error) { done <- err },
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return domain.ErrMachineClosed
	case !m.started:
		m.mu.Unlock()
		return domain.ErrMachineNotStarted
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.wake()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue adds msg without waiting. Messages sent after Close are dropped.
func (m *SessionMachine) enqueue(msg message) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.wake()
}

func (m *SessionMachine) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *SessionMachine) loop() {
	defer close(m.done)
	for {
		msg, ok := m.next()
		if !ok {
			return
		}
		msg.run(m.runCtx)
	}
}

// next blocks until a message is available. After Close it aborts whatever is
// still queued and reports false.
func (m *SessionMachine) next() (message, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			queued := m.queue
			m.queue = nil
			m.mu.Unlock()
			for _, msg := range queued {
				msg.abort(domain.ErrMachineClosed)
			}
			return message{}, false
		}
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = message{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()
		<-m.signal
	}
}

func copyProfile(p *domain.UserProfile) *domain.UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

var _ domain.SessionController = (*SessionMachine)(nil)
