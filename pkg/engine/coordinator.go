package engine

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/flock/internal/logger"
	"github.com/marmos91/flock/pkg/location"
	"github.com/marmos91/flock/pkg/protocol"
)

// AttachRequest identifies the participant behind a new attachment. The
// identity fields come from the attachment token and the control plane, not
// from the client.
type AttachRequest struct {
	UserID      string
	DisplayName string
	AvatarColor string
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	SessionID    string
	Participants int
	Attached     int
	ExpiresAt    time.Time
}

// Coordinator serializes all state changes of one session on a dedicated
// worker goroutine. Callers talk to it through a bounded command mailbox;
// commands execute in arrival order, so no session state is ever touched
// concurrently.
type Coordinator struct {
	sessionID string
	expiresAt time.Time
	cfg       Config
	metrics   Metrics

	cmds chan command
	done chan struct{}

	// Everything below is owned by the worker goroutine.
	reg         *Registry
	onEnded     func(*Coordinator, string)
	expiryTimer *time.Timer
	idleTimer   *time.Timer
	absence     map[string]*time.Timer
	endReason   string
	stopping    bool
}

// StartCoordinator spins up the worker for a session. onEnded is invoked
// exactly once, from the worker goroutine, after the session terminates;
// metrics may be nil. The session ends on its own when expiresAt passes or
// when it stays unattached for the idle grace period.
func StartCoordinator(sessionID string, expiresAt time.Time, cfg Config, m Metrics, onEnded func(*Coordinator, string)) *Coordinator {
	cfg = cfg.Normalize()

	c := &Coordinator{
		sessionID: sessionID,
		expiresAt: expiresAt,
		cfg:       cfg,
		metrics:   m,
		cmds:      make(chan command, cfg.MailboxSize),
		done:      make(chan struct{}),
		reg:       NewRegistry(cfg.MaxParticipants),
		onEnded:   onEnded,
		absence:   make(map[string]*time.Timer),
	}

	if !expiresAt.IsZero() {
		c.expiryTimer = time.AfterFunc(time.Until(expiresAt), func() {
			c.submitInternal(expireCmd{})
		})
	}
	c.idleTimer = time.AfterFunc(cfg.IdleGrace, func() {
		c.submitInternal(idleCmd{})
	})

	if c.metrics != nil {
		c.metrics.RecordSessionStarted()
	}
	logger.Info("session coordinator started",
		logger.SessionID(sessionID),
		logger.State("running"))

	go c.run()
	return c
}

// SessionID returns the session this coordinator serves.
func (c *Coordinator) SessionID() string { return c.sessionID }

// ExpiresAt returns the session's hard expiry, zero if none.
func (c *Coordinator) ExpiresAt() time.Time { return c.expiresAt }

// Done is closed once the session has ended and the worker has exited its
// command loop.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Attach registers a new attachment for the given participant, adding the
// participant to the session on first attach. On success the returned queue
// already holds the initial participant and location snapshots. A previous
// attachment of the same participant is superseded. Fails with
// ErrSessionFull, ErrSessionEnded or ErrOverloaded.
func (c *Coordinator) Attach(ctx context.Context, req AttachRequest) (*Queue, error) {
	cmd := attachCmd{req: req, reply: make(chan attachReply, 1)}
	if err := c.trySubmit(cmd, "attach"); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.queue, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Detach releases an attachment. The queue pointer guards against a stale
// detach racing a supersession: only the current attachment is released,
// and the return value reports whether that happened. Callers persisting
// attachment state must skip the update on a stale detach. The participant
// stays in the session until the absence timeout fires.
func (c *Coordinator) Detach(userID string, q *Queue, reason string) bool {
	cmd := detachCmd{userID: userID, queue: q, reason: reason, reply: make(chan bool, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return false
	}
	return <-cmd.reply
}

// Leave removes a participant immediately and announces the departure with
// reason "left".
func (c *Coordinator) Leave(ctx context.Context, userID string) error {
	return c.Remove(ctx, userID, protocol.LeftReasonLeft)
}

// Remove removes a participant immediately and announces the departure with
// the given reason. Used for misbehaving clients that must be kicked rather
// than left to the absence timeout.
func (c *Coordinator) Remove(ctx context.Context, userID, reason string) error {
	cmd := leaveCmd{userID: userID, reason: reason, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrSessionEnded
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLocation ingests a client fix and fans it out to the other attached
// participants. Sheddable: fails with ErrOverloaded when the mailbox is
// full. Also fails with location.ErrInvalidLocation, ErrStaleLocation or
// ErrNotParticipant.
func (c *Coordinator) UpdateLocation(ctx context.Context, userID string, upd protocol.LocationUpdate) error {
	cmd := updateCmd{userID: userID, upd: upd, reply: make(chan error, 1)}
	if err := c.trySubmit(cmd, "location_update"); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch bumps a participant's activity clock. Best effort; dropped under
// load.
func (c *Coordinator) Touch(userID string) {
	cmd := touchCmd{userID: userID}
	select {
	case c.cmds <- cmd:
	case <-c.done:
	default:
		if c.metrics != nil {
			c.metrics.RecordCommandRejected("touch")
		}
	}
}

// End terminates the session with the given reason. Every attached client
// receives a final session_ended frame before its queue closes. Idempotent:
// ending an ended session returns ErrSessionEnded.
func (c *Coordinator) End(ctx context.Context, reason string) error {
	cmd := endCmd{reason: reason, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrSessionEnded
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the session.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	cmd := statsCmd{reply: make(chan Stats, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return Stats{}, ErrSessionEnded
	}
	select {
	case s := <-cmd.reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// trySubmit enqueues a sheddable command without blocking.
func (c *Coordinator) trySubmit(cmd command, name string) error {
	select {
	case <-c.done:
		return ErrSessionEnded
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrSessionEnded
	default:
		if c.metrics != nil {
			c.metrics.RecordCommandRejected(name)
		}
		return ErrOverloaded
	}
}

// submitInternal is used by timers and detach paths that must not be shed.
// Blocks until the worker accepts the command or the session ends.
func (c *Coordinator) submitInternal(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// run is the worker loop. It exits after an end command (or expiry or idle
// timeout) has been processed.
func (c *Coordinator) run() {
	for cmd := range c.cmds {
		cmd.execute(c)
		if c.stopping {
			c.finish()
			return
		}
	}
}

// finish tears the session down: stops timers, closes done so submitters
// stop, fails every command still in the mailbox, and reports the ending.
func (c *Coordinator) finish() {
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	for _, t := range c.absence {
		t.Stop()
	}

	close(c.done)

	for {
		select {
		case cmd := <-c.cmds:
			cmd.fail(ErrSessionEnded)
		default:
			if c.metrics != nil {
				c.metrics.RecordSessionEnded(c.endReason)
			}
			logger.Info("session ended",
				logger.SessionID(c.sessionID),
				logger.Reason(c.endReason),
				logger.Count(c.reg.Len()))
			if c.onEnded != nil {
				c.onEnded(c, c.endReason)
			}
			return
		}
	}
}

// end pushes the terminal frame to every live attachment and closes all
// queues. Runs on the worker goroutine.
func (c *Coordinator) end(reason string) {
	if c.stopping {
		return
	}
	c.stopping = true
	c.endReason = reason

	frame := Frame{
		Type:    protocol.TypeSessionEnded,
		Payload: protocol.MustEncode(protocol.TypeSessionEnded, protocol.SessionEnded{Reason: reason}),
	}
	for _, p := range c.reg.All() {
		if !p.Attached() {
			continue
		}
		if _, err := p.queue.Push(frame); err != nil {
			logger.Warn("failed to deliver session_ended",
				logger.SessionID(c.sessionID),
				logger.UserID(p.UserID),
				logger.Err(err))
		}
		p.queue.Close()
	}
}

// broadcast encodes the frame once and fans it out to every attached
// participant except exclude. Attachments whose queue is stalled are force
// detached as slow consumers.
func (c *Coordinator) broadcast(frameType string, payload any, exclude string) {
	raw, err := protocol.Encode(frameType, payload)
	if err != nil {
		logger.Error("failed to encode broadcast frame",
			logger.SessionID(c.sessionID),
			logger.FrameType(frameType),
			logger.Err(err))
		return
	}
	frame := Frame{Type: frameType, Payload: raw}

	fanout := 0
	var stalled []*Participant
	for _, p := range c.reg.All() {
		if p.UserID == exclude || !p.Attached() {
			continue
		}
		evicted, err := p.queue.Push(frame)
		if evicted != nil && c.metrics != nil {
			c.metrics.RecordFrameDropped(evicted.Type)
		}
		if err != nil {
			if errors.Is(err, ErrQueueStalled) {
				stalled = append(stalled, p)
			}
			continue
		}
		fanout++
	}

	if c.metrics != nil {
		c.metrics.RecordBroadcast(frameType, fanout)
	}

	for _, p := range stalled {
		q := p.queue
		c.reg.Detach(p.UserID, q)
		q.Close()
		logger.Warn("detaching slow consumer",
			logger.SessionID(c.sessionID),
			logger.UserID(p.UserID),
			logger.QueueDepth(q.Len()))
		if c.metrics != nil {
			c.metrics.RecordDetachment("slow_consumer")
		}
		c.armAbsence(p.UserID)
	}
	if len(stalled) > 0 {
		c.maybeArmIdle()
	}
}

// armAbsence starts the removal countdown for a detached participant.
func (c *Coordinator) armAbsence(userID string) {
	if t, ok := c.absence[userID]; ok {
		t.Stop()
	}
	c.absence[userID] = time.AfterFunc(c.cfg.AbsenceTimeout, func() {
		c.submitInternal(absenceCmd{userID: userID})
	})
}

func (c *Coordinator) cancelAbsence(userID string) {
	if t, ok := c.absence[userID]; ok {
		t.Stop()
		delete(c.absence, userID)
	}
}

// maybeArmIdle starts the idle countdown when no attachment is left.
func (c *Coordinator) maybeArmIdle() {
	if c.reg.AttachedCount() > 0 {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.cfg.IdleGrace, func() {
		c.submitInternal(idleCmd{})
	})
}

func (c *Coordinator) cancelIdle() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// Command set. Each command executes on the worker goroutine; fail is
// invoked instead of execute when the mailbox is drained after the session
// has ended.

type command interface {
	execute(c *Coordinator)
	fail(err error)
}

type attachReply struct {
	queue *Queue
	err   error
}

type attachCmd struct {
	req   AttachRequest
	reply chan attachReply
}

func (cmd attachCmd) execute(c *Coordinator) {
	now := time.Now()
	req := cmd.req

	joined := false
	p := c.reg.Get(req.UserID)
	if p == nil {
		var err error
		p, err = c.reg.Add(req.UserID, req.DisplayName, req.AvatarColor, now)
		if err != nil {
			cmd.reply <- attachReply{err: err}
			return
		}
		joined = true
	}

	c.cancelAbsence(req.UserID)

	q := NewQueue(c.cfg.OutboundQueueSize)
	prev, err := c.reg.Attach(req.UserID, q, now)
	if err != nil {
		cmd.reply <- attachReply{err: err}
		return
	}
	if prev != nil {
		superseded := Frame{
			Type:    protocol.TypeSessionEnded,
			Payload: protocol.MustEncode(protocol.TypeSessionEnded, protocol.SessionEnded{Reason: protocol.ReasonSuperseded}),
		}
		if _, err := prev.Push(superseded); err != nil {
			logger.Debug("superseded attachment not notified",
				logger.SessionID(c.sessionID),
				logger.UserID(req.UserID),
				logger.Err(err))
		}
		prev.Close()
		if c.metrics != nil {
			c.metrics.RecordDetachment("superseded")
		}
	}

	c.pushSnapshot(q, req.UserID, now)

	if joined {
		c.broadcast(protocol.TypeParticipantJoined, protocol.ParticipantJoined{
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			AvatarColor: req.AvatarColor,
		}, req.UserID)
		if c.metrics != nil {
			c.metrics.RecordParticipantJoined()
		}
		logger.Info("participant joined",
			logger.SessionID(c.sessionID),
			logger.UserID(req.UserID),
			logger.Count(c.reg.Len()))
	}

	c.cancelIdle()
	if c.metrics != nil {
		c.metrics.RecordAttachment()
	}
	cmd.reply <- attachReply{queue: q}
}

func (cmd attachCmd) fail(err error) {
	cmd.reply <- attachReply{err: err}
}

// pushSnapshot loads the initial state frames into a fresh attachment
// queue. Runs before any later broadcast can reach the queue, so a new
// client always sees snapshot first, deltas after. The snapshot describes
// the other members only; a solo attachment gets empty lists.
func (c *Coordinator) pushSnapshot(q *Queue, selfID string, now time.Time) {
	parts := make([]protocol.ParticipantInfo, 0, c.reg.Len())
	for _, p := range c.reg.All() {
		if p.UserID == selfID {
			continue
		}
		parts = append(parts, protocol.ParticipantInfo{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
			LastSeen:    p.LastActivity,
			IsActive:    p.Attached(),
		})
	}
	c.pushTo(q, protocol.TypeInitialParticipants, protocol.InitialParticipants{Participants: parts})

	fresh := c.reg.FreshLocations(c.cfg.LocationTTL, now)
	locs := make([]protocol.LocationBroadcast, 0, len(fresh))
	for _, p := range fresh {
		if p.UserID == selfID {
			continue
		}
		rec := p.Location()
		locs = append(locs, protocol.LocationBroadcast{
			UserID:    p.UserID,
			Lat:       rec.Lat,
			Lng:       rec.Lng,
			Accuracy:  rec.Accuracy,
			Timestamp: rec.ClientTime,
		})
	}
	c.pushTo(q, protocol.TypeInitialLocations, protocol.InitialLocations{Locations: locs})
}

func (c *Coordinator) pushTo(q *Queue, frameType string, payload any) {
	raw, err := protocol.Encode(frameType, payload)
	if err != nil {
		logger.Error("failed to encode frame",
			logger.SessionID(c.sessionID),
			logger.FrameType(frameType),
			logger.Err(err))
		return
	}
	if evicted, err := q.Push(Frame{Type: frameType, Payload: raw}); err != nil {
		logger.Warn("failed to push frame",
			logger.SessionID(c.sessionID),
			logger.FrameType(frameType),
			logger.Err(err))
	} else if evicted != nil && c.metrics != nil {
		c.metrics.RecordFrameDropped(evicted.Type)
	}
}

type detachCmd struct {
	userID string
	queue  *Queue
	reason string
	reply  chan bool
}

func (cmd detachCmd) execute(c *Coordinator) {
	if !c.reg.Detach(cmd.userID, cmd.queue) {
		// Stale detach from a superseded or already-released attachment.
		cmd.queue.Close()
		cmd.reply <- false
		return
	}
	cmd.queue.Close()
	if c.metrics != nil {
		c.metrics.RecordDetachment(cmd.reason)
	}
	logger.Debug("attachment released",
		logger.SessionID(c.sessionID),
		logger.UserID(cmd.userID),
		logger.Reason(cmd.reason))
	c.armAbsence(cmd.userID)
	c.maybeArmIdle()
	cmd.reply <- true
}

func (cmd detachCmd) fail(error) { cmd.reply <- false }

type leaveCmd struct {
	userID string
	reason string
	reply  chan error
}

func (cmd leaveCmd) execute(c *Coordinator) {
	p := c.reg.Remove(cmd.userID)
	if p == nil {
		cmd.reply <- ErrNotParticipant
		return
	}
	c.cancelAbsence(cmd.userID)
	if p.queue != nil {
		p.queue.Close()
	}

	c.broadcast(protocol.TypeParticipantLeft, protocol.ParticipantLeft{
		UserID: cmd.userID,
		Reason: cmd.reason,
	}, cmd.userID)
	if c.metrics != nil {
		c.metrics.RecordParticipantLeft(cmd.reason)
	}
	logger.Info("participant left",
		logger.SessionID(c.sessionID),
		logger.UserID(cmd.userID),
		logger.Reason(cmd.reason),
		logger.Count(c.reg.Len()))

	c.maybeArmIdle()
	cmd.reply <- nil
}

func (cmd leaveCmd) fail(err error) { cmd.reply <- err }

type updateCmd struct {
	userID string
	upd    protocol.LocationUpdate
	reply  chan error
}

func (cmd updateCmd) execute(c *Coordinator) {
	rec, err := location.New(cmd.upd.Lat, cmd.upd.Lng, cmd.upd.Accuracy, cmd.upd.Timestamp)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLocationUpdate("invalid")
		}
		cmd.reply <- err
		return
	}

	if err := c.reg.SetLocation(cmd.userID, rec); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrStaleLocation) {
				c.metrics.RecordLocationUpdate("stale")
			} else {
				c.metrics.RecordLocationUpdate("invalid")
			}
		}
		cmd.reply <- err
		return
	}

	c.broadcast(protocol.TypeLocationUpdate, protocol.LocationBroadcast{
		UserID:    cmd.userID,
		Lat:       rec.Lat,
		Lng:       rec.Lng,
		Accuracy:  rec.Accuracy,
		Timestamp: rec.ClientTime,
	}, cmd.userID)
	if c.metrics != nil {
		c.metrics.RecordLocationUpdate("accepted")
	}
	cmd.reply <- nil
}

func (cmd updateCmd) fail(err error) { cmd.reply <- err }

type touchCmd struct {
	userID string
}

func (cmd touchCmd) execute(c *Coordinator) {
	c.reg.Touch(cmd.userID, time.Now())
}

func (cmd touchCmd) fail(error) {}

type endCmd struct {
	reason string
	reply  chan error
}

func (cmd endCmd) execute(c *Coordinator) {
	c.end(cmd.reason)
	cmd.reply <- nil
}

func (cmd endCmd) fail(err error) { cmd.reply <- err }

type expireCmd struct{}

func (expireCmd) execute(c *Coordinator) {
	c.end(protocol.ReasonExpired)
}

func (expireCmd) fail(error) {}

type idleCmd struct{}

func (idleCmd) execute(c *Coordinator) {
	if c.reg.AttachedCount() > 0 {
		return
	}
	c.end(protocol.ReasonIdle)
}

func (idleCmd) fail(error) {}

type absenceCmd struct {
	userID string
}

func (cmd absenceCmd) execute(c *Coordinator) {
	delete(c.absence, cmd.userID)

	p := c.reg.Get(cmd.userID)
	if p == nil || p.Attached() {
		return
	}
	c.reg.Remove(cmd.userID)

	c.broadcast(protocol.TypeParticipantLeft, protocol.ParticipantLeft{
		UserID: cmd.userID,
		Reason: protocol.LeftReasonTimeout,
	}, cmd.userID)
	if c.metrics != nil {
		c.metrics.RecordParticipantLeft(protocol.LeftReasonTimeout)
	}
	logger.Info("participant timed out",
		logger.SessionID(c.sessionID),
		logger.UserID(cmd.userID),
		logger.Count(c.reg.Len()))
}

func (cmd absenceCmd) fail(error) {}

type statsCmd struct {
	reply chan Stats
}

func (cmd statsCmd) execute(c *Coordinator) {
	cmd.reply <- Stats{
		SessionID:    c.sessionID,
		Participants: c.reg.Len(),
		Attached:     c.reg.AttachedCount(),
		ExpiresAt:    c.expiresAt,
	}
}

func (cmd statsCmd) fail(error) { cmd.reply <- Stats{} }
