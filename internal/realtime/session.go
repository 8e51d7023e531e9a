package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/soven/internal/appliance"
	"github.com/MrWong99/soven/internal/fault"
	"github.com/MrWong99/soven/internal/observe"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/pkg/audio"
	"github.com/MrWong99/soven/pkg/provider/stt"
	"github.com/MrWong99/soven/pkg/provider/tts"
)

const (
	// writeTimeout bounds a single outbound frame.
	writeTimeout = 5 * time.Second

	// dispatchTimeout bounds delivering the commands of one reply.
	dispatchTimeout = 10 * time.Second

	// loadTimeout bounds a profile lookup.
	loadTimeout = 10 * time.Second
)

// Close causes.
var (
	errIdle          = errors.New("idle timeout")
	errClientClosed  = errors.New("client requested close")
	errDisconnected  = errors.New("client disconnected")
	errProfileFailed = errors.New("profile load failed")
	errShutdown      = errors.New("shutdown")
)

// errSynthesis marks a [session.speak] failure inside the TTS provider, as
// opposed to the connection dropping mid-stream.
var errSynthesis = errors.New("realtime: synthesis failed")

type frame struct {
	typ  websocket.MessageType
	data []byte
}

type turnResult struct {
	outcome string
}

// session is one appliance connection. The run loop owns the buffer and the
// control state; a turn worker advances the state through the pipeline stages
// while a turn is in flight. At most one turn worker exists at a time.
type session struct {
	id        string
	h         *Handler
	cfg       Config
	conn      *websocket.Conn
	gate      *WakeGate
	baseLog   *slog.Logger
	log       *slog.Logger
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	state   atomic.Int32
	writeMu sync.Mutex

	mu       sync.Mutex
	entityID string
	profile  *personality.Personality
	turns    int

	// Owned by the run loop.
	buf      []byte
	maxBytes int
	busy     bool
	pending  bool
	silence  *time.Timer

	dispatches sync.WaitGroup
}

func newSession(parent context.Context, h *Handler, conn *websocket.Conn, entityID string, cfg Config) *session {
	ctx, cancel := context.WithCancelCause(parent)
	id := uuid.NewString()
	s := &session{
		id:        id,
		h:         h,
		cfg:       cfg,
		conn:      conn,
		gate:      NewWakeGate(cfg.WakePolicy),
		baseLog:   observe.Logger(parent).With("session_id", id),
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		entityID:  entityID,
		maxBytes:  max(audio.BytesFor(cfg.MaxUtterance, cfg.SampleRate), audio.BytesPerSample),
	}
	s.log = s.baseLog.With("entity_id", entityID)
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *session) State() State { return State(s.state.Load()) }

func (s *session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("realtime: state", "from", prev, "to", st)
	}
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.id,
		EntityID:  s.entityID,
		State:     s.State(),
		Turns:     s.turns,
		StartedAt: s.startedAt,
	}
}

func (s *session) shutdown(reason string) {
	s.cancel(fmt.Errorf("%w: %s", errShutdown, reason))
}

// run drives the session until it is closed.
func (s *session) run() {
	cause := s.loop()

	s.setState(StateClosed)
	s.cancel(cause)
	s.dispatches.Wait()

	status, reason := websocket.StatusNormalClosure, cause.Error()
	switch {
	case errors.Is(cause, errProfileFailed):
		status = websocket.StatusPolicyViolation
	case errors.Is(cause, errShutdown):
		status = websocket.StatusGoingAway
	case errors.Is(cause, errDisconnected):
		_ = s.conn.CloseNow()
		s.log.Info("realtime: session closed", "reason", reason)
		return
	}
	_ = s.conn.Close(status, truncate(reason, 100))
	s.log.Info("realtime: session closed", "reason", reason)
}

func (s *session) currentEntity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entityID
}

func (s *session) loop() error {
	if err := s.load(s.currentEntity()); err != nil {
		return err
	}
	s.setState(StateListening)

	frames := make(chan frame, 64)
	readErr := make(chan error, 1)
	go s.read(frames, readErr)

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()
	s.silence = time.NewTimer(time.Hour)
	s.silence.Stop()
	defer s.silence.Stop()

	turnDone := make(chan turnResult, 1)

	for {
		select {
		case <-s.ctx.Done():
			return context.Cause(s.ctx)

		case <-idle.C:
			return errIdle

		case err := <-readErr:
			if websocket.CloseStatus(err) != -1 {
				return errDisconnected
			}
			if s.ctx.Err() != nil {
				return context.Cause(s.ctx)
			}
			return fmt.Errorf("%w: %w", errDisconnected, err)

		case <-s.silence.C:
			s.log.Debug("realtime: silence timeout", "buffered", len(s.buf))
			s.endOfUtterance(turnDone)

		case res := <-turnDone:
			s.busy = false
			s.setState(StateListening)
			if m := s.h.deps.Metrics; m != nil {
				m.RecordTurn(s.ctx, res.outcome)
			}
			idle.Reset(s.cfg.IdleTimeout)
			if s.pending {
				s.pending = false
				s.endOfUtterance(turnDone)
			}

		case f := <-frames:
			idle.Reset(s.cfg.IdleTimeout)
			if err := s.handleFrame(f, turnDone); err != nil {
				return err
			}
		}

		// The idle clock only runs while listening.
		if s.busy {
			idle.Stop()
		}
	}
}

// read pumps inbound frames. It reads without the session's cancellation so
// that closing the connection, not the context, ends it and the close
// handshake can complete.
func (s *session) read(frames chan<- frame, readErr chan<- error) {
	ctx := context.WithoutCancel(s.ctx)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- frame{typ: typ, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) handleFrame(f frame, turnDone chan<- turnResult) error {
	if f.typ == websocket.MessageBinary {
		s.appendAudio(f.data, turnDone)
		return nil
	}

	msg, err := parseText(f.data)
	if err != nil {
		s.sendError(fault.ErrInvalidInput.Code(), err.Error())
		return nil
	}
	switch msg.kind {
	case inboundEndOfUtterance:
		s.endOfUtterance(turnDone)
	case inboundClose:
		return errClientClosed
	case inboundDeviceHello:
		if s.busy {
			s.sendError(fault.ErrInvalidInput.Code(), "device_hello while a turn is in progress")
			return nil
		}
		s.log.Info("realtime: device rebind", "from", s.currentEntity(), "to", msg.deviceID)
		s.buf = nil
		s.silence.Stop()
		if err := s.load(msg.deviceID); err != nil {
			return err
		}
		s.setState(StateListening)
	}
	return nil
}

func (s *session) appendAudio(data []byte, turnDone chan<- turnResult) {
	if len(data)%audio.BytesPerSample != 0 {
		s.sendError(fault.ErrInvalidInput.Code(), fmt.Sprintf("audio frame of %d bytes is not 16-bit PCM", len(data)))
		return
	}
	if len(data) == 0 {
		return
	}

	// Only speech arms the silence timer, so a quiet line never ends an utterance.
	if audio.RMS(data) >= s.cfg.SilenceLevel {
		s.silence.Reset(s.cfg.SilenceTimeout)
	}

	for len(data) > 0 {
		room := s.maxBytes - len(s.buf)
		if room <= 0 {
			// A full buffer is waiting for the running turn.
			s.log.Debug("realtime: dropping audio, utterance buffer full", "bytes", len(data))
			return
		}
		n := min(room, len(data))
		s.buf = append(s.buf, data[:n]...)
		data = data[n:]
		if len(s.buf) >= s.maxBytes {
			s.log.Debug("realtime: max utterance reached")
			s.endOfUtterance(turnDone)
			if s.busy && len(s.buf) >= s.maxBytes {
				return
			}
		}
	}
}

// endOfUtterance starts a turn over the buffered audio, or queues or rejects
// the request when a turn is already in flight.
func (s *session) endOfUtterance(turnDone chan<- turnResult) {
	if s.busy {
		switch s.cfg.OverlapPolicy {
		case OverlapReject:
			s.sendError(fault.ErrInvalidInput.Code(), "turn already in progress")
			if m := s.h.deps.Metrics; m != nil {
				m.RecordTurn(s.ctx, observe.OutcomeRejected)
			}
		default:
			s.pending = true
		}
		return
	}

	s.silence.Stop()
	if len(s.buf) == 0 {
		s.log.Debug("realtime: end of utterance with empty buffer")
		return
	}

	pcm := s.buf
	s.buf = nil
	s.mu.Lock()
	p, n := s.profile, s.turns
	s.mu.Unlock()

	s.busy = true
	s.setState(StateTranscribing)
	go func() {
		turnDone <- s.turn(pcm, p, n)
	}()
}

// turn runs recognition, dialogue, synthesis and streaming for one
// utterance. Every failure sends exactly one error event.
func (s *session) turn(pcm []byte, p *personality.Personality, n int) turnResult {
	ctx, span := observe.StartSpan(observe.WithEntity(s.ctx, p.ID), "realtime.turn",
		trace.WithAttributes(
			attribute.String("session_id", s.id),
			attribute.Int("turn", n),
		),
	)
	defer span.End()
	log := s.log.With("turn", n)
	metrics := s.h.deps.Metrics

	// Transcribing.
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecognitionTimeout)
	start := time.Now()
	tr, err := s.h.deps.STT.Recognize(rctx, stt.Request{
		Audio:      pcm,
		SampleRate: s.cfg.SampleRate,
		Hints:      []string{p.Name},
	})
	cancel()
	if metrics != nil {
		metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return turnResult{outcome: observe.OutcomeFailed}
		}
		log.Warn("realtime: recognition failed", "err", err)
		s.sendError(fault.ErrRecognitionFailure.Code(), fault.ErrRecognitionFailure.Error())
		return turnResult{outcome: observe.OutcomeFailed}
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		log.Debug("realtime: empty transcript")
		return turnResult{outcome: observe.OutcomeEmpty}
	}
	command, woke := s.gate.Check(text, p.Name)
	if !woke {
		log.Debug("realtime: no wake word", "transcript", text)
		s.sendJSON(bareEvent{Type: EventNoWakeWord})
		return turnResult{outcome: observe.OutcomeNoWake}
	}
	s.sendJSON(transcriptEvent{Type: EventTranscript, Text: text})

	// Responding.
	s.setState(StateResponding)
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	reply, err := s.h.deps.Responder.Respond(gctx, command, p)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return turnResult{outcome: observe.OutcomeFailed}
		}
		log.Warn("realtime: generation failed", "err", err)
		fallback := s.h.deps.Responder.Fallback(n)
		s.sendError(fault.ErrGenerationUnavailable.Code(), fallback)
		s.countTurn()
		// The error event already carries the text, so a failed synthesis
		// here is only logged.
		if _, err := s.speak(ctx, fallback, p); err != nil && ctx.Err() == nil {
			log.Warn("realtime: fallback reply not spoken", "err", err)
		}
		return turnResult{outcome: observe.OutcomeFallback}
	}
	s.sendJSON(responseEvent{Type: EventResponse, Text: reply.Reply, Commands: reply.Commands})
	s.dispatch(p.ID, reply.Commands)

	sent, err := s.speak(ctx, reply.Reply, p)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, errSynthesis):
			log.Warn("realtime: synthesis failed", "err", err)
			s.sendError(fault.ErrSynthesisFailure.Code(), fault.ErrSynthesisFailure.Error())
		default:
			log.Debug("realtime: streaming aborted", "err", err)
		}
		return turnResult{outcome: observe.OutcomeFailed}
	}

	s.countTurn()
	log.Info("realtime: turn complete", "commands", reply.Commands, "audio_bytes", sent)
	return turnResult{outcome: observe.OutcomeReplied}
}

// speak synthesizes text in p's voice, streams it as binary frames at the
// session rate and closes with audio_end. It returns the PCM bytes sent.
func (s *session) speak(ctx context.Context, text string, p *personality.Personality) (int, error) {
	s.setState(StateSynthesizing)
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SynthesisTimeout)
	start := time.Now()
	out, err := s.h.deps.TTS.Synthesize(sctx, tts.Request{
		Text:       text,
		Voice:      tts.Voice{Model: p.Voice.Voice.Model, Speaker: p.Voice.Voice.Speaker},
		SampleRate: s.cfg.SampleRate,
	})
	cancel()
	if m := s.h.deps.Metrics; m != nil {
		m.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errSynthesis, err)
	}

	s.setState(StateStreamingOut)
	pcm := out.PCM
	if out.SampleRate > 0 && out.SampleRate != s.cfg.SampleRate {
		pcm = audio.ResampleMono16(pcm, out.SampleRate, s.cfg.SampleRate)
	}
	for _, chunk := range audio.Chunks(pcm, s.cfg.ChunkSize) {
		if err := s.send(websocket.MessageBinary, chunk); err != nil {
			return 0, err
		}
	}
	s.sendJSON(bareEvent{Type: EventAudioEnd})
	return len(pcm), nil
}

func (s *session) countTurn() {
	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
}

// dispatch forwards commands to the appliance in the background. Failures are
// logged and never affect the turn.
func (s *session) dispatch(entityID string, commands []string) {
	if len(commands) == 0 {
		return
	}
	log := s.log
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), dispatchTimeout)
		defer cancel()
		for cmd, err := range appliance.DispatchAll(ctx, s.h.deps.Dispatcher, entityID, commands) {
			log.Warn("realtime: command dispatch failed", "command", cmd, "err", err)
		}
	}()
}

// load fetches the profile for entityID and announces it. Any failure sends
// an error event and ends the session.
func (s *session) load(entityID string) error {
	s.setState(StateProfileLoading)
	ctx, cancel := context.WithTimeout(s.ctx, loadTimeout)
	defer cancel()

	p, err := s.h.deps.Profiles.Get(ctx, entityID)
	if err == nil && p == nil {
		err = fmt.Errorf("realtime: %w: %q", fault.ErrProfileNotFound, entityID)
	}
	if err != nil {
		s.log.Warn("realtime: profile load failed", "entity_id", entityID, "err", err)
		code := fault.CodeOf(err)
		msg := "could not load personality"
		if errors.Is(err, fault.ErrProfileNotFound) {
			msg = fmt.Sprintf("no personality for %q", entityID)
		}
		s.sendError(code, msg)
		return fmt.Errorf("%w: %w", errProfileFailed, err)
	}

	s.mu.Lock()
	s.entityID, s.profile = entityID, p
	s.mu.Unlock()
	s.log = s.baseLog.With("entity_id", entityID)

	s.sendJSON(personalityLoaded{Type: EventPersonalityLoaded, AIName: p.Name, SleepEnabled: true})
	s.log.Info("realtime: personality loaded", "ai_name", p.Name, "voice", p.Voice.Voice.Code)
	return nil
}

func (s *session) send(typ websocket.MessageType, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, typ, data)
}

func (s *session) sendJSON(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, v); err != nil {
		s.log.Debug("realtime: write failed", "err", err)
	}
}

func (s *session) sendError(code, message string) {
	s.sendJSON(errorEvent{Type: EventError, Code: code, Message: message})
}
