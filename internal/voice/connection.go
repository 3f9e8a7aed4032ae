package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/durmah/internal/protocol"
	"github.com/antoniostano/durmah/internal/provider"
	"github.com/antoniostano/durmah/internal/session"
)

const (
	stageSTT = "stt"
	stageLLM = "llm"
	stageTTS = "tts"
)

// Client-facing error texts. Vendor detail only goes to the log.
const (
	msgAudioFailed        = "Failed to process audio"
	msgResponseFailed     = "Failed to generate response"
	msgSpeechFailed       = "Failed to generate speech"
	msgUnsupportedMessage = "Unsupported message type"
	msgInvalidMessage     = "Invalid message"
)

type turnPhase int

const (
	phaseSpeaking turnPhase = iota + 1
	phaseDone
)

// turnUpdate is how the turn goroutine reports back to the connection loop,
// which alone owns connection state.
type turnUpdate struct {
	phase  turnPhase
	spoken string
	silent bool
	stage  string
	err    error
}

type connection struct {
	o      *Orchestrator
	ctx    context.Context
	sess   *session.Session
	rc     provider.RequestContext
	p      resolvedProviders
	out    *emitter
	logger *zap.Logger

	state         State
	sttHandle     string
	wantListening bool
	processing    bool
	ownsTurn      bool
	greeting      bool
	greeted       bool
	speakTimer    *time.Timer
	updates       chan turnUpdate
}

func (c *connection) run(inbound <-chan protocol.ClientMessage) error {
	defer c.close()
	c.setState(StateIdle)

	for {
		var speakDone <-chan time.Time
		if c.speakTimer != nil {
			speakDone = c.speakTimer.C
		}

		select {
		case <-c.ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := c.handle(msg); err != nil {
				return err
			}
		case u := <-c.updates:
			c.onTurnUpdate(u)
		case <-speakDone:
			c.speakTimer = nil
			c.out.send(protocol.NewAssistantSpeakingFinished())
			c.completeTurn()
		}
	}
}

func (c *connection) handle(msg protocol.ClientMessage) error {
	c.o.metrics.WSMessages.WithLabelValues("inbound", string(msg.ClientType()), "received").Inc()
	if err := c.o.sessions.Touch(c.sess.ID); errors.Is(err, session.ErrNotFound) {
		return errSessionEnded
	}

	switch m := msg.(type) {
	case protocol.StartListening:
		c.startListening()
	case protocol.StopListening:
		c.stopListening()
	case protocol.AudioChunk:
		c.pushAudio(m)
	case protocol.Malformed:
		c.logger.Debug("invalid client message", zap.Error(m.Err))
		c.out.send(protocol.NewError(msgInvalidMessage))
	default:
		c.logger.Warn("unsupported message type", zap.String("type", string(msg.ClientType())))
		c.out.send(protocol.NewError(msgUnsupportedMessage))
	}
	return nil
}

func (c *connection) startListening() {
	c.wantListening = true
	if c.sttHandle == "" {
		if err := c.openSTT(); err != nil {
			if c.processing {
				c.logger.Warn("stt reopen failed during turn", zap.String("provider", c.p.sttName), zap.Error(err))
				c.o.metrics.ProviderErrors.WithLabelValues(stageSTT, c.p.sttName).Inc()
				c.out.send(protocol.NewError(msgAudioFailed))
				return
			}
			c.turnFailed(stageSTT, err)
			return
		}
	}
	if c.processing {
		return
	}
	c.setState(StateListening)

	if c.greeted {
		return
	}
	c.greeted = true
	msgs, err := c.o.sessions.Messages(c.sess.ID)
	if err != nil || len(msgs) > 0 {
		return
	}
	c.processing = true
	c.greeting = true
	go c.speak(c.o.cfg.Greeting)
}

func (c *connection) stopListening() {
	c.wantListening = false
	if c.sttHandle == "" {
		return
	}
	c.releaseSTT()
	if !c.processing {
		c.setState(StateIdle)
	}
}

func (c *connection) openSTT() error {
	ctx, cancel := c.bounded(c.ctx, c.o.cfg.STTPushTimeout)
	defer cancel()
	handle, err := c.p.stt.StartSession(ctx, c.rc)
	if err != nil {
		return err
	}
	c.sttHandle = handle
	if err := c.o.sessions.StartListening(c.sess.ID, handle); err != nil {
		c.logger.Debug("session gone while listening", zap.Error(err))
	}
	return nil
}

// releaseSTT ends the vendor sub-session within ReleaseTimeout, even when the
// connection context is already cancelled.
func (c *connection) releaseSTT() {
	ctx, cancel := c.bounded(context.WithoutCancel(c.ctx), c.o.cfg.ReleaseTimeout)
	defer cancel()
	if err := c.p.stt.EndSession(ctx, c.sttHandle); err != nil {
		c.logger.Warn("stt release failed", zap.String("provider", c.p.sttName), zap.Error(err))
	}
	c.sttHandle = ""
	_ = c.o.sessions.StopListening(c.sess.ID)
}

func (c *connection) pushAudio(m protocol.AudioChunk) {
	if c.processing {
		c.o.metrics.DroppedAudio.WithLabelValues("busy").Inc()
		return
	}
	if c.sttHandle == "" {
		c.o.metrics.DroppedAudio.WithLabelValues("not_listening").Inc()
		return
	}

	ctx, cancel := c.bounded(c.ctx, c.o.cfg.STTPushTimeout)
	start := time.Now()
	res, err := c.p.stt.PushAudio(ctx, c.sttHandle, provider.AudioChunk{
		Audio:    m.Audio,
		Sequence: m.Sequence,
		IsFinal:  m.IsFinal,
	})
	cancel()
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.turnFailed(stageSTT, err)
		return
	}
	if res == nil {
		return
	}
	if !res.IsFinal {
		c.out.send(protocol.NewPartialTranscript(res.Text))
		return
	}
	c.o.metrics.ObserveStage(stageSTT, time.Since(start))

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	if err := c.o.sessions.BeginTurn(c.sess.ID); err != nil {
		c.o.metrics.DroppedAudio.WithLabelValues("busy").Inc()
		c.logger.Debug("final transcript dropped", zap.Error(err))
		return
	}
	c.ownsTurn = true
	c.setState(StateTranscribing)
	c.out.send(protocol.NewFinalTranscript(text))
	if err := c.o.sessions.AppendMessage(c.sess.ID, provider.Message{Role: provider.RoleUser, Content: text}); err != nil {
		c.logger.Warn("append user message", zap.Error(err))
		c.releaseTurn()
		return
	}
	c.processing = true
	c.greeting = false
	c.setState(StateGenerating)
	go c.reply()
}

// reply runs on its own goroutine while the loop keeps draining inbound
// frames, which is what lets busy-time audio be dropped instead of queued.
func (c *connection) reply() {
	history, err := c.o.sessions.Messages(c.sess.ID)
	if err != nil {
		c.report(turnUpdate{phase: phaseDone, stage: stageLLM, err: err})
		return
	}
	text, err := c.o.complete(c.ctx, c.p.llm, c.sess.Settings, history, c.rc)
	if err != nil {
		c.report(turnUpdate{phase: phaseDone, stage: stageLLM, err: err})
		return
	}
	if err := c.o.sessions.AppendMessage(c.sess.ID, provider.Message{Role: provider.RoleAssistant, Content: text}); err != nil {
		c.report(turnUpdate{phase: phaseDone, stage: stageLLM, err: err})
		return
	}
	c.speak(text)
}

func (c *connection) speak(text string) {
	c.report(turnUpdate{phase: phaseSpeaking})
	c.out.send(protocol.NewAssistantMessage(text))

	settings := c.sess.Settings
	if !settings.VoiceEnabled {
		c.report(turnUpdate{phase: phaseDone, silent: true})
		return
	}
	c.out.send(protocol.NewAssistantSpeakingStarted())

	spoken := sanitizeSpeechText(text)
	if spoken == "" {
		spoken = text
	}
	ctx, cancel := c.bounded(c.ctx, c.o.cfg.TTSTimeout)
	defer cancel()
	start := time.Now()
	handle, err := c.p.tts.Speak(ctx, provider.SpeechRequest{
		Text:    spoken,
		VoiceID: settings.VoiceID,
		Rate:    settings.VoiceRate,
		Pitch:   settings.VoicePitch,
		Locale:  settings.Locale,
	}, c.rc)
	c.o.metrics.ObserveStage(stageTTS, time.Since(start))
	if err != nil {
		c.report(turnUpdate{phase: phaseDone, stage: stageTTS, err: err})
		return
	}
	if handle.URL != "" {
		c.out.send(protocol.NewAssistantAudio(handle.URL))
	}
	c.report(turnUpdate{phase: phaseDone, spoken: spoken})
}

func (c *connection) report(u turnUpdate) {
	select {
	case c.updates <- u:
	case <-c.ctx.Done():
	}
}

func (c *connection) onTurnUpdate(u turnUpdate) {
	switch u.phase {
	case phaseSpeaking:
		c.setState(StateSpeaking)
	case phaseDone:
		switch {
		case u.err != nil:
			c.turnFailed(u.stage, u.err)
		case u.silent:
			c.completeTurn()
		default:
			c.speakTimer = time.NewTimer(c.o.cfg.SpeakingDuration(u.spoken))
		}
	}
}

// completeTurn clears the single-flight flag and rearms capture when the
// client still wants to be heard.
func (c *connection) completeTurn() {
	c.processing = false
	c.releaseTurn()
	if c.greeting {
		c.o.metrics.Turns.WithLabelValues("greeting").Inc()
	} else {
		c.o.metrics.Turns.WithLabelValues("completed").Inc()
	}
	c.greeting = false

	if !c.wantListening {
		c.setState(StateIdle)
		return
	}
	if c.sttHandle == "" {
		if err := c.openSTT(); err != nil {
			c.turnFailed(stageSTT, err)
			return
		}
	}
	c.setState(StateListening)
}

// turnFailed ends the current turn without touching the connection: the
// client gets one generic error and the loop goes back to listening.
func (c *connection) turnFailed(stage string, err error) {
	providerName := map[string]string{stageSTT: c.p.sttName, stageLLM: c.p.llmName, stageTTS: c.p.ttsName}[stage]
	c.logger.Warn("turn failed", zap.String("stage", stage), zap.String("provider", providerName), zap.Error(err))
	c.o.metrics.ProviderErrors.WithLabelValues(stage, providerName).Inc()
	c.o.metrics.Turns.WithLabelValues("failed_" + stage).Inc()

	msg := msgAudioFailed
	switch stage {
	case stageLLM:
		msg = msgResponseFailed
	case stageTTS:
		msg = msgSpeechFailed
	}
	c.out.send(protocol.NewError(msg))

	if c.speakTimer != nil {
		c.speakTimer.Stop()
		c.speakTimer = nil
	}
	c.processing = false
	c.releaseTurn()
	c.greeting = false
	if c.sttHandle != "" {
		c.setState(StateListening)
	} else {
		c.setState(StateIdle)
	}
}

func (c *connection) close() {
	if c.speakTimer != nil {
		c.speakTimer.Stop()
		c.speakTimer = nil
	}
	if c.sttHandle != "" {
		c.releaseSTT()
	}
	c.releaseTurn()
	c.setState(StateClosed)
}

// releaseTurn frees the session's turn slot if this connection holds it.
func (c *connection) releaseTurn() {
	if !c.ownsTurn {
		return
	}
	c.o.sessions.EndTurn(c.sess.ID)
	c.ownsTurn = false
}

func (c *connection) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
	if c.o.stateHook != nil {
		c.o.stateHook(c.sess.ID, s)
	}
}

func (c *connection) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
