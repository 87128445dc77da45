package pipeline

import (
	"errors"
	"time"

	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/combat"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/protocol"
)

// Decode paths, used in logs and the failure journal.
const (
	pathDirect  = "direct_damage"
	pathBatch   = "batch_damage"
	pathPattern = "pattern"
)

// ProcessPacket runs one packet through the pipeline synchronously. The
// consumer goroutine calls it for every queued packet; callers driving the
// pipeline by hand must not run it concurrently with Start.
func (s *Service) ProcessPacket(pkt capture.Packet) {
	s.counters.packets.Add(1)
	s.now = pkt.Timestamp
	if s.now.IsZero() {
		s.now = time.Now()
	}

	payload := pkt.Payload
	if !pkt.Ordered {
		payload, _ = s.sequencer.Feed(pkt.StreamKey, pkt.Seq, pkt.Payload, pkt.SYN, pkt.FIN)
	}
	if len(payload) == 0 {
		return
	}

	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Write(s.now, pkt.StreamKey, payload); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record payload")
		}
	}

	s.streams.Process(pkt.StreamKey, payload, func(frame protocol.Frame) {
		s.processFrame(pkt.StreamKey, frame)
	})
}

func (s *Service) processFrame(streamKey string, frame protocol.Frame) {
	data := frame.Bytes()
	kind := protocol.Classify(data)

	s.counters.frames[kind].Add(1)
	if s.opts.Metrics != nil {
		s.opts.Metrics.Frames.WithLabelValues(kind.String()).Inc()
	}

	switch kind {
	case protocol.FrameDirectDamage:
		s.processDirect(streamKey, data, pathDirect)
	case protocol.FrameBatchDamage:
		s.processBatch(streamKey, data)
	default:
		s.logger.Trace().Str("stream", streamKey).Str("kind", kind.String()).Int("len", len(data)).Msg("frame skipped")
	}

	if s.opts.Protocol.DecodeNicknames && protocol.CanCarryNickname(data) {
		s.processNicknames(data)
	}
}

func (s *Service) processDirect(streamKey string, data []byte, path string) {
	rec, err := s.decoder.DecodeDirect(data)
	if err != nil {
		s.recordFailure(streamKey, path, data, err)
		return
	}

	s.correct(rec)
	if int64(s.opts.Protocol.MinDamage) > 0 && rec.Amount < int64(s.opts.Protocol.MinDamage) {
		s.counters.lowDamage.Add(1)
		s.logger.Trace().Int64("amount", rec.Amount).Str("frame", protocol.HexDump(data)).Msg("low damage dropped")
		return
	}
	s.dispatch(rec, path)
}

func (s *Service) processBatch(streamKey string, data []byte) {
	result := protocol.ExtractBatch(data)
	for _, sub := range result.Frames {
		s.processDirect(streamKey, sub, pathBatch)
	}
	for _, segment := range result.Remainders {
		s.processPattern(streamKey, segment)
	}
}

func (s *Service) processPattern(streamKey string, segment []byte) {
	target, ok := s.tracker.FirstTarget()
	if !ok {
		return
	}

	players := s.tracker.Players()
	actors := make([]protocol.PatternActor, 0, len(players))
	for _, p := range players {
		if p.Class == nil {
			continue
		}
		actors = append(actors, protocol.PatternActor{ID: p.ID, ClassID: p.Class.ID})
	}
	if len(actors) == 0 {
		return
	}

	result := s.scanner.Scan(segment, actors, target.ID)
	for _, err := range result.Failures {
		s.recordFailure(streamKey, pathPattern, segment, err)
	}
	for _, rec := range result.Records {
		s.correct(rec)
		s.dispatch(rec, pathPattern)
	}
}

func (s *Service) correct(rec *protocol.DamageRecord) {
	if s.corrector == nil {
		return
	}
	if s.corrector.Correct(rec) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.Corrections.Inc()
		}
		s.logger.Trace().
			Int64("from", rec.OriginalAmount).
			Int64("to", rec.Amount).
			Msg("damage amount corrected")
	}
}

// dispatch resolves the record against the reference tables and entity
// tracker and hands it to the combat manager.
func (s *Service) dispatch(rec *protocol.DamageRecord, path string) {
	class := s.gamedata.ClassBySkillCode(rec.SkillCode)
	if class == nil {
		s.counters.unresolved.Add(1)
		s.logger.Warn().Int("skill_code", rec.SkillCode).Msg("unknown class for skill code")
		return
	}
	skill := s.gamedata.SkillByCode(rec.SkillCode)
	if skill == nil {
		s.counters.unresolved.Add(1)
		s.logger.Debug().Int("skill_code", rec.SkillCode).Msg("unknown skill code")
		return
	}

	ev := combat.DamageEvent{
		Timestamp:      rec.Timestamp,
		Source:         s.tracker.ResolvePlayer(rec.ActorID, class),
		Target:         s.tracker.ResolveTarget(rec.TargetID),
		Skill:          skill,
		Class:          class,
		Amount:         rec.Amount,
		IsCritical:     rec.IsCritical,
		IsBackAttack:   rec.IsBackAttack,
		IsPerfect:      rec.IsPerfect,
		IsDoubleDamage: rec.IsDoubleDamage,
		IsParry:        rec.IsParry,
		Candidates:     rec.Candidates,
	}

	if err := s.manager.Process(ev); err != nil {
		s.logger.Debug().Err(err).Int("actor", rec.ActorID).Str("path", path).Msg("damage rejected")
		return
	}

	s.counters.damage.Add(1)
	if s.opts.Metrics != nil {
		s.opts.Metrics.Damage.Inc()
	}
	s.logger.Trace().
		Str("path", path).
		Str("skill", skill.Name).
		Int("actor", rec.ActorID).
		Int("target", rec.TargetID).
		Int64("amount", rec.Amount).
		Msg("damage attributed")

	s.emit(events.EventDamageReceived, events.DamagePayload{Damage: ev})
}

func (s *Service) processNicknames(data []byte) {
	for _, nick := range protocol.DecodeNicknames(data) {
		prev, known := s.tracker.Player(nick.EntityID)
		if known && prev.Name == nick.Name {
			continue
		}
		s.tracker.Rename(nick.EntityID, nick.Name)
		s.manager.Rename(nick.EntityID, nick.Name)

		s.counters.nicknames.Add(1)
		if s.opts.Metrics != nil {
			s.opts.Metrics.Nicknames.Inc()
		}
		s.logger.Debug().Int("entity", nick.EntityID).Str("name", nick.Name).Msg("nickname decoded")
		s.emit(events.EventPlayerRenamed, events.PlayerRenamedPayload{EntityID: nick.EntityID, Name: nick.Name})
	}
}

func (s *Service) recordFailure(streamKey, path string, data []byte, err error) {
	s.counters.decodeFailures.Add(1)
	field := protocol.FailureField(err)

	if s.opts.Metrics != nil {
		s.opts.Metrics.DecodeFailures.WithLabelValues(field).Inc()
	}

	s.logger.Trace().
		Err(err).
		Str("stream", streamKey).
		Str("path", path).
		Str("frame", protocol.HexDump(data)).
		Msg("damage decode failed")

	if s.opts.Journal == nil {
		return
	}

	offset := 0
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		offset = de.Offset
	}
	if jerr := s.opts.Journal.Record(db.DecodeFailure{
		RecordedAt: s.now,
		Stream:     streamKey,
		Kind:       path,
		Field:      field,
		Offset:     offset,
		Message:    err.Error(),
		FrameHex:   protocol.HexDump(data),
	}); jerr != nil {
		s.logger.Warn().Err(jerr).Msg("failed to journal decode failure")
	}
}
