package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/aionmeter/aionmeter/internal/combat"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/entity"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/protocol"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func formatDamage(n int64) string {
	if n < 0 {
		return "-" + formatDamage(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// RenderSummary prints the combat window header line.
func RenderSummary(w io.Writer, s combat.Summary) {
	fmt.Fprintf(w, "Combat %s  state=%s  duration=%.1fs  total=%s  dps=%.0f  players=%d  targets=%d\n",
		shortID(s.WindowID), s.State, s.DurationSec, formatDamage(s.TotalDamage), s.TotalDPS, s.Players, s.Targets)
}

// RenderPlayers prints the damage meter table.
func RenderPlayers(w io.Writer, players []combat.PlayerStats) {
	tw := newTable(w, "#", "Player", "Class", "Damage", "DPS", "Share", "Hits", "Crit", "Back", "Perfect", "Double", "Parry")
	for i, p := range players {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%s (%d)", p.PlayerName, p.PlayerID),
			p.ClassName,
			formatDamage(p.TotalDamage),
			fmt.Sprintf("%.0f", p.DamagePerSecond),
			pct(p.DamagePercentage),
			strconv.Itoa(p.HitCount),
			pct(p.CriticalRate),
			pct(p.BackAttackRate),
			pct(p.PerfectRate),
			pct(p.DoubleDamageRate),
			pct(p.ParryRate),
		})
	}
	tw.Render()
}

// RenderSkills prints one player's skill breakdown.
func RenderSkills(w io.Writer, skills []combat.SkillStats) {
	tw := newTable(w, "Skill", "Damage", "Share", "Hits", "Min", "Max", "DPS", "Crit")
	for _, s := range skills {
		tw.Append([]string{
			fmt.Sprintf("%s (%d)", s.SkillName, s.SkillID),
			formatDamage(s.TotalDamage),
			pct(s.DamagePercentage),
			strconv.Itoa(s.HitCount),
			formatDamage(s.MinHit),
			formatDamage(s.MaxHit),
			fmt.Sprintf("%.0f", s.DamagePerSecond),
			pct(s.CriticalRate),
		})
	}
	tw.Render()
}

// RenderLog prints hits newest first.
func RenderLog(w io.Writer, entries []combat.DamageEvent) {
	tw := newTable(w, "Time", "Target", "Skill", "Damage", "Flags")
	for _, e := range entries {
		skill := "-"
		if e.Skill != nil {
			skill = e.Skill.Name
		}
		tw.Append([]string{
			e.Timestamp.Format("15:04:05.000"),
			e.Target.Name,
			skill,
			formatDamage(e.Amount),
			hitFlags(e),
		})
	}
	tw.Render()
}

func hitFlags(e combat.DamageEvent) string {
	var flags []string
	if e.IsCritical {
		flags = append(flags, "crit")
	}
	if e.IsBackAttack {
		flags = append(flags, "back")
	}
	if e.IsPerfect {
		flags = append(flags, "perfect")
	}
	if e.IsDoubleDamage {
		flags = append(flags, "double")
	}
	if e.IsParry {
		flags = append(flags, "parry")
	}
	if len(e.Candidates) > 0 {
		flags = append(flags, "ambiguous")
	}
	return strings.Join(flags, ",")
}

// RenderEntities prints known players and targets.
func RenderEntities(w io.Writer, players, targets []entity.Entity) {
	tw := newTable(w, "Kind", "ID", "Name", "Class")
	for _, p := range players {
		class := "-"
		if p.Class != nil {
			class = p.Class.Name
		}
		tw.Append([]string{"player", strconv.Itoa(p.ID), p.Name, class})
	}
	for _, t := range targets {
		tw.Append([]string{"target", strconv.Itoa(t.ID), t.Name, "-"})
	}
	tw.Render()
}

// RenderStats prints pipeline counters.
func RenderStats(w io.Writer, st pipeline.Stats) {
	tw := newTable(w, "Counter", "Value")
	uptime := "-"
	if !st.StartedAt.IsZero() {
		uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	rows := [][]string{
		{"source", st.Source},
		{"running", strconv.FormatBool(st.Running)},
		{"uptime", uptime},
		{"packets", fmtUint(st.Packets)},
		{"duplicates", fmtUint(st.Duplicates)},
		{"gaps", fmtUint(st.Gaps)},
		{"decode failures", fmtUint(st.DecodeFailures)},
		{"low damage", fmtUint(st.LowDamage)},
		{"unresolved", fmtUint(st.Unresolved)},
		{"damage events", fmtUint(st.Damage)},
		{"rejected", fmtUint(st.Rejected)},
		{"nicknames", fmtUint(st.Nicknames)},
		{"queue", fmt.Sprintf("%d/%d (dropped %d)", st.Queue.Depth, st.Queue.Capacity, st.Queue.Dropped)},
		{"streams", strconv.Itoa(len(st.Streams))},
		{"entities", fmt.Sprintf("%d players, %d targets", st.Entities.Players, st.Entities.Targets)},
	}
	for _, kind := range []protocol.FrameKind{protocol.FrameDirectDamage, protocol.FrameBatchDamage, protocol.FrameUnknown, protocol.FrameMalformed} {
		rows = append(rows, []string{"frames " + kind.String(), fmtUint(st.Frames[kind.String()])})
	}
	if st.LastError != "" {
		rows = append(rows, []string{"last error", st.LastError})
	}
	tw.AppendBulk(rows)
	tw.Render()
}

// RenderDecode prints a decoded frame and the byte range of every field.
func RenderDecode(w io.Writer, frame []byte, rec *protocol.DamageRecord) {
	tw := newTable(w, "Field", "Value")
	tw.AppendBulk([][]string{
		{"target_id", strconv.Itoa(rec.TargetID)},
		{"switch_value", strconv.Itoa(rec.SwitchValue)},
		{"flag", strconv.Itoa(rec.FlagValue)},
		{"actor_id", strconv.Itoa(rec.ActorID)},
		{"skill_code", strconv.Itoa(rec.SkillCode)},
		{"damage_type", strconv.Itoa(rec.DamageType)},
		{"unknown_value", strconv.FormatInt(rec.UnknownValue, 10)},
		{"amount", formatDamage(rec.Amount)},
		{"flags", hitFlags(combat.DamageEvent{
			IsCritical:     rec.IsCritical,
			IsBackAttack:   rec.IsBackAttack,
			IsPerfect:      rec.IsPerfect,
			IsDoubleDamage: rec.IsDoubleDamage,
			IsParry:        rec.IsParry,
			Candidates:     rec.Candidates,
		})},
	})
	tw.Render()

	if rec.Diagnostics == nil || len(rec.Diagnostics.Ranges) == 0 {
		return
	}
	fmt.Fprintln(w)
	ranges := newTable(w, "Field", "Bytes", "Hex")
	for _, r := range rec.Diagnostics.Ranges {
		span := "-"
		if r.Start >= 0 && r.End <= len(frame) {
			span = protocol.HexDump(frame[r.Start:r.End])
		}
		ranges.Append([]string{r.Field, fmt.Sprintf("%d-%d", r.Start, r.End-1), span})
	}
	ranges.Render()
}

// RenderFailures prints per-field decode failure totals.
func RenderFailures(w io.Writer, counts []db.FieldCount) {
	tw := newTable(w, "Field", "Failures", "Last seen")
	for _, c := range counts {
		tw.Append([]string{c.Field, strconv.FormatInt(c.Total, 10), c.LastSeen.Format(time.RFC3339)})
	}
	tw.Render()
}

func fmtUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
