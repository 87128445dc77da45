// Package cli implements the interactive meter console and the table
// renderers shared with the one-shot commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/pipeline"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	pipeline *pipeline.Service
	eventBus *events.EventBus
	logLimit int

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing tables to out.
func NewCLI(svc *pipeline.Service, eventBus *events.EventBus, logLimit int, in io.Reader, out io.Writer) *CLI {
	if logLimit < 1 {
		logLimit = 20
	}
	return &CLI{
		pipeline: svc,
		eventBus: eventBus,
		logLimit: logLimit,
		in:       in,
		out:      out,
	}
}

// Start runs the read-eval loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\naionmeter console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input closed")
		}
	}()

	for {
		fmt.Fprint(c.out, "aionmeter> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single console command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "stats":
		manager := c.pipeline.Manager()
		RenderSummary(c.out, manager.Summary())
		RenderPlayers(c.out, manager.PlayerStats())
	case "skills":
		return c.cmdSkills(args)
	case "log":
		return c.cmdLog(args)
	case "entities":
		tracker := c.pipeline.Tracker()
		RenderEntities(c.out, tracker.Players(), tracker.Targets())
	case "reset":
		c.pipeline.Reset()
		fmt.Fprintln(c.out, "Meter reset")
	case "status", "s":
		RenderStats(c.out, c.pipeline.Stats())
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down aionmeter...")
		if c.eventBus != nil {
			c.eventBus.Emit(ctx, events.Event{
				Type:    events.EventShutdown,
				Source:  "cli",
				Payload: events.ShutdownPayload{Reason: "console quit"},
			})
		}
	default:
		return fmt.Errorf("unknown command '%s', type 'help' for available commands", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  stats               Damage table for the current combat window
  skills <player>     Skill breakdown of one player
  log <player> [n]    Newest n hits of one player
  entities            Known players and targets
  reset               Clear streams, entities and combat
  status              Pipeline counters
  quit                Shutdown aionmeter
  help                Show this help message`)
}

func (c *CLI) cmdSkills(args []string) error {
	id, err := parseIDArg(args)
	if err != nil {
		return err
	}
	skills, ok := c.pipeline.Manager().SkillStats(id)
	if !ok {
		return fmt.Errorf("player %d not found", id)
	}
	RenderSkills(c.out, skills)
	return nil
}

func (c *CLI) cmdLog(args []string) error {
	id, err := parseIDArg(args)
	if err != nil {
		return err
	}
	limit := c.logLimit
	if len(args) > 1 {
		limit, err = strconv.Atoi(args[1])
		if err != nil || limit < 1 {
			return fmt.Errorf("invalid limit: %s", args[1])
		}
	}
	entries, ok := c.pipeline.Manager().CombatLog(id, limit)
	if !ok {
		return fmt.Errorf("player %d not found", id)
	}
	RenderLog(c.out, entries)
	return nil
}

func parseIDArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("player id required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid player id: %s", args[0])
	}
	return id, nil
}
