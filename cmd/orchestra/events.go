package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orchestra/internal/eventbus"
	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/logging"
)

// errEventsDisabled is returned by events when no Redis stream is configured.
var errEventsDisabled = errors.New("event stream is disabled (set events.redis_url)")

var (
	eventsFrom     string
	eventsFollow   bool
	eventsInterval time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print events from the Redis event stream",
	Long: `Print engine events that serve appended to the events.stream Redis
stream. Without --follow the command prints what is stored and exits.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsFrom, "from", "", "Only print events after this stream ID")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "Keep waiting for new events")
	eventsCmd.Flags().DurationVar(&eventsInterval, "interval", time.Second, "Poll interval with --follow")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Events.RedisURL == "" {
		return errEventsDisabled
	}

	ctx := cmd.Context()
	log := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "orchestra",
	})
	defer log.Close()

	pub, err := eventbus.NewPublisherFromURL(ctx, cfg.Events.RedisURL, cfg.Events.Stream, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	interval := time.Duration(0)
	if eventsFollow {
		interval = eventsInterval
	}
	out := cmd.OutOrStdout()
	return pub.Tail(ctx, eventsFrom, interval, func(ev orchestrator.Event) error {
		printEvent(out, ev)
		return nil
	})
}

func eventColor(t orchestrator.EventType) color.Attribute {
	switch t {
	case orchestrator.EventSubtaskCompleted:
		return color.FgGreen
	case orchestrator.EventSubtaskFailed:
		return color.FgRed
	case orchestrator.EventSubtaskBlocked:
		return color.FgYellow
	case orchestrator.EventPlanCreated, orchestrator.EventPlanStarted, orchestrator.EventPlanFinished:
		return color.FgCyan
	default:
		return color.FgWhite
	}
}

// formatEvent renders one event as a single line.
func formatEvent(ev orchestrator.Event) string {
	line := fmt.Sprintf("%s  %s",
		ev.Timestamp.Local().Format("15:04:05"),
		color.New(eventColor(ev.Type)).Sprintf("%-17s", ev.Type))
	if ev.PlanID != "" {
		line += "  " + shortID(ev.PlanID)
	}
	if ev.Pass > 0 {
		line += fmt.Sprintf("  pass %d", ev.Pass)
	}
	if ev.SubtaskName != "" {
		line += "  " + truncate(ev.SubtaskName, 40)
	}
	if ev.AgentID != "" {
		line += color.HiBlackString(" @" + ev.AgentID)
	}
	if ev.Status != "" {
		line += "  " + ev.Status
	}
	switch {
	case ev.Error != "":
		line += ": " + color.RedString(ev.Error)
	case ev.Message != "":
		line += ": " + ev.Message
	}
	return line
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	fmt.Fprintln(w, formatEvent(ev))
}
