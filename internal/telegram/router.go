package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"schedbot/internal/executor"
	"schedbot/internal/model"
	"schedbot/internal/scheduler"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// RouterOptions carries the command layer's limits and defaults.
type RouterOptions struct {
	DefaultTZ        string
	MaxPromptChars   int
	ResponseMaxChars int
}

// Router translates chat commands into calls on the scheduler core.
type Router struct {
	bot   *Bot
	sched *scheduler.Service
	gen   executor.Generator
	opt   RouterOptions
	log   logx.Logger
}

func NewRouter(b *Bot, sched *scheduler.Service, gen executor.Generator, opt RouterOptions, log logx.Logger) *Router {
	if opt.MaxPromptChars <= 0 {
		opt.MaxPromptChars = 1200
	}
	if opt.ResponseMaxChars <= 0 {
		opt.ResponseMaxChars = 3500
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{bot: b, sched: sched, gen: gen, opt: opt, log: log}
}

var menuCommands = []tele.Command{
	{Text: "help", Description: "Show available commands"},
	{Text: "ask", Description: "Ask something right now"},
	{Text: "add", Description: "Schedule a daily or one-time task"},
	{Text: "every", Description: "Schedule a fixed-interval task"},
	{Text: "list", Description: "List your scheduled tasks"},
	{Text: "pause", Description: "Pause a task by id"},
	{Text: "resume", Description: "Resume a paused task"},
	{Text: "run", Description: "Run a task immediately"},
	{Text: "edit", Description: "Change a task's prompt"},
	{Text: "delete", Description: "Delete a task by id"},
	{Text: "status", Description: "Show scheduler status"},
}

const helpText = `I run your prompts on a schedule.

/add HH:MM [zone] [days] prompt — daily (or on listed days) at that time
/add 2026-09-01T14:30 [zone] prompt — once, at that moment
/every 1h30m prompt — every interval (1m to 24h)
/ask prompt — answer right now, nothing saved
/list, /pause id, /resume id, /run id, /edit id prompt, /delete id, /status

Zones are IANA names like UTC or Europe/Madrid. Days are 3-letter names like mon,wed,fri.`

// Register installs all command handlers and the Telegram command menu.
func (r *Router) Register() {
	b := r.bot.bot
	b.Handle("/start", r.handleHelp)
	b.Handle("/help", r.handleHelp)
	b.Handle("/ask", r.handleAsk)
	b.Handle("/add", r.handleAdd)
	b.Handle("/every", r.handleEvery)
	b.Handle("/list", r.handleList)
	b.Handle("/pause", r.idCommand("paused", r.sched.Pause))
	b.Handle("/resume", r.idCommand("resumed", r.sched.Resume))
	b.Handle("/run", r.idCommand("started", r.sched.RunNow))
	b.Handle("/delete", r.idCommand("deleted", r.sched.Delete))
	b.Handle("/edit", r.handleEdit)
	b.Handle("/status", r.handleStatus)

	if err := b.SetCommands(menuCommands); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
}

func (r *Router) handleHelp(c tele.Context) error {
	return c.Send(helpText)
}

func (r *Router) handleAsk(c tele.Context) error {
	prompt := strings.TrimSpace(c.Message().Payload)
	if prompt == "" {
		return c.Send("Usage: /ask your question")
	}
	if len(prompt) > r.opt.MaxPromptChars {
		return c.Send(fmt.Sprintf("Prompt too long, max %d characters.", r.opt.MaxPromptChars))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	content, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		r.log.Warn("ask failed", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Send("Could not generate a response, try again later.")
	}
	return c.Send(string(tgui.Esc(tgui.Clamp(content, r.opt.ResponseMaxChars))), &tele.SendOptions{ParseMode: tele.ModeHTML})
}

func (r *Router) handleAdd(c tele.Context) error {
	args := strings.Fields(c.Message().Payload)
	if len(args) < 2 {
		return c.Send("Usage: /add HH:MM [zone] [days] prompt")
	}

	spec, rest := args[0], args[1:]

	// Optional timezone, then optional weekday list, then the prompt.
	tz := r.opt.DefaultTZ
	if len(rest) > 1 {
		if _, err := time.LoadLocation(rest[0]); err == nil && looksLikeZone(rest[0]) {
			tz = rest[0]
			rest = rest[1:]
		}
	}
	var days []string
	if len(rest) > 1 {
		if d, err := scheduler.ParseDays(rest[0]); err == nil {
			days = d
			rest = rest[1:]
		}
	}

	prompt := strings.Join(rest, " ")
	if err := r.checkPrompt(prompt); err != nil {
		return c.Send(err.Error())
	}

	ts, err := scheduler.ParseTimeSpec(spec, tz)
	if err != nil {
		return r.replyError(c, err)
	}

	ctx := context.Background()
	if !ts.RunAt.IsZero() {
		task, err := r.sched.AddOnce(ctx, c.Chat().ID, ts.RunAt, ts.Timezone, prompt)
		if err != nil {
			return r.replyError(c, err)
		}
		return c.Send(fmt.Sprintf("Task #%d scheduled once for %s (%s).",
			task.ID, ts.RunAt.Format("2006-01-02 15:04"), task.Timezone))
	}

	task, err := r.sched.AddDaily(ctx, c.Chat().ID, ts.Hour, ts.Minute, ts.Timezone, days, prompt, "")
	if err != nil {
		return r.replyError(c, err)
	}
	when := fmt.Sprintf("%02d:%02d", ts.Hour, ts.Minute)
	if len(days) > 0 {
		when += " on " + strings.Join(days, ",")
	}
	return c.Send(fmt.Sprintf("Task #%d created, runs daily at %s (%s).", task.ID, when, task.Timezone))
}

func (r *Router) handleEvery(c tele.Context) error {
	parts := strings.SplitN(strings.TrimSpace(c.Message().Payload), " ", 2)
	if len(parts) < 2 {
		return c.Send("Usage: /every 1h30m prompt")
	}
	every, err := scheduler.ParseInterval(parts[0])
	if err != nil {
		return r.replyError(c, err)
	}
	prompt := strings.TrimSpace(parts[1])
	if err := r.checkPrompt(prompt); err != nil {
		return c.Send(err.Error())
	}

	task, err := r.sched.AddInterval(context.Background(), c.Chat().ID, every, prompt)
	if err != nil {
		return r.replyError(c, err)
	}
	return c.Send(fmt.Sprintf("Task #%d created, runs every %s (first run in %s).",
		task.ID, every, every))
}

func (r *Router) handleList(c tele.Context) error {
	infos, err := r.sched.List(context.Background(), c.Chat().ID)
	if err != nil {
		return r.replyError(c, err)
	}
	if len(infos) == 0 {
		return c.Send("No tasks yet. Use /add to create one.")
	}

	lines := make([]tgui.H, 0, len(infos))
	for _, info := range infos {
		lines = append(lines, formatTaskLine(info))
	}
	return c.Send(string(tgui.JoinH("\n", lines...)), &tele.SendOptions{ParseMode: tele.ModeHTML})
}

func formatTaskLine(info scheduler.TaskInfo) tgui.H {
	t := info.Task
	var when string
	switch t.Schedule.Kind {
	case model.ScheduleDaily:
		when = fmt.Sprintf("%02d:%02d daily", t.Schedule.Hour, t.Schedule.Minute)
		if len(t.Schedule.Days) > 0 {
			when = fmt.Sprintf("%02d:%02d on %s", t.Schedule.Hour, t.Schedule.Minute, strings.Join(t.Schedule.Days, ","))
		}
	case model.ScheduleInterval:
		when = fmt.Sprintf("every %s", t.Schedule.Every)
	case model.ScheduleOnce:
		when = "once at " + t.Schedule.RunAt.Format("2006-01-02 15:04")
	}
	state := ""
	if t.Paused {
		state = " [paused]"
	} else if !info.Next.IsZero() {
		state = " → next " + info.Next.Format("01-02 15:04")
	}
	return tgui.JoinH(" ",
		tgui.B(fmt.Sprintf("#%d", t.ID)),
		tgui.Esc(fmt.Sprintf("%s (%s)%s:", when, t.Timezone, state)),
		tgui.I(tgui.Clamp(t.Prompt, 80)))
}

// idCommand builds a handler for the pause/resume/run/delete family, which
// all take a single task id and differ only in the scheduler call.
func (r *Router) idCommand(verb string, op func(ctx context.Context, id, chatID int64) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
		if err != nil {
			return c.Send("Give me a numeric task id.")
		}
		if err := op(context.Background(), id, c.Chat().ID); err != nil {
			return r.replyError(c, err)
		}
		return c.Send(fmt.Sprintf("Task #%d %s.", id, verb))
	}
}

func (r *Router) handleEdit(c tele.Context) error {
	parts := strings.SplitN(strings.TrimSpace(c.Message().Payload), " ", 2)
	if len(parts) < 2 {
		return c.Send("Usage: /edit id new prompt")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return c.Send("Give me a numeric task id.")
	}
	prompt := strings.TrimSpace(parts[1])
	if err := r.checkPrompt(prompt); err != nil {
		return c.Send(err.Error())
	}
	if err := r.sched.EditPrompt(context.Background(), id, c.Chat().ID, prompt); err != nil {
		return r.replyError(c, err)
	}
	return c.Send(fmt.Sprintf("Task #%d prompt updated.", id))
}

func (r *Router) handleStatus(c tele.Context) error {
	snap := r.sched.Status()
	state := "stopped"
	if snap.Running {
		state = "running"
	}
	return c.Send(fmt.Sprintf("Scheduler %s, %d jobs (%d active, %d paused), timezone %s.",
		state, snap.Jobs, snap.Active, snap.Paused, snap.Timezone))
}

func (r *Router) checkPrompt(prompt string) error {
	if prompt == "" {
		return errors.New("The prompt is empty.")
	}
	if len(prompt) > r.opt.MaxPromptChars {
		return fmt.Errorf("Prompt too long, max %d characters.", r.opt.MaxPromptChars)
	}
	return nil
}

// replyError maps internal errors to user-facing replies. Validation errors
// carry their own safe wording; anything else stays generic so internals
// never leak into the chat.
func (r *Router) replyError(c tele.Context, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		return c.Send("Task not found.")
	case model.IsValidation(err):
		return c.Send("Could not do that: " + err.Error())
	default:
		r.log.Error("command failed", logx.Int64("chat", c.Chat().ID), logx.Err(err))
		return c.Send("Something went wrong, try again later.")
	}
}

// looksLikeZone filters out tokens that LoadLocation would accept but a user
// almost certainly meant as prompt text (LoadLocation("") is valid UTC).
func looksLikeZone(s string) bool {
	return strings.Contains(s, "/") || s == "UTC" || s == "Local"
}
