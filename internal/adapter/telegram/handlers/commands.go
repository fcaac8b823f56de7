// Package handlers implements the bot commands.
package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"delayd/internal/adapter/telegram"
	"delayd/internal/delay"
)

// Queue is the part of *delay.Scheduler the commands use.
type Queue interface {
	Add(spec delay.Spec, silent bool) (delay.Job, error)
	Find(id string) (delay.Job, bool)
	Remove(id string, silent bool) (delay.Job, bool)
	Jobs() []delay.Job
}

// Router dispatches commands to their handlers.
type Router struct {
	q      Queue
	now    func() time.Time
	log    *slog.Logger
	maxAge time.Duration
}

// NewRouter creates a Router. now defaults to time.Now.
func NewRouter(q Queue, now func() time.Time, log *slog.Logger) *Router {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{q: q, now: now, log: log.With("component", "telegram"), maxAge: 366 * 24 * time.Hour}
}

// Handle is a telegram.HandlerFunc. Text that is not a command is ignored.
func (r *Router) Handle(ctx context.Context, s telegram.Sender, upd *models.Update) {
	msg := upd.Message
	if msg == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	cmd, args, _ := strings.Cut(msg.Text, " ")
	cmd = strings.TrimPrefix(cmd, "/")
	// "/remind@delayd_bot" in group chats
	cmd, _, _ = strings.Cut(cmd, "@")
	args = strings.TrimSpace(args)

	var reply string
	switch cmd {
	case "start", "help":
		reply = usage
	case "ping":
		reply = "pong"
	case "remind":
		reply = r.remind(msg, args)
	case "cancel":
		reply = r.cancel(msg, args)
	case "list":
		reply = r.list(msg)
	default:
		reply = "unknown command, try /help"
	}

	if _, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		r.log.Error("send reply", "command", cmd, "chat_id", msg.Chat.ID, "error", err)
	}
}

const usage = `I send you a message later.

/remind <duration> <text>  e.g. /remind 1h30m stretch
/list                      pending reminders of this chat
/cancel <id>               drop a reminder
/ping`
