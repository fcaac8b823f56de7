package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"delayd/internal/adapter/telegram"
	"delayd/internal/delay"
)

func (r *Router) remind(msg *models.Message, args string) string {
	spec, text, ok := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return "usage: /remind <duration> <text>"
	}
	d, err := parseDuration(spec)
	if err != nil || d <= 0 {
		return fmt.Sprintf("bad duration %q, use e.g. 10m, 2h or 1d", spec)
	}
	if d > r.maxAge {
		return "that is too far ahead"
	}

	rem := telegram.Reminder{ChatID: msg.Chat.ID, Text: text}
	if msg.From != nil {
		rem.UserID = msg.From.ID
	}
	job, err := r.q.Add(delay.Spec{Time: r.now().Add(d), Message: rem}, false)
	if err != nil {
		r.log.Error("schedule reminder", "chat_id", msg.Chat.ID, "error", err)
		return "could not schedule the reminder"
	}
	return fmt.Sprintf("ok, %s at %s\nid: %s", text, job.At().UTC().Format(time.RFC3339), job.ID())
}

func (r *Router) cancel(msg *models.Message, id string) string {
	if id == "" {
		return "usage: /cancel <id>"
	}
	job, ok := r.q.Find(id)
	if !ok {
		return "no such reminder"
	}
	if rem, ok := telegram.DecodeReminder(job.Message()); !ok || rem.ChatID != msg.Chat.ID {
		return "no such reminder"
	}
	if _, ok := r.q.Remove(id, false); !ok {
		return "no such reminder"
	}
	return "cancelled"
}

func (r *Router) list(msg *models.Message) string {
	var b strings.Builder
	for _, job := range r.q.Jobs() {
		rem, ok := telegram.DecodeReminder(job.Message())
		if !ok || rem.ChatID != msg.Chat.ID {
			continue
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", job.At().UTC().Format(time.RFC3339), job.ID(), rem.Text)
	}
	if b.Len() == 0 {
		return "nothing scheduled"
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseDuration accepts time.ParseDuration syntax plus a whole-day "Nd" form.
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
