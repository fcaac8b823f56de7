package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"

	"delayd/internal/delay"
)

// Reminder is the message of a job scheduled from chat.
type Reminder struct {
	ChatID int64  `json:"chatId"`
	Text   string `json:"text"`
	UserID int64  `json:"userId,omitempty"`
}

// DecodeReminder reads a Reminder from a job message of any shape. It
// reports false when the message has no chatId.
func DecodeReminder(msg any) (Reminder, bool) {
	var r Reminder
	switch m := msg.(type) {
	case Reminder:
		r = m
	case *Reminder:
		if m == nil {
			return Reminder{}, false
		}
		r = *m
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			return Reminder{}, false
		}
		if err := json.Unmarshal(b, &r); err != nil {
			return Reminder{}, false
		}
	}
	return r, r.ChatID != 0
}

// Notifier sends fired reminders back to their chat from one goroutine.
type Notifier struct {
	sender  Sender
	log     *slog.Logger
	timeout time.Duration
	queue   chan Reminder
	done    chan struct{}
}

// NewNotifier starts the sending goroutine. Close stops it.
func NewNotifier(s Sender, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{
		sender:  s,
		log:     log.With("component", "telegram"),
		timeout: 10 * time.Second,
		queue:   make(chan Reminder, 256),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Bind subscribes to job events and returns the unsubscribe func.
func (n *Notifier) Bind(sched *delay.Scheduler) func() {
	return sched.OnJob(n.Handle)
}

// Handle queues job for sending when it carries a reminder.
func (n *Notifier) Handle(job delay.Job) {
	r, ok := DecodeReminder(job.Message())
	if !ok {
		return
	}
	select {
	case n.queue <- r:
	default:
		n.log.Warn("reminder queue full, dropping", "job_id", job.ID(), "chat_id", r.ChatID)
	}
}

// Close sends what is queued and stops.
func (n *Notifier) Close() {
	close(n.queue)
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for r := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: r.ChatID, Text: "⏰ " + r.Text})
		cancel()
		if err != nil {
			n.log.Error("send reminder", "chat_id", r.ChatID, "error", err)
		}
	}
}
