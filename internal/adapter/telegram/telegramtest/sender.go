// Package telegramtest provides a recording telegram.Sender for tests.
package telegramtest

import (
	"context"
	"errors"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sent is one recorded message.
type Sent struct {
	ChatID int64
	Text   string
}

// Sender records every SendMessage call.
type Sender struct {
	mu   sync.Mutex
	sent []Sent
	Fail bool
}

func (s *Sender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, errors.New("telegram unavailable")
	}
	id, _ := p.ChatID.(int64)
	s.sent = append(s.sent, Sent{ChatID: id, Text: p.Text})
	return &models.Message{Text: p.Text}, nil
}

// Sent returns a copy of the recorded messages.
func (s *Sender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Last returns the most recent message, or the zero Sent.
func (s *Sender) Last() Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return Sent{}
	}
	return s.sent[len(s.sent)-1]
}

// Update builds a text message update from user in chat.
func Update(chatID, userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: chatID},
		From: &models.User{ID: userID},
		Text: text,
	}}
}
