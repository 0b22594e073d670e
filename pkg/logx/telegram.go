package logx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// telegramSink forwards selected log lines to an operator chat.
// It never blocks the caller: lines are queued and dropped when the queue is full.
type telegramSink struct {
	bot *tele.Bot

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTelegramSink(cfg TelegramConfig) (*telegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is not set")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	s := &telegramSink{bot: b, queue: make(chan string, 256)}
	s.apply(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
	return s, nil
}

func (s *telegramSink) apply(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	s.mu.Lock()
	s.chatID = cfg.ChatID
	s.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.mu.Unlock()
}

func (s *telegramSink) close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *telegramSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.mu.Lock()
			chatID := s.chatID
			s.mu.Unlock()
			_, _ = s.bot.Send(&tele.Chat{ID: chatID}, msg, &tele.SendOptions{DisableWebPagePreview: true})
		}
	}
}

func (s *telegramSink) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.InfoLevel, p)
}

func (s *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s.mu.Lock()
	min := s.minLevel
	lim := s.limiter
	s.mu.Unlock()

	if level < min || !lim.Allow() {
		return len(p), nil
	}

	msg := formatAlertLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case s.queue <- msg:
	default:
		// drop
	}
	return len(p), nil
}

// formatAlertLine turns a zerolog JSON line into a compact human-readable alert.
func formatAlertLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	for k, v := range m {
		switch k {
		case "time", "level", "message", "caller":
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(v), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
