// Package broadcast runs the daily weather digest: a long-lived loop
// that wakes at a configured wall-clock time, assembles a multi-city
// report through the weather collaborator, and delivers it to a fixed
// set of chats. One city or one chat failing never stops the rest, and
// the loop holds no per-user state.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ismatov/assistant-bot/internal/weather"
)

// Fetcher is the weather collaborator contract: look up one topic and
// return the formatted report section for it.
type Fetcher interface {
	FetchAndFormat(ctx context.Context, city, units string) (string, error)
}

// Sender delivers one digest to one chat.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// sectionSeparator joins digest sections.
const sectionSeparator = "\n\n"

// deliverTimeout bounds the fetch-and-deliver phase of one cycle.
const deliverTimeout = 5 * time.Minute

// Config holds the broadcast schedule.
type Config struct {
	// SendAt is the wall-clock fire time; only its hour, minute, and
	// second are used.
	SendAt time.Time

	// ChatIDs are the delivery destinations.
	ChatIDs []int64

	// Cities are the digest topics, reported in order.
	Cities []string

	// Units is the measurement system passed to the fetcher.
	Units string
}

// Broadcaster owns the daily digest loop.
type Broadcaster struct {
	cfg     Config
	fetcher Fetcher
	sender  Sender
	logger  *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

// New creates a broadcaster. It does not start the loop; call Run.
func New(cfg Config, fetcher Fetcher, sender Sender, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:     cfg,
		fetcher: fetcher,
		sender:  sender,
		logger:  logger,
		now:     time.Now,
	}
}

// untilNext returns the delay from now until the next occurrence of
// the target time of day, strictly in the future. A target equal to
// now rolls to tomorrow, so an exact boundary never fires twice.
func untilNext(sendAt, now time.Time) time.Duration {
	target := time.Date(
		now.Year(), now.Month(), now.Day(),
		sendAt.Hour(), sendAt.Minute(), sendAt.Second(), 0,
		now.Location(),
	)
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}

// Run executes the broadcast loop until ctx is cancelled. The wait for
// the next fire time is interruptible; a cancellation that arrives
// mid-cycle lets the current cycle finish best-effort.
func (b *Broadcaster) Run(ctx context.Context) {
	if len(b.cfg.ChatIDs) == 0 {
		b.logger.Info("weather broadcast has no destination chats, exiting")
		return
	}

	b.logger.Info("daily weather broadcast started",
		"send_at", b.cfg.SendAt.Format("15:04"),
		"chats", len(b.cfg.ChatIDs),
		"cities", len(b.cfg.Cities),
	)

	for {
		delay := untilNext(b.cfg.SendAt, b.now())
		b.logger.Debug("next weather broadcast scheduled", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.logger.Info("weather broadcast stopped")
			return
		case <-timer.C:
		}

		cycleCtx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		b.runCycle(cycleCtx)
		cancel()
	}
}

// runCycle assembles and delivers one digest. An empty digest (every
// city failed, or no cities configured) skips delivery entirely.
func (b *Broadcaster) runCycle(ctx context.Context) {
	cycle := uuid.NewString()

	digest := b.BuildDigest(ctx)
	if strings.TrimSpace(digest) == "" {
		b.logger.Info("weather digest was empty, skipping broadcast", "cycle", cycle)
		return
	}

	for _, chatID := range b.cfg.ChatIDs {
		if err := b.sender.SendHTML(ctx, chatID, digest); err != nil {
			b.logger.Error("weather broadcast delivery failed",
				"cycle", cycle,
				"chat_id", chatID,
				"error", err,
			)
			continue
		}
		b.logger.Info("weather broadcast delivered",
			"cycle", cycle,
			"chat_id", chatID,
		)
	}
}

// BuildDigest fetches every configured city and joins the sections in
// city order with a blank line. A city that cannot be found and a city
// whose lookup failed produce distinct inline warnings instead of
// aborting the digest.
func (b *Broadcaster) BuildDigest(ctx context.Context) string {
	var sections []string

	for _, raw := range b.cfg.Cities {
		city := strings.TrimSpace(raw)
		if city == "" {
			continue
		}

		report, err := b.fetcher.FetchAndFormat(ctx, city, b.cfg.Units)
		switch {
		case errors.Is(err, weather.ErrLocationNotFound):
			sections = append(sections, fmt.Sprintf("⚠️ Could not find coordinates for %s.", city))
		case err != nil:
			b.logger.Warn("weather digest city failed",
				"city", city,
				"error", err,
			)
			sections = append(sections, fmt.Sprintf("⚠️ Failed to load weather for %s.", city))
		default:
			sections = append(sections, report)
		}
	}

	return strings.Join(sections, sectionSeparator)
}
