package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ismatov/assistant-bot/internal/gemini"
	"github.com/ismatov/assistant-bot/internal/markup"
	"github.com/ismatov/assistant-bot/internal/music"
	"github.com/ismatov/assistant-bot/internal/session"
	"github.com/ismatov/assistant-bot/internal/tasks"
	"github.com/ismatov/assistant-bot/internal/weather"
)

// Transport abstracts the Bot API send surface for testability. The
// real implementation is *Client.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (*Message, error)
	EditHTML(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendAudio(ctx context.Context, chatID int64, path, title, caption string) error
}

// AI is the chat collaborator contract. The real implementation is
// *gemini.Client.
type AI interface {
	Send(ctx context.Context, prompt string, history []session.Turn, model string) (string, []session.Turn, error)
}

// Fetcher looks up and formats a weather report for one city.
type Fetcher interface {
	FetchAndFormat(ctx context.Context, city, units string) (string, error)
}

// Downloader resolves a free-text query to a local audio file.
type Downloader interface {
	Download(ctx context.Context, query string) (*music.Track, error)
}

// Recorder appends command usage to the activity log.
type Recorder interface {
	Record(userID int64, command string) error
}

// handleTimeout bounds how long a single inbound update may be
// processed (song downloads are the slow path).
const handleTimeout = 5 * time.Minute

// apologyText is the only failure text users ever see from the AI
// path. Raw errors stay in the logs.
const apologyText = "Sorry, I couldn't process your request at the moment."

const taskPromptText = "✍️ Send me the task text."

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Transport Transport
	Updates   <-chan Update
	AI        AI
	Weather   Fetcher
	Music     Downloader
	Tasks     *tasks.Store
	Sessions  *session.Store
	Activity  Recorder // optional
	Logger    *slog.Logger

	DefaultModel string
	Units        string
}

// Bridge receives Telegram updates and routes them: slash commands to
// their handlers, callback queries to keyboard actions, free text to
// the AI chat or the pending task capture depending on session mode.
type Bridge struct {
	transport Transport
	updates   <-chan Update
	ai        AI
	weather   Fetcher
	music     Downloader
	tasks     *tasks.Store
	sessions  *session.Store
	activity  Recorder
	logger    *slog.Logger

	defaultModel string
	units        string
}

// NewBridge creates a Telegram message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transport:    cfg.Transport,
		updates:      cfg.Updates,
		ai:           cfg.AI,
		weather:      cfg.Weather,
		music:        cfg.Music,
		tasks:        cfg.Tasks,
		sessions:     cfg.Sessions,
		activity:     cfg.Activity,
		logger:       logger,
		defaultModel: cfg.DefaultModel,
		units:        cfg.Units,
	}
}

// Commands is the command menu the bot publishes at startup.
func Commands() []BotCommand {
	return []BotCommand{
		{Command: "start", Description: "Greeting and overview"},
		{Command: "help", Description: "List available commands"},
		{Command: "tasks", Description: "Show your to-do list"},
		{Command: "addtask", Description: "Add a task"},
		{Command: "weather", Description: "Current weather for a city"},
		{Command: "song", Description: "Find and download a song"},
		{Command: "select_model", Description: "Choose the AI model"},
		{Command: "clear", Description: "Forget the conversation"},
		{Command: "cancel", Description: "Cancel the current action"},
	}
}

// Start consumes updates until ctx is cancelled or the update channel
// closes. Updates are handled serially; one slow download delays the
// next update rather than racing it.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("telegram bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bridge shutting down")
			return
		case u, ok := <-b.updates:
			if !ok {
				b.logger.Info("telegram update channel closed, bridge stopping")
				return
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bridge) handleUpdate(ctx context.Context, u Update) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}

	chatID := msg.Chat.ID
	userID := chatID
	if msg.From != nil {
		userID = msg.From.ID
	}
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		command, args := splitCommand(text)
		b.record(userID, command)
		b.handleCommand(ctx, chatID, userID, command, args)
		return
	}

	switch b.sessions.Mode(userID) {
	case session.ModeAwaitingTaskText:
		b.captureTask(ctx, chatID, userID, text)
	default:
		b.chat(ctx, chatID, userID, text)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, chatID, userID int64, command, args string) {
	b.logger.Info("telegram command received",
		"user_id", userID,
		"command", command,
	)

	switch command {
	case "/start":
		b.sessions.SetMode(userID, session.ModeIdle)
		b.reply(ctx, chatID, greetingText)
	case "/help":
		b.reply(ctx, chatID, helpText)
	case "/tasks":
		text, keyboard := b.taskOverview(userID)
		b.replyWithKeyboard(ctx, chatID, text, keyboard)
	case "/addtask":
		if args == "" {
			b.promptForTask(ctx, chatID, userID)
			return
		}
		b.addTask(ctx, chatID, userID, args)
	case "/cancel":
		b.cancel(ctx, chatID, userID)
	case "/clear":
		b.sessions.Clear(userID)
		b.reply(ctx, chatID, "🧹 Conversation memory cleared. We start fresh.")
	case "/select_model":
		current := gemini.LabelFor(b.sessions.Model(userID, b.defaultModel))
		text := fmt.Sprintf("🤖 Current model: <b>%s</b>\n\nChoose a model:", html.EscapeString(current))
		b.replyWithKeyboard(ctx, chatID, text, modelKeyboard())
	case "/weather":
		if args == "" {
			b.reply(ctx, chatID, "Usage: /weather <city>\nExample: /weather Dushanbe")
			return
		}
		b.sendWeather(ctx, chatID, args)
	case "/song":
		if args == "" {
			b.reply(ctx, chatID, "Usage: /song <title or artist>\nExample: /song Bohemian Rhapsody")
			return
		}
		b.sendSong(ctx, chatID, args)
	default:
		b.reply(ctx, chatID, "Unknown command. See /help for what I can do.")
	}
}

// chat routes free text through the AI collaborator. The transcript
// only advances on success, so a failed exchange can be retried.
func (b *Bridge) chat(ctx context.Context, chatID, userID int64, text string) {
	b.sessions.SetMode(userID, session.ModeChatting)

	if err := b.transport.SendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Debug("telegram typing indicator failed", "error", err)
	}

	model := b.sessions.Model(userID, b.defaultModel)
	state := b.sessions.Get(userID)

	reply, updated, err := b.ai.Send(ctx, text, state.History, model)
	if err != nil {
		b.logger.Error("ai chat failed",
			"user_id", userID,
			"model", model,
			"error", err,
		)
		b.reply(ctx, chatID, apologyText)
		return
	}
	b.sessions.SetHistory(userID, updated)

	b.reply(ctx, chatID, markup.ToTelegramHTML(reply))
}

// promptForTask borrows the session mode so a chat in progress resumes
// after the task text arrives or the user cancels.
func (b *Bridge) promptForTask(ctx context.Context, chatID, userID int64) {
	b.sessions.BeginBorrow(userID)
	b.sessions.SetMode(userID, session.ModeAwaitingTaskText)
	b.reply(ctx, chatID, taskPromptText)
}

func (b *Bridge) captureTask(ctx context.Context, chatID, userID int64, text string) {
	b.sessions.EndBorrow(userID, session.ModeAwaitingTaskText)
	b.addTask(ctx, chatID, userID, text)
}

func (b *Bridge) addTask(ctx context.Context, chatID, userID int64, text string) {
	task, err := b.tasks.Add(userID, text)
	if errors.Is(err, tasks.ErrEmptyText) {
		b.reply(ctx, chatID, "The task text cannot be empty.")
		return
	}
	if err != nil {
		b.logger.Error("task add failed", "user_id", userID, "error", err)
		b.reply(ctx, chatID, apologyText)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("✅ Added task #%d: %s", task.ID, html.EscapeString(task.Text)))
}

func (b *Bridge) cancel(ctx context.Context, chatID, userID int64) {
	if b.sessions.Mode(userID) != session.ModeAwaitingTaskText {
		b.reply(ctx, chatID, "Nothing to cancel.")
		return
	}
	b.sessions.EndBorrow(userID, session.ModeAwaitingTaskText)
	b.reply(ctx, chatID, "❌ Cancelled.")
}

func (b *Bridge) sendWeather(ctx context.Context, chatID int64, city string) {
	if err := b.transport.SendChatAction(ctx, chatID, "typing"); err != nil {
		b.logger.Debug("telegram typing indicator failed", "error", err)
	}

	report, err := b.weather.FetchAndFormat(ctx, city, b.units)
	switch {
	case errors.Is(err, weather.ErrLocationNotFound):
		b.reply(ctx, chatID, fmt.Sprintf("😕 I couldn't find a city named %q. Check the spelling?", city))
	case err != nil:
		b.logger.Error("weather lookup failed", "city", city, "error", err)
		b.reply(ctx, chatID, "⚠️ The weather service is unavailable right now. Try again later.")
	default:
		b.reply(ctx, chatID, report)
	}
}

// sendSong runs the search-download-upload flow behind a single status
// message that is edited as the phases progress and deleted once the
// audio is delivered. The downloaded file is removed in every outcome.
func (b *Bridge) sendSong(ctx context.Context, chatID int64, query string) {
	status, err := b.transport.Send(ctx, chatID, "🔎 Searching for your song...", nil)
	if err != nil {
		b.logger.Error("song status message failed", "error", err)
		return
	}

	track, err := b.music.Download(ctx, query)
	if err != nil {
		b.logger.Error("song download failed", "query", query, "error", err)
		b.editStatus(ctx, chatID, status, "😔 I couldn't find or download that song. Try a different query.")
		return
	}
	defer func() {
		if err := track.Cleanup(); err != nil {
			b.logger.Warn("song cleanup failed", "path", track.Path, "error", err)
		}
	}()

	b.editStatus(ctx, chatID, status, "⬇️ Downloading and sending the track...")

	caption := fmt.Sprintf("%s\nSource: YouTube", track.Title)
	if err := b.transport.SendAudio(ctx, chatID, track.Path, track.Title, caption); err != nil {
		b.logger.Error("song upload failed", "query", query, "error", err)
		b.editStatus(ctx, chatID, status, "😔 I found the song but couldn't send it. Try again later.")
		return
	}

	if err := b.transport.DeleteMessage(ctx, chatID, status.MessageID); err != nil {
		b.logger.Debug("song status delete failed", "error", err)
	}

	b.logger.Info("song delivered", "chat_id", chatID, "title", track.Title)
}

func (b *Bridge) editStatus(ctx context.Context, chatID int64, status *Message, text string) {
	if err := b.transport.EditHTML(ctx, chatID, status.MessageID, text, nil); err != nil {
		b.logger.Warn("song status edit failed", "error", err)
	}
}

func (b *Bridge) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	b.logger.Info("telegram callback received",
		"user_id", userID,
		"data", cb.Data,
	)

	switch {
	case cb.Data == "task_add":
		b.answer(ctx, cb.ID, "")
		b.promptForTask(ctx, chatID, userID)

	case strings.HasPrefix(cb.Data, "task_done:"):
		id, err := strconv.Atoi(strings.TrimPrefix(cb.Data, "task_done:"))
		if err != nil {
			b.answer(ctx, cb.ID, "Task not found.")
			return
		}
		removed, err := b.tasks.Remove(userID, id)
		if err != nil {
			b.logger.Error("task remove failed", "user_id", userID, "task_id", id, "error", err)
			b.answer(ctx, cb.ID, "Something went wrong.")
			return
		}
		if !removed {
			b.answer(ctx, cb.ID, "Task not found.")
			return
		}
		b.answer(ctx, cb.ID, "Task completed ✅")
		b.refreshOverview(ctx, chatID, userID, cb.Message.MessageID)

	case cb.Data == "task_clear":
		if err := b.tasks.Clear(userID); err != nil {
			b.logger.Error("task clear failed", "user_id", userID, "error", err)
			b.answer(ctx, cb.ID, "Something went wrong.")
			return
		}
		b.answer(ctx, cb.ID, "All tasks cleared 🗑")
		b.refreshOverview(ctx, chatID, userID, cb.Message.MessageID)

	case strings.HasPrefix(cb.Data, "model:"):
		name := strings.TrimPrefix(cb.Data, "model:")
		b.sessions.SetModel(userID, name)
		b.answer(ctx, cb.ID, "")
		label := html.EscapeString(gemini.LabelFor(name))
		if err := b.transport.EditHTML(ctx, chatID, cb.Message.MessageID, "✅ Model set to: <b>"+label+"</b>", nil); err != nil {
			b.logger.Warn("model confirmation edit failed", "error", err)
		}

	default:
		b.answer(ctx, cb.ID, "")
	}
}

func (b *Bridge) refreshOverview(ctx context.Context, chatID, userID, messageID int64) {
	text, keyboard := b.taskOverview(userID)
	if err := b.transport.EditHTML(ctx, chatID, messageID, text, keyboard); err != nil {
		b.logger.Warn("task overview edit failed", "error", err)
	}
}

// taskOverview renders the numbered task list and its inline keyboard.
func (b *Bridge) taskOverview(userID int64) (string, *InlineKeyboardMarkup) {
	list := b.tasks.List(userID)

	var sb strings.Builder
	if len(list) == 0 {
		sb.WriteString("📝 You have no tasks yet.")
	} else {
		sb.WriteString("📝 <b>Your tasks:</b>\n")
		for i, task := range list {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, html.EscapeString(task.Text))
		}
	}

	var rows [][]InlineKeyboardButton
	for _, task := range list {
		rows = append(rows, []InlineKeyboardButton{{
			Text: "✅ " + truncate(task.Text, 32),
			Data: "task_done:" + strconv.Itoa(task.ID),
		}})
	}
	actions := []InlineKeyboardButton{{Text: "➕ Add task", Data: "task_add"}}
	if len(list) > 0 {
		actions = append(actions, InlineKeyboardButton{Text: "🗑 Clear all", Data: "task_clear"})
	}
	rows = append(rows, actions)

	return strings.TrimRight(sb.String(), "\n"), &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func modelKeyboard() *InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	for _, opt := range gemini.ModelOptions {
		rows = append(rows, []InlineKeyboardButton{{
			Text: opt.Label,
			Data: "model:" + opt.Name,
		}})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (b *Bridge) reply(ctx context.Context, chatID int64, text string) {
	b.replyWithKeyboard(ctx, chatID, text, nil)
}

func (b *Bridge) replyWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) {
	if _, err := b.transport.Send(ctx, chatID, text, keyboard); err != nil {
		b.logger.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bridge) answer(ctx context.Context, callbackID, text string) {
	if err := b.transport.AnswerCallback(ctx, callbackID, text); err != nil {
		b.logger.Warn("telegram answer callback failed", "callback_id", callbackID, "error", err)
	}
}

func (b *Bridge) record(userID int64, command string) {
	if b.activity == nil {
		return
	}
	if err := b.activity.Record(userID, command); err != nil {
		b.logger.Warn("activity record failed", "user_id", userID, "error", err)
	}
}

// splitCommand separates "/cmd@bot args" into the bare command and its
// argument string.
func splitCommand(text string) (command, args string) {
	command, args, _ = strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(args)
}

// truncate shortens s to maxLen runes with an ellipsis.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

const greetingText = `👋 Hi! I'm your assistant bot.

I can chat with you, keep your to-do list, fetch the weather, and find music.

📝 /tasks — your to-do list
➕ /addtask — add a task
🌤 /weather <city> — current weather
🎵 /song <query> — find a song
🤖 /select_model — choose the AI model

Just send me a message to start chatting.`

const helpText = `Here's what I can do:

/start — greeting and overview
/tasks — show your to-do list
/addtask <text> — add a task (or send /addtask and then the text)
/weather <city> — current weather for a city
/song <title or artist> — find and download a song
/select_model — choose the AI model for our chat
/clear — forget our conversation
/cancel — cancel the current action

Anything else you send me goes to the AI, and I'll answer in this chat.`
