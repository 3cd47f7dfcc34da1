package telegram

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ismatov/assistant-bot/internal/music"
	"github.com/ismatov/assistant-bot/internal/session"
	"github.com/ismatov/assistant-bot/internal/tasks"
	"github.com/ismatov/assistant-bot/internal/weather"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *InlineKeyboardMarkup
}

type audioSend struct {
	chatID  int64
	path    string
	title   string
	caption string
}

// fakeTransport records every send-surface call.
type fakeTransport struct {
	sent    []sentMessage
	edits   []sentMessage
	deleted []int64
	actions []string
	answers []string
	audio   []audioSend

	sendErr error
	nextID  int64
}

func (f *fakeTransport) Send(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	f.nextID++
	return &Message{MessageID: f.nextID, Chat: &Chat{ID: chatID}, Text: text}, nil
}

func (f *fakeTransport) EditHTML(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	f.edits = append(f.edits, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) SendChatAction(ctx context.Context, chatID int64, action string) error {
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) SendAudio(ctx context.Context, chatID int64, path, title, caption string) error {
	f.audio = append(f.audio, audioSend{chatID: chatID, path: path, title: title, caption: caption})
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) sentMessage {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeAI struct {
	reply   string
	err     error
	prompts []string
	models  []string
}

func (f *fakeAI) Send(ctx context.Context, prompt string, history []session.Turn, model string) (string, []session.Turn, error) {
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	if f.err != nil {
		return "", history, f.err
	}
	updated := append(append([]session.Turn(nil), history...),
		session.Turn{Role: session.RoleUser, Text: prompt},
		session.Turn{Role: session.RoleModel, Text: f.reply},
	)
	return f.reply, updated, nil
}

type fakeWeather struct {
	report string
	err    error
}

func (f *fakeWeather) FetchAndFormat(ctx context.Context, city, units string) (string, error) {
	return f.report, f.err
}

type fakeDownloader struct {
	track   *music.Track
	err     error
	queries []string
}

func (f *fakeDownloader) Download(ctx context.Context, query string) (*music.Track, error) {
	f.queries = append(f.queries, query)
	return f.track, f.err
}

type fakeRecorder struct {
	commands []string
}

func (f *fakeRecorder) Record(userID int64, command string) error {
	f.commands = append(f.commands, command)
	return nil
}

type bridgeFixture struct {
	bridge    *Bridge
	transport *fakeTransport
	ai        *fakeAI
	weather   *fakeWeather
	music     *fakeDownloader
	recorder  *fakeRecorder
	tasks     *tasks.Store
	sessions  *session.Store
}

func newFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := tasks.NewStore(filepath.Join(t.TempDir(), "tasks.json"), logger)
	if err != nil {
		t.Fatalf("tasks.NewStore() error: %v", err)
	}

	f := &bridgeFixture{
		transport: &fakeTransport{},
		ai:        &fakeAI{reply: "hello there"},
		weather:   &fakeWeather{report: "☀️ fine"},
		music:     &fakeDownloader{},
		recorder:  &fakeRecorder{},
		tasks:     store,
		sessions:  session.NewStore(logger),
	}
	f.bridge = NewBridge(BridgeConfig{
		Transport:    f.transport,
		AI:           f.ai,
		Weather:      f.weather,
		Music:        f.music,
		Tasks:        f.tasks,
		Sessions:     f.sessions,
		Activity:     f.recorder,
		Logger:       logger,
		DefaultModel: "gemini-2.5-flash",
		Units:        "metric",
	})
	return f
}

func userMessage(userID int64, text string) *Message {
	return &Message{
		MessageID: 1,
		Chat:      &Chat{ID: userID, Type: "private"},
		From:      &User{ID: userID},
		Text:      text,
	}
}

func callback(userID int64, data string) *CallbackQuery {
	return &CallbackQuery{
		ID:      "cb-1",
		From:    &User{ID: userID},
		Message: &Message{MessageID: 42, Chat: &Chat{ID: userID}},
		Data:    data,
	}
}

func TestStartCommand(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/start"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "assistant bot") {
		t.Errorf("greeting = %q", got)
	}
	if f.recorder.commands[0] != "/start" {
		t.Errorf("recorded = %v", f.recorder.commands)
	}
}

func TestFreeTextChats(t *testing.T) {
	f := newFixture(t)
	f.ai.reply = "some **bold** text"

	f.bridge.handleMessage(context.Background(), userMessage(1, "hi"))

	got := f.transport.lastSent(t).text
	if got != "some <b>bold</b> text" {
		t.Errorf("reply = %q", got)
	}
	if f.sessions.Mode(1) != session.ModeChatting {
		t.Errorf("mode = %v, want chatting", f.sessions.Mode(1))
	}
	if history := f.sessions.Get(1).History; len(history) != 2 {
		t.Errorf("history has %d turns, want 2", len(history))
	}
	if f.ai.models[0] != "gemini-2.5-flash" {
		t.Errorf("model = %q", f.ai.models[0])
	}
}

func TestChatUsesSelectedModel(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetModel(1, "gemini-2.5-pro")

	f.bridge.handleMessage(context.Background(), userMessage(1, "hi"))

	if f.ai.models[0] != "gemini-2.5-pro" {
		t.Errorf("model = %q, want gemini-2.5-pro", f.ai.models[0])
	}
}

func TestChatFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	f.ai.err = errors.New("quota exceeded")

	f.bridge.handleMessage(context.Background(), userMessage(1, "hi"))

	if got := f.transport.lastSent(t).text; got != apologyText {
		t.Errorf("reply = %q, want apology", got)
	}
	// A failed exchange must not advance the transcript.
	if history := f.sessions.Get(1).History; len(history) != 0 {
		t.Errorf("history has %d turns, want 0", len(history))
	}
}

func TestAddTaskWithArgument(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/addtask Buy milk"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "Added task #1") {
		t.Errorf("reply = %q", got)
	}
	if list := f.tasks.List(1); len(list) != 1 || list[0].Text != "Buy milk" {
		t.Errorf("tasks = %+v", list)
	}
}

func TestAddTaskPromptFlow(t *testing.T) {
	f := newFixture(t)

	f.bridge.handleMessage(context.Background(), userMessage(1, "/addtask"))
	if f.sessions.Mode(1) != session.ModeAwaitingTaskText {
		t.Fatalf("mode = %v, want awaiting task text", f.sessions.Mode(1))
	}

	f.bridge.handleMessage(context.Background(), userMessage(1, "Buy milk"))
	if list := f.tasks.List(1); len(list) != 1 {
		t.Fatalf("tasks = %+v", list)
	}
	if f.sessions.Mode(1) != session.ModeIdle {
		t.Errorf("mode = %v, want idle after capture", f.sessions.Mode(1))
	}
}

func TestTaskButtonRestoresChatMode(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetMode(1, session.ModeChatting)

	f.bridge.handleCallback(context.Background(), callback(1, "task_add"))
	if f.sessions.Mode(1) != session.ModeAwaitingTaskText {
		t.Fatalf("mode = %v, want awaiting task text", f.sessions.Mode(1))
	}

	f.bridge.handleMessage(context.Background(), userMessage(1, "Buy milk"))
	if f.sessions.Mode(1) != session.ModeChatting {
		t.Errorf("mode = %v, want chatting restored", f.sessions.Mode(1))
	}
}

func TestCancelWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/addtask"))

	f.bridge.handleMessage(context.Background(), userMessage(1, "/cancel"))
	if got := f.transport.lastSent(t).text; !strings.Contains(got, "Cancelled") {
		t.Errorf("reply = %q", got)
	}
	if f.sessions.Mode(1) != session.ModeIdle {
		t.Errorf("mode = %v, want idle", f.sessions.Mode(1))
	}
}

func TestCancelWithNothingPending(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/cancel"))

	if got := f.transport.lastSent(t).text; got != "Nothing to cancel." {
		t.Errorf("reply = %q", got)
	}
}

func TestClearResetsSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetModel(1, "gemini-2.5-pro")
	f.sessions.AppendHistory(1, session.Turn{Role: session.RoleUser, Text: "hi"})

	f.bridge.handleMessage(context.Background(), userMessage(1, "/clear"))

	state := f.sessions.Get(1)
	if len(state.History) != 0 || state.Model != "" {
		t.Errorf("session not reset: %+v", state)
	}
}

func TestTasksOverview(t *testing.T) {
	f := newFixture(t)
	f.tasks.Add(1, "first")
	f.tasks.Add(1, "second")

	f.bridge.handleMessage(context.Background(), userMessage(1, "/tasks"))

	sent := f.transport.lastSent(t)
	if !strings.Contains(sent.text, "1. first") || !strings.Contains(sent.text, "2. second") {
		t.Errorf("overview = %q", sent.text)
	}
	if sent.keyboard == nil {
		t.Fatal("overview has no keyboard")
	}
	// Two done rows plus the add/clear action row.
	if got := len(sent.keyboard.InlineKeyboard); got != 3 {
		t.Errorf("keyboard has %d rows, want 3", got)
	}
	if data := sent.keyboard.InlineKeyboard[0][0].Data; data != "task_done:1" {
		t.Errorf("first button data = %q", data)
	}
}

func TestTasksOverviewEmpty(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/tasks"))

	sent := f.transport.lastSent(t)
	if !strings.Contains(sent.text, "no tasks yet") {
		t.Errorf("overview = %q", sent.text)
	}
	// Only the add button; nothing to clear.
	if got := len(sent.keyboard.InlineKeyboard); got != 1 {
		t.Errorf("keyboard has %d rows, want 1", got)
	}
}

func TestTaskDoneCallback(t *testing.T) {
	f := newFixture(t)
	f.tasks.Add(1, "first")

	f.bridge.handleCallback(context.Background(), callback(1, "task_done:1"))

	if list := f.tasks.List(1); len(list) != 0 {
		t.Errorf("tasks = %+v, want empty", list)
	}
	if len(f.transport.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(f.transport.edits))
	}
	if f.transport.answers[0] != "Task completed ✅" {
		t.Errorf("answer = %q", f.transport.answers[0])
	}
}

func TestTaskDoneUnknownID(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleCallback(context.Background(), callback(1, "task_done:999"))

	if f.transport.answers[0] != "Task not found." {
		t.Errorf("answer = %q", f.transport.answers[0])
	}
	if len(f.transport.edits) != 0 {
		t.Errorf("unexpected overview edit")
	}
}

func TestTaskClearCallback(t *testing.T) {
	f := newFixture(t)
	f.tasks.Add(1, "first")
	f.tasks.Add(1, "second")

	f.bridge.handleCallback(context.Background(), callback(1, "task_clear"))

	if list := f.tasks.List(1); len(list) != 0 {
		t.Errorf("tasks = %+v, want empty", list)
	}
}

func TestModelSelection(t *testing.T) {
	f := newFixture(t)

	f.bridge.handleMessage(context.Background(), userMessage(1, "/select_model"))
	sent := f.transport.lastSent(t)
	if sent.keyboard == nil || len(sent.keyboard.InlineKeyboard) != 4 {
		t.Fatalf("model keyboard = %+v", sent.keyboard)
	}

	f.bridge.handleCallback(context.Background(), callback(1, "model:gemini-2.5-pro"))
	if got := f.sessions.Model(1, "fallback"); got != "gemini-2.5-pro" {
		t.Errorf("model = %q", got)
	}
	if edit := f.transport.edits[0].text; !strings.Contains(edit, "Model set to") {
		t.Errorf("edit = %q", edit)
	}
}

func TestWeatherCommand(t *testing.T) {
	f := newFixture(t)
	f.weather.report = "☀️ <b>Dushanbe</b> report"

	f.bridge.handleMessage(context.Background(), userMessage(1, "/weather Dushanbe"))

	if got := f.transport.lastSent(t).text; got != "☀️ <b>Dushanbe</b> report" {
		t.Errorf("reply = %q", got)
	}
}

func TestWeatherCommandUsage(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/weather"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "Usage: /weather") {
		t.Errorf("reply = %q", got)
	}
}

func TestWeatherCityNotFound(t *testing.T) {
	f := newFixture(t)
	f.weather.err = weather.ErrLocationNotFound

	f.bridge.handleMessage(context.Background(), userMessage(1, "/weather Atlantis"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "couldn't find a city") {
		t.Errorf("reply = %q", got)
	}
}

func TestWeatherServiceError(t *testing.T) {
	f := newFixture(t)
	f.weather.err = errors.New("upstream 502")

	f.bridge.handleMessage(context.Background(), userMessage(1, "/weather Dushanbe"))

	got := f.transport.lastSent(t).text
	if !strings.Contains(got, "unavailable") {
		t.Errorf("reply = %q", got)
	}
	if strings.Contains(got, "502") {
		t.Errorf("raw error leaked to user: %q", got)
	}
}

func TestSongFlow(t *testing.T) {
	f := newFixture(t)
	f.music.track = &music.Track{Path: "/tmp/x/song.mp3", Title: "Test Song"}

	f.bridge.handleMessage(context.Background(), userMessage(1, "/song test song"))

	if f.music.queries[0] != "test song" {
		t.Errorf("query = %q", f.music.queries[0])
	}
	if len(f.transport.audio) != 1 {
		t.Fatalf("audio sends = %d, want 1", len(f.transport.audio))
	}
	sent := f.transport.audio[0]
	if sent.title != "Test Song" || sent.caption != "Test Song\nSource: YouTube" {
		t.Errorf("audio = %+v", sent)
	}
	// Status message edited to the downloading phase and then deleted.
	if len(f.transport.edits) != 1 || !strings.Contains(f.transport.edits[0].text, "Downloading") {
		t.Errorf("edits = %+v", f.transport.edits)
	}
	if len(f.transport.deleted) != 1 {
		t.Errorf("deleted = %v, want the status message", f.transport.deleted)
	}
}

func TestSongDownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.music.err = errors.New("no results")

	f.bridge.handleMessage(context.Background(), userMessage(1, "/song unknown"))

	if len(f.transport.audio) != 0 {
		t.Errorf("unexpected audio send")
	}
	if edit := f.transport.edits[0].text; !strings.Contains(edit, "couldn't find or download") {
		t.Errorf("edit = %q", edit)
	}
}

func TestSongUsage(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/song"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "Usage: /song") {
		t.Errorf("reply = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.bridge.handleMessage(context.Background(), userMessage(1, "/bogus"))

	if got := f.transport.lastSent(t).text; !strings.Contains(got, "Unknown command") {
		t.Errorf("reply = %q", got)
	}
}

func TestIgnoresBotMessages(t *testing.T) {
	f := newFixture(t)
	msg := userMessage(1, "hi")
	msg.From.IsBot = true

	f.bridge.handleMessage(context.Background(), msg)
	if len(f.transport.sent) != 0 {
		t.Errorf("replied to a bot: %+v", f.transport.sent)
	}
}

func TestStartStopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t)
	updates := make(chan Update)
	f.bridge.updates = updates
	close(updates)

	done := make(chan struct{})
	go func() {
		f.bridge.Start(context.Background())
		close(done)
	}()
	<-done
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		command string
		args    string
	}{
		{"/start", "/start", ""},
		{"/weather Dushanbe", "/weather", "Dushanbe"},
		{"/weather@assistant_bot New York", "/weather", "New York"},
		{"/ADDTASK buy milk", "/addtask", "buy milk"},
	}

	for _, tt := range tests {
		command, args := splitCommand(tt.in)
		if command != tt.command || args != tt.args {
			t.Errorf("splitCommand(%q) = %q, %q; want %q, %q", tt.in, command, args, tt.command, tt.args)
		}
	}
}
