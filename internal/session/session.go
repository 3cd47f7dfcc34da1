// Package session holds per-user conversation state: the current
// interaction mode, the selected model, and the ordered chat history.
// State is process-local and keyed by Telegram user id; it exists from
// first access until Clear.
package session

// Mode is the user's current interaction mode. Free text is routed by
// mode: chatting goes to the AI collaborator, awaiting-task-text is
// captured as a new to-do entry.
type Mode int

const (
	// ModeIdle is the default mode for a fresh session.
	ModeIdle Mode = iota

	// ModeAwaitingTaskText means the next message is a task description.
	ModeAwaitingTaskText

	// ModeChatting means an AI conversation is in progress.
	ModeChatting
)

// String returns the mode name for logs.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAwaitingTaskText:
		return "awaiting_task_text"
	case ModeChatting:
		return "chatting"
	default:
		return "unknown"
	}
}

// Turn is one exchange unit in a conversation history.
type Turn struct {
	// Role is RoleUser or RoleModel.
	Role string
	// Text is the turn content.
	Text string
}

// History roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// State is the per-user conversation record. The zero value is a valid
// fresh session: idle, no history, default model.
type State struct {
	Mode    Mode
	Model   string
	History []Turn

	// snapshot preserves the pre-borrow mode while a mode borrow is
	// active. It is set if and only if borrowed is true; snapshotNone
	// distinguishes "was idle" from "no snapshot taken".
	borrowed     bool
	snapshot     Mode
	snapshotNone bool
}
