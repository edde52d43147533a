package internal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

const defaultReaction = "👍"

// async events delivered into the bubbletea loop
type (
	workOrderLoadedMsg struct {
		workOrder *WorkOrder
		err       error
	}
	historyMsg struct {
		messages []ChatMessage
		err      error
	}
	connectedMsg     struct{}
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	frameMsg         Frame
	readFailedMsg    struct{ err error }
	sentMsg          struct {
		kind  MessageType
		draft string
		err   error
	}
	editedMsg struct {
		messageID int64
		draft     string
		err       error
	}
	typingStopMsg    struct{ seq int }
	readMarkMsg      struct{ seq int }
	markedAllReadMsg struct{ err error }
	unreadCountMsg   struct {
		count int
		err   error
	}
	actionDoneMsg    struct {
		action string
		err    error
	}
	recorderFailedMsg struct{ err error }
	browseLoadedMsg   struct {
		path  string
		items []FileItem
		err   error
	}
	uiTickMsg struct{}
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C bails out from any mode and releases everything we own.
		if typedMessage.Type == tea.KeyCtrlC {
			model.teardown()
			return model, tea.Quit
		}
		switch model.mode {
		case modeBrowse:
			return model.updateBrowse(typedMessage)
		default:
			return model.updateChat(typedMessage)
		}

	case workOrderLoadedMsg:
		if typedMessage.err != nil {
			model.pushNotice(fmt.Sprintf("Could not load work order: %v", typedMessage.err))
			return model, nil
		}
		model.workOrder = typedMessage.workOrder
		if model.readOnly() {
			model.textInput.Blur()
		}
		return model, nil

	case historyMsg:
		model.loadingHistory = false
		if typedMessage.err != nil {
			model.historyErr = typedMessage.err
			return model, nil
		}
		model.historyErr = nil
		// Full replace: the fetch is the authoritative list, never merged
		// with whatever survived a disconnect window.
		model.store.Seed(typedMessage.messages)
		return model, model.maybeScheduleReadMark()

	case connectedMsg:
		model.store.SetConnected(true)
		commands := []tea.Cmd{model.readFrameCmd()}
		if model.staleHistory {
			model.staleHistory = false
			commands = append(commands, model.fetchHistoryCmd())
		}
		return model, tea.Batch(commands...)

	case connectFailedMsg:
		model.store.SetConnected(false)
		return model, model.scheduleReconnect()

	case readFailedMsg:
		model.store.SetConnected(false)
		// Events missed while the socket is down are not replayed; the
		// history re-fetch after reconnect closes the gap.
		model.staleHistory = true
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.store.Connected() {
			return model, model.connectCmd()
		}
		return model, nil

	case frameMsg:
		return model, tea.Batch(model.applyFrame(Frame(typedMessage)), model.readFrameCmd())

	case sentMsg:
		model.sending = false
		if typedMessage.err != nil {
			model.pushNotice(fmt.Sprintf("Send failed: %v", typedMessage.err))
			if typedMessage.kind == MessageTypeText && model.textInput.Value() == "" {
				// A transient blip must not eat the draft.
				model.textInput.SetValue(typedMessage.draft)
			}
		}
		// No local append on success either: the broadcast echo is the
		// single source of truth for what everyone sees.
		return model, nil

	case typingStopMsg:
		if typedMessage.seq == model.typingSeq && model.typingActive {
			model.typingActive = false
			return model, model.publishTypingCmd(false)
		}
		return model, nil

	case readMarkMsg:
		if typedMessage.seq == model.readMarkSeq {
			// a lone unread message is acknowledged individually; anything
			// more takes the bulk call
			switch ids := model.unreadFromOthers(); len(ids) {
			case 0:
			case 1:
				return model, model.markReadCmd(ids[0])
			default:
				return model, model.markAllReadCmd()
			}
		}
		return model, nil

	case editedMsg:
		model.sending = false
		if typedMessage.err != nil {
			model.pushNotice(fmt.Sprintf("Edit failed: %v", typedMessage.err))
			if model.textInput.Value() == "" {
				// Re-enter edit mode with the draft so nothing is lost.
				model.textInput.SetValue(typedMessage.draft)
				model.editingID = typedMessage.messageID
			}
		}
		// On success the MESSAGE_UPDATED echo rewrites the store entry.
		return model, nil

	case markedAllReadMsg:
		if typedMessage.err != nil {
			model.pushNotice(fmt.Sprintf("Could not mark messages read: %v", typedMessage.err))
		}
		return model, nil

	case unreadCountMsg:
		if typedMessage.err == nil && typedMessage.count > 0 {
			model.pushNotice(fmt.Sprintf("%d unread message(s)", typedMessage.count))
		}
		return model, nil

	case actionDoneMsg:
		if typedMessage.err != nil {
			model.pushNotice(fmt.Sprintf("%s failed: %v", typedMessage.action, typedMessage.err))
		}
		return model, nil

	case recorderFailedMsg:
		model.pushNotice(fmt.Sprintf("Recording unavailable: %v", typedMessage.err))
		return model, nil

	case browseLoadedMsg:
		if typedMessage.err != nil {
			model.mode = modeChat
			model.pushNotice(fmt.Sprintf("Cannot open %s: %v", typedMessage.path, typedMessage.err))
			return model, nil
		}
		model.browsePath = typedMessage.path
		model.browseItems = typedMessage.items
		model.browseIndex = 0
		return model, nil

	case uiTickMsg:
		// One shared heartbeat: drives the recorder's elapsed counter and
		// re-renders so typing indicators visibly expire.
		if model.recorder.State() == RecorderRecording {
			model.recorder.Tick()
		}
		return model, model.uiTickCmd()
	}
	return model, nil
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		if model.editingID != 0 {
			model.editingID = 0
			model.textInput.SetValue("")
			return model, nil
		}
		model.notices = nil
		return model, nil

	case tea.KeyUp:
		count := model.store.Len()
		if count == 0 {
			return model, nil
		}
		if model.selected < 0 {
			model.selected = count - 1
		} else if model.selected > 0 {
			model.selected--
		}
		return model, nil

	case tea.KeyDown:
		count := model.store.Len()
		if model.selected < 0 {
			return model, nil
		}
		if model.selected >= count-1 {
			model.selected = -1
		} else {
			model.selected++
		}
		return model, nil

	case tea.KeyCtrlL:
		if model.historyErr != nil && !model.loadingHistory {
			model.loadingHistory = true
			return model, model.fetchHistoryCmd()
		}
		return model, nil

	case tea.KeyCtrlT:
		if model.readOnly() {
			return model, nil
		}
		if msg, ok := model.selectedMessage(); ok && !msg.Deleted && msg.MessageType != MessageTypeSystem {
			return model, model.toggleReactionCmd(msg.ID, defaultReaction)
		}
		return model, nil

	case tea.KeyCtrlD:
		if model.readOnly() {
			return model, nil
		}
		if msg, ok := model.selectedMessage(); ok && msg.SentBy(model.identity.UserID) && !msg.Deleted {
			return model, model.deleteMessageCmd(msg.ID)
		}
		return model, nil

	case tea.KeyCtrlE:
		if model.readOnly() || model.sending {
			return model, nil
		}
		if msg, ok := model.selectedMessage(); ok && msg.SentBy(model.identity.UserID) &&
			!msg.Deleted && msg.MessageType == MessageTypeText {
			model.editingID = msg.ID
			model.textInput.SetValue(msg.Content)
			model.textInput.CursorEnd()
		}
		return model, nil

	case tea.KeyCtrlF:
		if model.readOnly() {
			return model, nil
		}
		model.mode = modeBrowse
		return model, model.browseCmd(getDefaultBrowsePath())

	case tea.KeyCtrlR:
		if model.readOnly() {
			return model, nil
		}
		switch model.recorder.State() {
		case RecorderIdle:
			return model, model.startRecordingCmd()
		case RecorderRecording:
			model.recorder.Stop()
		}
		return model, nil

	case tea.KeyCtrlX:
		if model.recorder.State() != RecorderIdle {
			model.recorder.Cancel()
		}
		return model, nil

	case tea.KeyCtrlS:
		if model.readOnly() {
			return model, nil
		}
		if clip, ok := model.recorder.TakeClip(); ok {
			model.sending = true
			return model, model.sendVoiceCmd(clip)
		}
		return model, nil

	case tea.KeyEnter:
		if model.readOnly() || model.sending {
			return model, nil
		}
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			// A blank-after-trim submission never reaches the network.
			return model, nil
		}
		model.textInput.SetValue("")
		model.sending = true
		if model.editingID != 0 {
			messageID := model.editingID
			model.editingID = 0
			return model, model.editMessageCmd(messageID, trimmed)
		}
		commands := []tea.Cmd{model.sendTextCmd(trimmed)}
		if model.typingActive {
			model.typingActive = false
			model.typingSeq++
			commands = append(commands, model.publishTypingCmd(false))
		}
		return model, tea.Batch(commands...)
	}

	if model.readOnly() {
		return model, nil
	}

	before := model.textInput.Value()
	var inputCmd tea.Cmd
	model.textInput, inputCmd = model.textInput.Update(key)
	if model.textInput.Value() == before {
		return model, inputCmd
	}

	// Any text change signals typing immediately; only the stop signal is
	// debounced. A fresh keystroke replaces the pending stop timer.
	model.typingActive = true
	model.typingSeq++
	return model, tea.Batch(
		inputCmd,
		model.publishTypingCmd(true),
		model.scheduleTypingStop(model.typingSeq),
	)
}

func (model *TUIModel) updateBrowse(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeChat
		return model, nil
	case tea.KeyUp:
		if model.browseIndex > 0 {
			model.browseIndex--
		}
		return model, nil
	case tea.KeyDown:
		if model.browseIndex < len(model.browseItems)-1 {
			model.browseIndex++
		}
		return model, nil
	case tea.KeyEnter:
		if model.browseIndex < 0 || model.browseIndex >= len(model.browseItems) {
			return model, nil
		}
		item := model.browseItems[model.browseIndex]
		if item.IsDir {
			return model, model.browseCmd(item.Path)
		}
		model.mode = modeChat
		return model, model.pickAttachment(item)
	}
	return model, nil
}

// pickAttachment applies the client-side size gate before any upload call.
func (model *TUIModel) pickAttachment(item FileItem) tea.Cmd {
	if item.Size > MaxAttachmentBytes {
		model.pushNotice(fmt.Sprintf("%s is %s — attachments are limited to %s",
			item.Name, formatFileSize(item.Size), formatFileSize(MaxAttachmentBytes)))
		return nil
	}
	model.sending = true
	return model.sendAttachmentCmd(item)
}

// applyFrame routes one transport frame into the store.
func (model *TUIModel) applyFrame(frame Frame) tea.Cmd {
	switch frame.Topic {
	case MessagesTopic(model.store.WorkOrderID()):
		if frame.Envelope == nil {
			return nil
		}
		model.store.ApplyEvent(*frame.Envelope)
		if frame.Envelope.Type == EventNewMessage &&
			frame.Envelope.Message != nil &&
			!frame.Envelope.Message.SentBy(model.identity.UserID) {
			return model.maybeScheduleReadMark()
		}
	case TypingTopic(model.store.WorkOrderID()):
		if frame.Typing == nil || frame.Typing.UserID == model.identity.UserID {
			return nil
		}
		model.store.ApplyTyping(*frame.Typing)
	}
	return nil
}

// maybeScheduleReadMark arms the read-receipt delay when unacknowledged
// messages from others are on screen. A newer schedule supersedes the prior
// one through the sequence counter.
func (model *TUIModel) maybeScheduleReadMark() tea.Cmd {
	if len(model.unreadFromOthers()) == 0 {
		return nil
	}
	model.readMarkSeq++
	return model.scheduleReadMark(model.readMarkSeq)
}

func (model *TUIModel) selectedMessage() (ChatMessage, bool) {
	messages := model.store.Messages()
	if model.selected < 0 || model.selected >= len(messages) {
		return ChatMessage{}, false
	}
	return messages[model.selected], true
}
