package internal

import (
	"bytes"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) loadWorkOrderCmd() tea.Cmd {
	return func() tea.Msg {
		workOrder, err := model.service.GetWorkOrder(model.store.WorkOrderID())
		return workOrderLoadedMsg{workOrder: workOrder, err: err}
	}
}

func (model *TUIModel) fetchHistoryCmd() tea.Cmd {
	return func() tea.Msg {
		messages, err := model.service.ListMessages(model.store.WorkOrderID())
		return historyMsg{messages: messages, err: err}
	}
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := model.transport.Dial(); err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{}
	}
}

// one frame per command; the update loop chains the next read
func (model *TUIModel) readFrameCmd() tea.Cmd {
	return func() tea.Msg {
		frame, err := model.transport.ReadFrame()
		if err != nil {
			return readFailedMsg{err: err}
		}
		return frameMsg(frame)
	}
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	// tea.Tick keeps the retry inside bubbletea's event loop.
	return tea.Tick(model.transport.ReconnectDelay(), func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) publishTypingCmd(typing bool) tea.Cmd {
	notification := TypingNotification{
		UserID:   model.identity.UserID,
		UserName: model.identity.DisplayName(),
		Typing:   typing,
	}
	return func() tea.Msg {
		// Best effort: a failed or disconnected publish is dropped silently.
		_ = model.transport.PublishTyping(notification)
		return nil
	}
}

func (model *TUIModel) scheduleTypingStop(seq int) tea.Cmd {
	return tea.Tick(typingStopDelay, func(time.Time) tea.Msg {
		return typingStopMsg{seq: seq}
	})
}

func (model *TUIModel) scheduleReadMark(seq int) tea.Cmd {
	return tea.Tick(readMarkDelay, func(time.Time) tea.Msg {
		return readMarkMsg{seq: seq}
	})
}

func (model *TUIModel) markAllReadCmd() tea.Cmd {
	return func() tea.Msg {
		return markedAllReadMsg{err: model.service.MarkAllRead(model.store.WorkOrderID())}
	}
}

func (model *TUIModel) markReadCmd(messageID int64) tea.Cmd {
	return func() tea.Msg {
		return markedAllReadMsg{err: model.service.MarkRead(messageID)}
	}
}

func (model *TUIModel) unreadCountCmd() tea.Cmd {
	return func() tea.Msg {
		count, err := model.service.UnreadCount(model.store.WorkOrderID())
		return unreadCountMsg{count: count, err: err}
	}
}

func (model *TUIModel) editMessageCmd(messageID int64, content string) tea.Cmd {
	return func() tea.Msg {
		_, err := model.service.EditMessage(messageID, content)
		return editedMsg{messageID: messageID, draft: content, err: err}
	}
}

func (model *TUIModel) sendTextCmd(content string) tea.Cmd {
	return func() tea.Msg {
		_, err := model.service.SendMessage(SendMessageRequest{
			WorkOrderID: model.store.WorkOrderID(),
			MessageType: MessageTypeText,
			Content:     content,
		})
		return sentMsg{kind: MessageTypeText, draft: content, err: err}
	}
}

// upload first, then reference the returned file id; an upload failure fails
// the whole send before the message endpoint is touched
func (model *TUIModel) sendAttachmentCmd(item FileItem) tea.Cmd {
	return func() tea.Msg {
		messageType, category := classifyAttachment(item.Path)
		fileID, err := model.service.UploadFilePath(item.Path, category)
		if err != nil {
			return sentMsg{kind: messageType, err: fmt.Errorf("upload %s: %w", item.Name, err)}
		}
		_, err = model.service.SendMessage(SendMessageRequest{
			WorkOrderID: model.store.WorkOrderID(),
			MessageType: messageType,
			Content:     item.Name,
			FileID:      fileID,
		})
		return sentMsg{kind: messageType, err: err}
	}
}

func (model *TUIModel) sendVoiceCmd(clip []byte) tea.Cmd {
	return func() tea.Msg {
		name := fmt.Sprintf("voice-%s.raw", time.Now().Format("20060102-150405"))
		fileID, err := model.service.UploadFile(name, FileCategoryOther, bytes.NewReader(clip))
		if err != nil {
			return sentMsg{kind: MessageTypeVoice, err: fmt.Errorf("upload voice clip: %w", err)}
		}
		_, err = model.service.SendMessage(SendMessageRequest{
			WorkOrderID: model.store.WorkOrderID(),
			MessageType: MessageTypeVoice,
			Content:     "Voice message",
			FileID:      fileID,
		})
		return sentMsg{kind: MessageTypeVoice, err: err}
	}
}

func (model *TUIModel) toggleReactionCmd(messageID int64, symbol string) tea.Cmd {
	return func() tea.Msg {
		// Fire and forget; the REACTION_TOGGLED echo updates the UI.
		return actionDoneMsg{action: "Reaction", err: model.service.ToggleReaction(messageID, symbol)}
	}
}

func (model *TUIModel) deleteMessageCmd(messageID int64) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: "Delete", err: model.service.DeleteMessage(messageID)}
	}
}

func (model *TUIModel) startRecordingCmd() tea.Cmd {
	return func() tea.Msg {
		if err := model.recorder.Start(); err != nil {
			return recorderFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) browseCmd(path string) tea.Cmd {
	return func() tea.Msg {
		items, err := browseDirectory(path)
		return browseLoadedMsg{path: path, items: items, err: err}
	}
}

func (model *TUIModel) uiTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return uiTickMsg{}
	})
}

// RunClient launches the Bubble Tea program with the chat panel model.
func RunClient(opts ClientOptions) error {
	model, err := NewTUIModel(opts)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}
