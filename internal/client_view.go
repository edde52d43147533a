package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	deletedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	metaStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	reactionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	readOnlyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true).MarginTop(1)
	recordingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).MarginTop(1)
	selectedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	browseItemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model TUIModel) View() string {
	if model.mode == modeBrowse {
		return model.renderBrowseView()
	}
	return model.renderChatView()
}

func (model TUIModel) renderChatView() string {
	headerSegments := []string{"wochat"}
	if model.workOrder != nil {
		headerSegments = append(headerSegments, fmt.Sprintf("WO #%d %s", model.workOrder.ID, model.workOrder.Title))
	} else {
		headerSegments = append(headerSegments, fmt.Sprintf("WO #%d", model.store.WorkOrderID()))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.identity.DisplayName()))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.store.Connected():
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, statusLine}

	if model.historyErr != nil {
		// History failure suppresses the message list entirely; the error
		// state is retryable.
		sections = append(sections,
			errorStyle.Render(fmt.Sprintf("Could not load messages: %v", model.historyErr)),
			menuHintStyle.Render("Press Ctrl+L to retry."))
		sections = append(sections, model.renderNotices()...)
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	var messageLines []string
	messages := model.store.Messages()
	for idx, chat := range messages {
		messageLines = append(messageLines, model.renderChatMessage(chat, idx == model.selected)...)
	}
	if len(messageLines) == 0 {
		if model.loadingHistory {
			messageLines = append(messageLines, systemMessageStyle.Render("Loading messages…"))
		} else {
			messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
		}
	}
	sections = append(sections, messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...)))

	if typingLine := model.renderTypingLine(); typingLine != "" {
		sections = append(sections, typingLine)
	}

	if voiceLine := model.renderVoiceLine(); voiceLine != "" {
		sections = append(sections, voiceLine)
	}

	sections = append(sections, model.renderNotices()...)

	if model.readOnly() {
		sections = append(sections, readOnlyStyle.Render("Work order completed — chat is read-only."))
	} else {
		sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
		hints := "Enter send • ↑/↓ select • Ctrl+T react • Ctrl+E edit • Ctrl+D delete • Ctrl+F attach • Ctrl+R voice • Ctrl+C quit"
		if model.editingID != 0 {
			hints = "Editing message • Enter save • Esc cancel"
		}
		if model.sending {
			hints = "Sending…"
		}
		sections = append(sections, menuHintStyle.Render(hints))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderChatMessage renders a single message entry: header line with the
// sender and body, then optional attachment, reaction, and receipt lines.
func (model TUIModel) renderChatMessage(chat ChatMessage, selected bool) []string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", chat.CreatedAt.Local().Format("15:04:05")))
	prefix := "  "
	if selected {
		prefix = selectedStyle.Render("➤ ")
	}

	if chat.MessageType == MessageTypeSystem {
		return []string{lipgloss.JoinHorizontal(lipgloss.Left, prefix, timestamp, " ", systemMessageStyle.Render(chat.Content))}
	}

	senderName := "unknown"
	var nameStyle lipgloss.Style
	if chat.User != nil {
		senderName = chat.User.DisplayName()
		if chat.SentBy(model.identity.UserID) {
			nameStyle = activeUserStyle
		} else {
			nameStyle = usernameStyle.Copy().Foreground(colorForUser(senderName))
		}
	} else {
		nameStyle = usernameStyle
	}
	name := nameStyle.Render(senderName)

	var body string
	if chat.Deleted {
		// Tombstone render: the content stays in memory but never on screen.
		body = deletedStyle.Render("message deleted")
	} else {
		body = messageBodyStyle.Render(strings.ReplaceAll(chat.Content, "\n", "\n   "))
		if chat.Edited {
			body = lipgloss.JoinHorizontal(lipgloss.Left, body, metaStyle.Render(" (edited)"))
		}
	}

	lines := []string{lipgloss.JoinHorizontal(lipgloss.Left, prefix, timestamp, " ", name, ": ", body)}

	if !chat.Deleted && chat.File != nil {
		attachment := fmt.Sprintf("   [%s] %s", strings.ToLower(string(chat.MessageType)), chat.File.Name)
		lines = append(lines, metaStyle.Render(attachment))
	}

	if !chat.Deleted && len(chat.Reactions) > 0 {
		var parts []string
		for _, reaction := range chat.Reactions {
			part := fmt.Sprintf("%s %d", reaction.Reaction, reaction.Count)
			if reaction.ReactedBy(model.identity.UserID) {
				part += " (you)"
			}
			parts = append(parts, part)
		}
		lines = append(lines, reactionStyle.Render("   "+strings.Join(parts, "  ")))
	}

	if chat.SentBy(model.identity.UserID) {
		if readers := readersExcept(chat.ReadBy, model.identity.UserID); len(readers) > 0 {
			lines = append(lines, metaStyle.Render("   ✓ seen by "+strings.Join(readers, ", ")))
		}
	}

	return lines
}

func readersExcept(readBy []UserSummary, userID int64) []string {
	var names []string
	for _, reader := range readBy {
		if reader.ID == userID {
			continue
		}
		names = append(names, reader.DisplayName())
	}
	return names
}

func (model TUIModel) renderTypingLine() string {
	typing := model.store.TypingUsers()
	switch len(typing) {
	case 0:
		return ""
	case 1:
		return typingStyle.Render(typing[0] + " is typing…")
	default:
		return typingStyle.Render(strings.Join(typing, ", ") + " are typing…")
	}
}

func (model TUIModel) renderVoiceLine() string {
	switch model.recorder.State() {
	case RecorderRecording:
		return recordingStyle.Render(fmt.Sprintf("● recording %s / %s — Ctrl+R stop, Ctrl+X cancel",
			formatClock(model.recorder.Elapsed()), formatClock(model.recorder.MaxSeconds())))
	case RecorderRecorded:
		return recordingStyle.Copy().Foreground(lipgloss.Color("178")).Render(
			fmt.Sprintf("voice clip %s — Ctrl+S send, Ctrl+X discard", formatClock(model.recorder.Elapsed())))
	}
	return ""
}

func (model TUIModel) renderNotices() []string {
	if len(model.notices) == 0 {
		return nil
	}
	var styled []string
	for _, notice := range model.notices {
		styled = append(styled, systemMessageStyle.Render(notice))
	}
	return []string{
		noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, styled...)),
		menuHintStyle.Render("Esc to dismiss"),
	}
}

func (model TUIModel) renderBrowseView() string {
	title := appTitleStyle.Render("Attach a file")
	location := menuHintStyle.Render(model.browsePath)

	var lines []string
	if len(model.browseItems) == 0 {
		lines = append(lines, menuHintStyle.Render("Empty directory."))
	}
	for idx, item := range model.browseItems {
		label := item.Name
		if item.IsDir {
			label += "/"
		} else {
			label = fmt.Sprintf("%s  %s", label, formatFileSize(item.Size))
		}
		if idx == model.browseIndex {
			lines = append(lines, selectedStyle.Render("➤ "+label))
		} else {
			lines = append(lines, browseItemStyle.Render("  "+label))
		}
	}

	hint := menuHintStyle.Render(fmt.Sprintf("Enter pick • Esc back • limit %s", formatFileSize(MaxAttachmentBytes)))

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		location,
		messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		hint,
	)
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
