package internal

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	// trailing-edge debounce on the outgoing typing-stop signal
	typingStopDelay = 2 * time.Second
	// quiet delay before a settled message list is bulk-marked read, so a
	// quick scroll-past does not register as having read everything
	readMarkDelay = 1500 * time.Millisecond
)

// ClientOptions is everything the chat panel needs, injected at construction
// time rather than read from ambient globals.
type ClientOptions struct {
	SocketURL   string // ws(s)://host:port/ws
	WorkOrderID int64
	Identity    Identity
	AudioDevice string
}

// tui model for the work-order chat panel and its sub-modes
type TUIModel struct {
	textInput textinput.Model
	store     *ChatStore
	transport *Transport
	service   *MessageService
	recorder  *VoiceRecorder
	identity  Identity
	workOrder *WorkOrder

	mode           appMode
	loadingHistory bool
	historyErr     error
	staleHistory   bool
	sending        bool
	notices        []string
	selected       int
	editingID      int64

	typingActive bool
	typingSeq    int
	readMarkSeq  int

	browsePath  string
	browseItems []FileItem
	browseIndex int
}

type appMode int

const (
	modeChat appMode = iota
	modeBrowse
)

func NewTUIModel(opts ClientOptions) (*TUIModel, error) {
	httpBase, err := httpBaseFromSocketURL(opts.SocketURL)
	if err != nil {
		return nil, err
	}

	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 0
	input.Focus()
	input.Prompt = "> "

	model := &TUIModel{
		textInput: input,
		store:     NewChatStore(opts.WorkOrderID, 0),
		transport: NewTransport(opts.SocketURL, opts.WorkOrderID, opts.Identity, 0),
		service:   NewMessageService(httpBase, opts.Identity),
		recorder:  NewVoiceRecorder(DeviceSource{Path: opts.AudioDevice}, 0),
		identity:  opts.Identity,
		selected:  -1,
	}
	return model, nil
}

func (model *TUIModel) Init() tea.Cmd {
	model.loadingHistory = true
	return tea.Batch(
		model.loadWorkOrderCmd(),
		model.fetchHistoryCmd(),
		model.unreadCountCmd(),
		model.connectCmd(),
		model.uiTickCmd(),
	)
}

// readOnly reports whether the work order reached its terminal state. The
// gate is one-way: nothing on the client flips a completed order back.
func (model *TUIModel) readOnly() bool {
	return model.workOrder != nil && model.workOrder.Complete()
}

// unreadFromOthers lists the message ids still awaiting the current user's
// read acknowledgement.
func (model *TUIModel) unreadFromOthers() []int64 {
	var ids []int64
	for _, msg := range model.store.Messages() {
		if msg.Deleted || msg.SentBy(model.identity.UserID) {
			continue
		}
		if !msg.ReadByUser(model.identity.UserID) {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}

func (model *TUIModel) pushNotice(notice string) {
	model.notices = append(model.notices, notice)
	if len(model.notices) > 3 {
		model.notices = model.notices[len(model.notices)-3:]
	}
}

// teardown releases every owned resource: socket, typing timers, capture
// stream. Run on quit no matter which key got us there.
func (model *TUIModel) teardown() {
	model.transport.Close()
	model.store.Close()
	model.recorder.Teardown()
}
