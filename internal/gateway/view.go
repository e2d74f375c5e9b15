package gateway

import (
	"log/slog"

	"github.com/gabbyhq/gabby/internal/finalizer"
	"github.com/gabbyhq/gabby/internal/turn"
	"github.com/gabbyhq/gabby/pkg/types"
)

// pageView implements [turn.View] by sending bubble, message and state frames.
type pageView struct {
	peer   *peer
	logger *slog.Logger
}

var _ turn.View = (*pageView)(nil)

func (v *pageView) Bubble(b finalizer.Bubble) {
	v.send(BubbleMessage{Type: TypeBubble, ID: b.ID, Text: b.Text, Final: b.Final, Retracted: b.Retracted})
}

func (v *pageView) Message(m types.Message) {
	v.send(HistoryMessage{Type: TypeMessage, Role: m.Role, Content: m.Content})
}

func (v *pageView) State(s turn.State) {
	v.send(StateMessage{Type: TypeState, State: s.String()})
}

func (v *pageView) send(msg any) {
	if err := v.peer.send(msg); err != nil {
		v.logger.Debug("gateway: render frame", "err", err)
	}
}
