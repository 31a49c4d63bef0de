package handler

import (
	"strings"
	"time"

	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// MessageFoundEventName is the Name of every MessageFoundEvent.
const MessageFoundEventName = "message-published"

// MessageAttributes carries the protocol fields of a forwarded message.
type MessageAttributes struct {
	Protocol   string `json:"protocol"`
	Emitter    string `json:"emitter"`
	Sequence   string `json:"sequence"`
	MessageKey string `json:"messageKey"`
	Payload    []byte `json:"payload"`
}

// MessageFoundEvent is the record forwarded to targets for every message.
type MessageFoundEvent struct {
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	Chain       string            `json:"chain"`
	ChainID     uint64            `json:"chainId"`
	TxHash      string            `json:"txHash"`
	BlockHeight uint64            `json:"blockHeight"`
	BlockTime   time.Time         `json:"blockTime"`
	Attributes  MessageAttributes `json:"attributes"`
}

// Protocol returns the protocol label of the event.
func (e MessageFoundEvent) Protocol() string {
	return e.Attributes.Protocol
}

// Key returns the message key; targets use it for dedup and partitioning.
func (e MessageFoundEvent) Key() string {
	return e.Attributes.MessageKey
}

// Topic groups events by chain on fan-out targets.
func (e MessageFoundEvent) Topic() string {
	return e.Chain
}

// NewMessageMapper returns a mapper producing MessageFoundEvents for
// protocol. Messages without a message key, or whose emitter is not in
// cfg.Emitters, are dropped.
func NewMessageMapper(protocol string) Mapper[MessageFoundEvent] {
	return func(cfg Config, msg types.CanonicalMessage) (MessageFoundEvent, bool) {
		if msg.MessageKey == "" || !types.ContainsFolded(cfg.Emitters, msg.Emitter) {
			return MessageFoundEvent{}, false
		}
		chainName := msg.Chain
		if chainName == "" {
			chainName = cfg.Chain
		}
		return MessageFoundEvent{
			Name:        MessageFoundEventName,
			Address:     strings.ToLower(msg.Emitter),
			Chain:       chainName,
			ChainID:     cfg.ChainID,
			TxHash:      msg.TxHash,
			BlockHeight: msg.BlockNumber,
			BlockTime:   msg.Timestamp,
			Attributes: MessageAttributes{
				Protocol:   protocol,
				Emitter:    msg.Emitter,
				Sequence:   msg.Sequence,
				MessageKey: msg.MessageKey,
				Payload:    append([]byte(nil), msg.Payload...),
			},
		}, true
	}
}
