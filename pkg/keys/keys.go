// Package keys derives the deterministic identifiers used to group messages
// by block and to deduplicate them downstream.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const blockNumberWidth = 16

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// BlockKey returns a lexicographically sortable key for a block: the block
// number zero-padded to 16 digits, a slash and the block time.
func BlockKey(blockNumber uint64, ts time.Time) string {
	return fmt.Sprintf("%0*d/%s", blockNumberWidth, blockNumber, ts.UTC().Format(TimestampLayout))
}

// ParseBlockKey returns the block number and time encoded in key.
func ParseBlockKey(key string) (uint64, time.Time, error) {
	num, ts, ok := strings.Cut(key, "/")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: block key %q", ErrInvalidKey, key)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: block key %q: %v", ErrInvalidKey, key, err)
	}
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: block key %q: %v", ErrInvalidKey, key, err)
	}
	return n, t, nil
}

// MessageKey identifies one protocol message as chain/emitter/sequence.
// Components are path-escaped so a separator inside a component can never
// produce the same key as a different triple.
func MessageKey(chain, emitter, sequence string) string {
	return url.PathEscape(chain) + "/" + url.PathEscape(emitter) + "/" + url.PathEscape(sequence)
}

// ParseMessageKey splits a key produced by MessageKey.
func ParseMessageKey(key string) (chain, emitter, sequence string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: message key %q", ErrInvalidKey, key)
	}
	out := make([]string, 3)
	for i, p := range parts {
		if out[i], err = url.PathUnescape(p); err != nil {
			return "", "", "", fmt.Errorf("%w: message key %q: %v", ErrInvalidKey, key, err)
		}
	}
	return out[0], out[1], out[2], nil
}

// MessagesByBlock groups message keys under the key of the block that
// contains them.
type MessagesByBlock struct {
	order   []string
	entries map[string][]string
}

// NewMessagesByBlock returns an empty grouping.
func NewMessagesByBlock() *MessagesByBlock {
	return &MessagesByBlock{entries: make(map[string][]string)}
}

// GroupByBlock groups msgs by their block key.
func GroupByBlock(msgs []types.CanonicalMessage) *MessagesByBlock {
	g := NewMessagesByBlock()
	for _, m := range msgs {
		g.Add(m.BlockKey, m.MessageKey)
	}
	return g
}

// Ensure records blockKey with no messages if it is not already present.
func (g *MessagesByBlock) Ensure(blockKey string) {
	if _, ok := g.entries[blockKey]; ok {
		return
	}
	g.order = append(g.order, blockKey)
	g.entries[blockKey] = []string{}
}

// Add appends messageKey under blockKey.
func (g *MessagesByBlock) Add(blockKey, messageKey string) {
	g.Ensure(blockKey)
	g.entries[blockKey] = append(g.entries[blockKey], messageKey)
}

// Get returns the message keys recorded for blockKey.
func (g *MessagesByBlock) Get(blockKey string) ([]string, bool) {
	v, ok := g.entries[blockKey]
	return v, ok
}

// Keys returns the block keys in sorted order.
func (g *MessagesByBlock) Keys() []string {
	out := append([]string(nil), g.order...)
	sort.Strings(out)
	return out
}

// Len returns the number of distinct blocks.
func (g *MessagesByBlock) Len() int {
	return len(g.order)
}

// Map returns a copy of the grouping as a plain map.
func (g *MessagesByBlock) Map() map[string][]string {
	out := make(map[string][]string, len(g.entries))
	for k, v := range g.entries {
		out[k] = append([]string{}, v...)
	}
	return out
}
