package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Commitment levels understood by chain repositories.
const (
	CommitmentLatest    = "latest"
	CommitmentSafe      = "safe"
	CommitmentFinalized = "finalized"
)

// ErrInvalidJob is returned by JobDefinition.Validate.
var ErrInvalidJob = errors.New("invalid job definition")

// Filter selects which emitters and topics a job is interested in.
// Values are lower-cased by Normalize so later comparisons are case-insensitive.
type Filter struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Topics    []string `yaml:"topics" json:"topics"`
}

// Normalize returns a copy of the filter with every address and topic
// lower-cased and trimmed. Duplicates are removed, order is preserved.
func (f Filter) Normalize() Filter {
	return Filter{
		Addresses: foldAll(f.Addresses),
		Topics:    foldAll(f.Topics),
	}
}

// HasAddress reports whether addr is accepted by the filter. An empty
// address list accepts everything.
func (f Filter) HasAddress(addr string) bool {
	return containsFolded(f.Addresses, addr)
}

// FoldSet lower-cases and trims every value and removes duplicates.
func FoldSet(values []string) []string {
	return foldAll(values)
}

// ContainsFolded reports whether v is in set, ignoring case. An empty set
// contains everything.
func ContainsFolded(set []string, v string) bool {
	return containsFolded(set, v)
}

// HasTopic reports whether topic is accepted by the filter. An empty topic
// list accepts everything.
func (f Filter) HasTopic(topic string) bool {
	return containsFolded(f.Topics, topic)
}

func containsFolded(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func foldAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// JobDefinition describes one watcher job: which chain to follow, how far
// behind the tip to stay, how large a window may be and where to forward
// the extracted messages.
type JobDefinition struct {
	ID           string        `yaml:"id" json:"id"`
	Chain        string        `yaml:"chain" json:"chain"`
	ChainID      uint64        `yaml:"chain_id" json:"chainId"`
	Protocol     string        `yaml:"protocol" json:"protocol"`
	Commitment   string        `yaml:"commitment" json:"commitment"`
	Interval     time.Duration `yaml:"interval" json:"interval"`
	MaxBatchSize uint64        `yaml:"max_batch_size" json:"maxBatchSize"`
	StartBlock   *uint64       `yaml:"start_block,omitempty" json:"startBlock,omitempty"`
	Filter       Filter        `yaml:"filter" json:"filter"`
	MetricName   string        `yaml:"metric_name" json:"metricName"`
	ABI          string        `yaml:"abi,omitempty" json:"abi,omitempty"`
	Targets      []string      `yaml:"targets" json:"targets"`
	// Emitters optionally restricts forwarded messages to these emitters.
	Emitters []string `yaml:"emitters,omitempty" json:"emitters,omitempty"`
}

// NewJobDefinition returns a copy of def with its filter normalized and
// empty optional fields filled in. The returned value must be treated as
// immutable.
func NewJobDefinition(def JobDefinition) JobDefinition {
	def.Chain = strings.ToLower(strings.TrimSpace(def.Chain))
	def.Filter = def.Filter.Normalize()
	if def.Commitment == "" {
		def.Commitment = CommitmentFinalized
	}
	if def.MetricName == "" {
		def.MetricName = "process_source_event"
	}
	if def.Protocol == "" {
		def.Protocol = "wormhole"
	}
	def.Targets = append([]string(nil), def.Targets...)
	def.Emitters = foldAll(def.Emitters)
	if def.StartBlock != nil {
		start := *def.StartBlock
		def.StartBlock = &start
	}
	return def
}

// Validate checks the fields every scheduler depends on.
func (d JobDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if d.Chain == "" {
		return fmt.Errorf("%w: job %s: chain is required", ErrInvalidJob, d.ID)
	}
	if strings.Contains(d.Chain, "/") {
		return fmt.Errorf("%w: job %s: chain must not contain '/'", ErrInvalidJob, d.ID)
	}
	if d.MaxBatchSize == 0 {
		return fmt.Errorf("%w: job %s: max_batch_size must be positive", ErrInvalidJob, d.ID)
	}
	if d.Interval <= 0 {
		return fmt.Errorf("%w: job %s: interval must be positive", ErrInvalidJob, d.ID)
	}
	switch d.Commitment {
	case CommitmentLatest, CommitmentSafe, CommitmentFinalized:
	default:
		return fmt.Errorf("%w: job %s: unknown commitment %q", ErrInvalidJob, d.ID, d.Commitment)
	}
	return nil
}
