package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// toolLoopGuidanceNotice replaces the assistant's tool-call content the
// first time chance_then_block trips, steering the model away from the
// repeating call without ending the turn.
const toolLoopGuidanceNotice = "Notice: this tool call looks like a repeat of a previous one. Try a different approach or, if the task is complete, respond with a final answer instead of calling the tool again."

// toolLoopBlockedNotice replaces the assistant's tool-call content when
// block mode (or chance_then_block's second trip) ends the turn.
const toolLoopBlockedNotice = "[response terminated: repeated tool call loop detected]"

// tripAction is what observe() decided should happen with the tool call
// that tripped the repeat threshold; a plain bool cannot express the four
// distinct outcomes the three Mode values need.
type tripAction int

const (
	tripNone tripAction = iota
	tripWarn
	tripGuidance
	tripBlock
)

// ToolCallLoopDetector watches assistant tool calls for the same (or a
// near-identical) invocation repeating MaxRepeats times within TTLSeconds,
// the agentic-loop analogue of ContentLoopDetector. Fingerprints are kept
// in a small ring buffer rather than a growing log, so memory use is
// bounded regardless of how long a session runs.
type ToolCallLoopDetector struct {
	cfg    canon.ToolLoopSettings
	ring   []canon.ToolCallFingerprint
	warned bool
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewToolCallLoopDetector builds a detector from session settings. logger
// may be nil in tests; warn mode then simply skips the log event.
func NewToolCallLoopDetector(cfg canon.ToolLoopSettings, logger *zap.Logger) *ToolCallLoopDetector {
	return &ToolCallLoopDetector{cfg: cfg, nowFn: time.Now, logger: logger}
}

func (d *ToolCallLoopDetector) Name() string { return "tool_call_loop_detector" }

func (d *ToolCallLoopDetector) Reset() {
	d.ring = d.ring[:0]
	d.warned = false
}

func (d *ToolCallLoopDetector) OnResponse(ctx context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error) {
	if !d.cfg.Enabled {
		return resp, nil
	}
	for i := range resp.Choices {
		for _, tc := range resp.Choices[i].Message.ToolCalls {
			switch d.observe(tc) {
			case tripWarn:
				d.logWarn(tc)
			case tripGuidance:
				resp.Choices[i].Message.ToolCalls = nil
				resp.Choices[i].Message.Text = toolLoopGuidanceNotice
			case tripBlock:
				resp.Choices[i].Message.ToolCalls = nil
				resp.Choices[i].Message.Text = toolLoopBlockedNotice
				resp.Choices[i].FinishReason = canon.FinishStop
			default:
				continue
			}
			break
		}
	}
	return resp, nil
}

func (d *ToolCallLoopDetector) OnStreamChunk(_ context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	if !d.cfg.Enabled {
		return chunk, Pass, nil
	}
	for ci, c := range chunk.Choices {
		for _, tc := range c.Delta.ToolCalls {
			if tc.Name == "" {
				continue // partial tool call fragment, not yet nameable
			}
			switch d.observe(tc) {
			case tripWarn:
				d.logWarn(tc)
			case tripGuidance:
				chunk.Choices[ci].Delta.ToolCalls = nil
				chunk.Choices[ci].Delta.Content = toolLoopGuidanceNotice
				return chunk, Modified, nil
			case tripBlock:
				fr := canon.FinishStop
				chunk.Choices[ci].Delta.ToolCalls = nil
				chunk.Choices[ci].Delta.Content = toolLoopBlockedNotice
				for i := range chunk.Choices {
					chunk.Choices[i].FinishReason = &fr
				}
				return chunk, Terminate, nil
			}
		}
	}
	return chunk, Pass, nil
}

// observe records tc's fingerprint and reports what action the loop
// threshold trip (if any) requires. Under ToolLoopChanceThenBlock, the
// first trip only guides (recorded via d.warned); a second trip blocks.
func (d *ToolCallLoopDetector) observe(tc canon.ToolCall) tripAction {
	now := d.nowFn()
	fp := canon.ToolCallFingerprint{Name: tc.Name, ArgsSorted: sortedArgs(tc.Arguments), AtUnixNano: now.UnixNano()}

	d.evictExpired(now)
	count := d.countSimilar(fp)
	d.push(fp)
	count++ // include the one just pushed

	if count < d.cfg.MaxRepeats {
		return tripNone
	}

	switch d.cfg.Mode {
	case canon.ToolLoopWarn:
		return tripWarn
	case canon.ToolLoopChanceThenBlock:
		if !d.warned {
			d.warned = true
			return tripGuidance
		}
		return tripBlock
	default: // block
		return tripBlock
	}
}

// logWarn emits the log event warn mode requires instead of altering the
// response.
func (d *ToolCallLoopDetector) logWarn(tc canon.ToolCall) {
	if d.logger == nil {
		return
	}
	d.logger.Warn("tool call loop detected (warn mode)", zap.String("tool", tc.Name))
}

func (d *ToolCallLoopDetector) push(fp canon.ToolCallFingerprint) {
	const maxRing = 64
	d.ring = append(d.ring, fp)
	if len(d.ring) > maxRing {
		d.ring = d.ring[len(d.ring)-maxRing:]
	}
}

func (d *ToolCallLoopDetector) evictExpired(now time.Time) {
	if d.cfg.TTLSeconds <= 0 {
		return
	}
	cutoff := now.Add(-time.Duration(d.cfg.TTLSeconds) * time.Second).UnixNano()
	kept := d.ring[:0]
	for _, fp := range d.ring {
		if fp.AtUnixNano >= cutoff {
			kept = append(kept, fp)
		}
	}
	d.ring = kept
}

func (d *ToolCallLoopDetector) countSimilar(fp canon.ToolCallFingerprint) int {
	count := 0
	for _, existing := range d.ring {
		if existing.Name != fp.Name {
			continue
		}
		if similarity(existing.ArgsSorted, fp.ArgsSorted) >= d.cfg.SimilarityThreshold {
			count++
		}
	}
	return count
}

func sortedArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		v, _ := json.Marshal(args[k])
		b.Write(v)
		b.WriteByte(';')
	}
	return b.String()
}

// similarity returns a normalized similarity in [0,1] based on Levenshtein
// edit distance; 1.0 means identical strings.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
