package pipeline

import (
	"context"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// loopDetectedNotice replaces the content of the stream chunk that trips
// the detector, and is appended to a non-streaming response's text after
// that text is cut at the first point a loop is detected, so the client
// sees an explicit explanation instead of a silently truncated response.
const loopDetectedNotice = "[response terminated: repeated content loop detected]"

// ContentLoopDetector watches accumulated streamed text for a short
// substring repeating back-to-back past a configured threshold — the
// classic "the model is stuck" failure mode. Detection is amortized O(1)
// per chunk: only the tail of the buffer (bounded by twice MaxPatternLen *
// MinRepetitions) is ever rescanned, not the whole response.
type ContentLoopDetector struct {
	cfg    canon.LoopDetectionSettings
	buffer []byte
}

// NewContentLoopDetector builds a detector from session settings.
func NewContentLoopDetector(cfg canon.LoopDetectionSettings) *ContentLoopDetector {
	return &ContentLoopDetector{cfg: cfg}
}

func (d *ContentLoopDetector) Name() string { return "content_loop_detector" }

func (d *ContentLoopDetector) Reset() { d.buffer = d.buffer[:0] }

func (d *ContentLoopDetector) OnResponse(_ context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error) {
	if !d.cfg.Enabled {
		return resp, nil
	}
	for i := range resp.Choices {
		text := resp.Choices[i].Message.Text
		for end := 1; end <= len(text); end++ {
			if d.findLoop([]byte(text[:end])) {
				resp.Choices[i].FinishReason = canon.FinishContentFilter
				resp.Choices[i].Message.Text = text[:end] + "\n\n" + loopDetectedNotice
				break
			}
		}
	}
	return resp, nil
}

func (d *ContentLoopDetector) OnStreamChunk(_ context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	if !d.cfg.Enabled {
		return chunk, Pass, nil
	}

	tripped := false
	for _, c := range chunk.Choices {
		if c.Delta.Content == "" {
			continue
		}
		d.buffer = append(d.buffer, c.Delta.Content...)
		d.trimBuffer()
		if d.findLoop(d.buffer) {
			tripped = true
		}
	}

	if tripped {
		fr := canon.FinishContentFilter
		for i := range chunk.Choices {
			chunk.Choices[i].Delta.Content = loopDetectedNotice
			chunk.Choices[i].FinishReason = &fr
		}
		return chunk, Terminate, nil
	}
	return chunk, Pass, nil
}

// trimBuffer bounds the buffer to the largest window a loop check could
// ever need, keeping every OnStreamChunk call cheap regardless of how long
// the overall stream has run.
func (d *ContentLoopDetector) trimBuffer() {
	maxWindow := d.cfg.MaxPatternLen * d.cfg.MinRepetitions * 2
	if maxWindow <= 0 {
		return
	}
	if len(d.buffer) > maxWindow {
		d.buffer = d.buffer[len(d.buffer)-maxWindow:]
	}
}

// findLoop reports whether buf's tail consists of some pattern of length
// in [MinPatternLen, MaxPatternLen] repeated at least MinRepetitions times
// consecutively.
func (d *ContentLoopDetector) findLoop(buf []byte) bool {
	for patLen := d.cfg.MinPatternLen; patLen <= d.cfg.MaxPatternLen; patLen++ {
		need := patLen * d.cfg.MinRepetitions
		if need > len(buf) {
			continue
		}
		tail := buf[len(buf)-need:]
		pattern := tail[len(tail)-patLen:]
		repeated := true
		for i := 0; i < d.cfg.MinRepetitions; i++ {
			start := len(tail) - (i+1)*patLen
			if string(tail[start:start+patLen]) != string(pattern) {
				repeated = false
				break
			}
		}
		if repeated {
			return true
		}
	}
	return false
}
