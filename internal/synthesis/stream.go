package synthesis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/utils"
)

type FrameType string

const (
	FrameStart   FrameType = "start"
	FrameSources FrameType = "sources"
	FrameAnswer  FrameType = "answer"
	FrameDone    FrameType = "done"
	FrameError   FrameType = "error"
)

// how long a terminal frame waits for a consumer that stopped reading
const terminalGrace = 5 * time.Second

// Frame - One event of an answer stream. Only the fields of its Type are encoded.
type Frame struct {
	Type FrameType

	Sources       []retrieval.Chunk
	RetrievalTime float64

	Content string

	SynthesisTime float64
	TotalTime     float64

	Message string
	Kind    apperr.Kind
}

func (f Frame) Terminal() bool {
	return f.Type == FrameDone || f.Type == FrameError
}

func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case FrameSources:
		sources := f.Sources
		if sources == nil {
			sources = []retrieval.Chunk{}
		}
		return json.Marshal(struct {
			Type          FrameType         `json:"type"`
			Sources       []retrieval.Chunk `json:"sources"`
			RetrievalTime float64           `json:"retrieval_time"`
		}{f.Type, sources, f.RetrievalTime})
	case FrameAnswer:
		return json.Marshal(struct {
			Type    FrameType `json:"type"`
			Content string    `json:"content"`
		}{f.Type, f.Content})
	case FrameDone:
		return json.Marshal(struct {
			Type          FrameType `json:"type"`
			SynthesisTime float64   `json:"synthesis_time"`
			TotalTime     float64   `json:"total_time"`
		}{f.Type, f.SynthesisTime, f.TotalTime})
	case FrameError:
		return json.Marshal(struct {
			Type    FrameType   `json:"type"`
			Message string      `json:"message"`
			Kind    apperr.Kind `json:"kind"`
		}{f.Type, f.Message, f.Kind})
	default:
		return json.Marshal(struct {
			Type FrameType `json:"type"`
		}{f.Type})
	}
}

func errorFrame(err error) Frame {
	return Frame{Type: FrameError, Message: err.Error(), Kind: apperr.KindOf(err)}
}

// StreamInput - Request.Chunks is used as is unless Retrieve is set, in which case retrieval runs
// inside the stream after the start frame.
type StreamInput struct {
	Request
	Generator      llms.Generator
	Retrieve       func(ctx context.Context) ([]retrieval.Chunk, error)
	IncludeSources bool
	// Start is when the request entered the pipeline. Zero means now.
	Start time.Time
	// OnComplete runs before the done frame, only for answers that finished.
	OnComplete func(answer string, chunks []retrieval.Chunk)
}

type streamer struct {
	ctx    context.Context
	frames chan<- Frame
}

func (s streamer) send(f Frame) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.frames <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish - Deliver the terminal frame. It is attempted even after cancellation so a consumer that
// keeps draining still sees how the stream ended.
func (s streamer) finish(f Frame) {
	timer := time.NewTimer(terminalGrace)
	defer timer.Stop()
	select {
	case s.frames <- f:
	case <-timer.C:
	}
}

// Stream - Frames in the order start, sources (when requested), one or more answers, then exactly
// one done or error. The channel is closed after the terminal frame. Consumers should drain it;
// cancelling ctx stops generation at the next fragment.
func Stream(ctx context.Context, in StreamInput) <-chan Frame {
	frames := make(chan Frame, 1)
	go func() {
		defer close(frames)
		s := streamer{ctx: ctx, frames: frames}
		stream(s, in)
	}()
	return frames
}

func stream(s streamer, in StreamInput) {
	const op = "synthesis.Stream"
	start := in.Start
	if start.IsZero() {
		start = time.Now()
	}
	cancelled := func() {
		s.finish(errorFrame(apperr.New(apperr.ProviderUnavailable, op, context.Cause(s.ctx))))
	}

	if !s.send(Frame{Type: FrameStart}) {
		cancelled()
		return
	}

	chunks := in.Chunks
	if in.Retrieve != nil {
		var err error
		chunks, err = in.Retrieve(s.ctx)
		if err != nil {
			s.finish(errorFrame(err))
			return
		}
	}
	retrievalTime := utils.Seconds(time.Since(start))
	if in.IncludeSources && !s.send(Frame{Type: FrameSources, Sources: chunks, RetrievalTime: retrievalTime}) {
		cancelled()
		return
	}

	req := in.Request
	req.Chunks = chunks
	prompt, err := prepare(op, req)
	if err != nil {
		s.finish(errorFrame(err))
		return
	}

	synthesisStart := time.Now()
	var answer strings.Builder
	sent := 0
	err = in.Generator.GenerateStream(s.ctx, prompt, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		if !s.send(Frame{Type: FrameAnswer, Content: fragment}) {
			return context.Cause(s.ctx)
		}
		answer.WriteString(fragment)
		sent++
		return nil
	}, req.Options...)
	if s.ctx.Err() != nil {
		cancelled()
		return
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			err = apperr.New(apperr.ProviderUnavailable, op, err)
		}
		s.finish(errorFrame(err))
		return
	}
	if sent == 0 && !s.send(Frame{Type: FrameAnswer}) {
		cancelled()
		return
	}
	synthesisTime := utils.Seconds(time.Since(synthesisStart))

	if in.OnComplete != nil {
		in.OnComplete(answer.String(), chunks)
	}
	s.finish(Frame{Type: FrameDone, SynthesisTime: synthesisTime, TotalTime: utils.Seconds(time.Since(start))})
}
