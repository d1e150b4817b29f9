package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-voice/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const DefaultSynthesisConcurrency = 5

// SynthesisResult is what a worker hands back for one fragment. A nil clip
// means synthesis failed.
type SynthesisResult struct {
	Index int
	Clip  *audio.Clip
}

type PlaybackReport struct {
	Played    []int
	Skipped   []int
	Cancelled bool
}

// PlaybackPipeline synthesizes fragments in parallel and plays them strictly
// in their original order.
type PlaybackPipeline struct {
	synthesizer Synthesizer
	sink        AudioSink
	concurrency int
	onPlayed    func(index int, text string)
}

type PipelineOption func(*PlaybackPipeline)

func WithPipelineConcurrency(concurrency int) PipelineOption {
	return func(p *PlaybackPipeline) {
		if concurrency > 0 {
			p.concurrency = concurrency
		}
	}
}

func WithPlayedCallback(callback func(index int, text string)) PipelineOption {
	return func(p *PlaybackPipeline) { p.onPlayed = callback }
}

func NewPlaybackPipeline(synthesizer Synthesizer, sink AudioSink, opts ...PipelineOption) *PlaybackPipeline {
	p := &PlaybackPipeline{
		synthesizer: synthesizer,
		sink:        sink,
		concurrency: DefaultSynthesisConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play dispatches every fragment to the worker pool and plays results as
// the cursor reaches them. Failed fragments are skipped. No clip starts
// before signal is done. When ctx is cancelled Play returns ctx.Err() right
// away and buffered or in-flight results are dropped.
func (p *PlaybackPipeline) Play(ctx context.Context, fragments []string, signal *FillerSignal) (PlaybackReport, error) {
	ctx, span := tracer.Start(ctx, "play reply")
	defer span.End()
	span.SetAttributes(attribute.Int("playback.fragments", len(fragments)))

	report := PlaybackReport{}
	if len(fragments) == 0 {
		return report, nil
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	results := make(chan SynthesisResult, len(fragments))
	go p.dispatch(workCtx, fragments, results)

	cancelled := func() (PlaybackReport, error) {
		report.Cancelled = true
		span.AddEvent("playback cancelled")
		return report, ctx.Err()
	}

	buffer := make(map[int]*audio.Clip)
	failed := make(map[int]bool)
	for expected := 0; expected < len(fragments); {
		clip, ready := buffer[expected]
		if !ready && !failed[expected] {
			select {
			case <-ctx.Done():
				return cancelled()
			case result, ok := <-results:
				if !ok {
					// Every worker reported, anything still missing failed.
					for i := expected; i < len(fragments); i++ {
						if _, ready := buffer[i]; !ready {
							failed[i] = true
						}
					}
					continue
				}
				if result.Clip == nil {
					failed[result.Index] = true
				} else {
					buffer[result.Index] = result.Clip
				}
				continue
			}
		}

		if failed[expected] {
			delete(failed, expected)
			report.Skipped = append(report.Skipped, expected)
			expected++
			continue
		}

		if err := signal.Wait(ctx); err != nil {
			return cancelled()
		}

		delete(buffer, expected)
		if err := p.sink.PlayBlocking(ctx, *clip); err != nil && ctx.Err() == nil {
			err = fmt.Errorf("failed to play fragment %d: %w", expected, err)
			span.RecordError(err)
			logger.Warn("failed to play fragment", "index", expected, "error", err)
		}
		if ctx.Err() != nil {
			return cancelled()
		}

		report.Played = append(report.Played, expected)
		if p.onPlayed != nil {
			p.onPlayed(expected, fragments[expected])
		}
		expected++
	}

	if len(report.Skipped) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d fragments skipped", len(report.Skipped), len(fragments)))
	}
	return report, nil
}

// dispatch runs the bounded worker pool and closes results once every
// fragment has reported. results is buffered for all fragments, so workers
// never block on it.
func (p *PlaybackPipeline) dispatch(ctx context.Context, fragments []string, results chan<- SynthesisResult) {
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, text := range fragments {
		g.Go(func() error {
			results <- SynthesisResult{Index: i, Clip: p.synthesize(ctx, i, text)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
}

func (p *PlaybackPipeline) synthesize(ctx context.Context, index int, text string) *audio.Clip {
	if ctx.Err() != nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "synthesize fragment")
	defer span.End()
	span.SetAttributes(attribute.Int("fragment.index", index))

	var clip *audio.Clip
	err := panicSafe("synthesizer", func() error {
		var err error
		clip, err = p.synthesizer.Synthesize(ctx, text)
		return err
	})
	if err == nil && (clip == nil || len(clip.Audio) == 0) {
		err = fmt.Errorf("empty clip")
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		err = fmt.Errorf("%w: fragment %d: %w", ErrSynthesisFailed, index, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("skipping fragment", "index", index, "error", err)
		return nil
	}
	return clip
}
