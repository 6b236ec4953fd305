package stages

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
)

// Text frame keys written by wordsplit.
const (
	FrameID         = "id"
	FrameBaseID     = "baseid"
	FrameConfidence = "confidence"
)

// NewWordSplit returns the "wordsplit" stage. For every text frame present
// when the activation starts it appends one frame per contiguous run of
// words, carrying the source frame's confidence and id as baseid. Frames
// without an id get a random one.
func NewWordSplit(sc *pipeline.Scheduler) (pipeline.Stage, error) {
	maxWords := sc.Params().Int("wordsplit", "max_words", 0, "longest word run emitted; 0 emits every run")

	work := func(ctx context.Context, a *pipeline.Activation) int {
		item := a.Item()
		frames, ok := item.TextFrames()
		if !ok {
			a.Logger().Error("item has no text list", logger.Fields(logger.FieldItemID, item.ID()))
			return pipeline.StatusFailed
		}
		for i, frame := range frames {
			if ctx.Err() != nil {
				return pipeline.StatusCanceled
			}
			text, ok := frame[document.KeyText].(string)
			if !ok {
				a.Logger().Error("text frame has no text string", logger.Fields(logger.FieldItemID, item.ID(), "frame", i))
				return pipeline.StatusFailed
			}
			baseID, _ := frame[FrameID].(string)
			if baseID == "" {
				baseID = uuid.NewString()
				frame[FrameID] = baseID
			}
			for _, run := range wordRuns(strings.Fields(text), maxWords) {
				item.AppendText(map[string]any{
					document.KeyText: run,
					FrameConfidence:  frame[FrameConfidence],
					FrameBaseID:      baseID,
				})
			}
			a.SetProgress((i + 1) * 100 / len(frames))
		}
		return pipeline.StatusOK
	}
	return pipeline.NewAsyncStage(sc, "wordsplit", work), nil
}

// wordRuns returns every contiguous run of words, ordered by start index
// then length. maxWords > 0 caps the run length.
func wordRuns(words []string, maxWords int) []string {
	var out []string
	for i := range words {
		for j := i + 1; j <= len(words); j++ {
			if maxWords > 0 && j-i > maxWords {
				break
			}
			out = append(out, strings.Join(words[i:j], " "))
		}
	}
	return out
}
