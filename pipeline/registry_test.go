package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

func testRegistry(rec *recorder) *Registry {
	r := NewRegistry()
	for _, name := range []string{"segment", "ocr", "regex"} {
		r.MustRegister(name, "appends "+name, func(sc *Scheduler) (Stage, error) {
			return recordingStage(sc, rec, name, 0, StatusOK), nil
		})
	}
	_ = r.RegisterMerge("append_text", document.MergeText)
	return r
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := testRegistry(&recorder{})
	err := r.Register("ocr", "again", func(*Scheduler) (Stage, error) { return nil, nil })
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Error(t, r.RegisterMerge("append_text", document.MergeText))
	assert.Error(t, r.Register("", "no name", nil))
	assert.Panics(t, func() { r.MustRegister("ocr", "", func(*Scheduler) (Stage, error) { return nil, nil }) })
}

func TestRegistry_NamesAndDescribe(t *testing.T) {
	r := testRegistry(&recorder{})
	assert.Equal(t, []string{"ocr", "regex", "segment"}, r.Names())
	infos := r.Describe()
	require.Len(t, infos, 3)
	assert.Equal(t, StageInfo{Name: "ocr", Description: "appends ocr"}, infos[0])
}

func TestRegistry_UnknownNames(t *testing.T) {
	r := testRegistry(&recorder{})
	sc := NewScheduler()

	_, err := r.New(sc, "spellcheck")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = r.Merge("nope")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = r.BuildChain(sc, []config.StepConfig{{Fork: &config.ForkConfig{
		A: []config.StepConfig{{Stage: "ocr"}}, B: []config.StepConfig{{Stage: "ocr"}}, Merge: "nope",
	}}})
	assert.Error(t, err)
}

func TestRegistry_BuildChain(t *testing.T) {
	rec := &recorder{}
	r := testRegistry(rec)
	sc := NewScheduler()

	steps := []config.StepConfig{
		{Fork: &config.ForkConfig{
			A:     []config.StepConfig{{Stage: "segment"}, {Stage: "ocr"}},
			B:     []config.StepConfig{{Stage: "ocr"}},
			Merge: "append_text",
		}},
		{Stage: "regex"},
	}
	chain, err := r.BuildChain(sc, steps)
	require.NoError(t, err)
	assert.Equal(t, 4, chain.Weight())
	assert.Len(t, chain.Stages(), 4, "each reference gets its own instance")

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, []string{"segment", "ocr", "ocr", "regex"}, textsOf(run.Item()))
	assert.Equal(t, "regex", rec.list()[3])

	require.NoError(t, sc.Shutdown(context.Background()))
}
