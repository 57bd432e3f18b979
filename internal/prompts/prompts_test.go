// ABOUTME: Tests for prompt template rendering
// ABOUTME: Covers language selection, data substitution, and fallback behavior

package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_AllTemplatesAllLanguages(t *testing.T) {
	data := Data{
		Question:    "the question",
		Goal:        "the goal",
		Brief:       "the brief",
		Description: "the description",
		Summaries:   "the summaries",
		MaxTasks:    5,
	}

	for _, lang := range []string{"en", "ko"} {
		for _, name := range []string{Clarify, Brief, Plan, Research, Synthesize} {
			out, err := Render(name, lang, data)
			require.NoError(t, err, "%s/%s", lang, name)
			assert.NotEmpty(t, out, "%s/%s", lang, name)
			assert.NotContains(t, out, "{{", "%s/%s left template syntax unrendered", lang, name)
		}
	}
}

func TestRender_SubstitutesData(t *testing.T) {
	out, err := Render(Clarify, "en", Data{Question: "effects of caffeine on sleep"})
	require.NoError(t, err)
	assert.Contains(t, out, "effects of caffeine on sleep")
	assert.Contains(t, out, ProceedMarker)
}

func TestRender_PlanIncludesTaskCap(t *testing.T) {
	out, err := Render(Plan, "en", Data{Brief: "b", MaxTasks: 4})
	require.NoError(t, err)
	assert.Contains(t, out, "between 2 and 4")
	assert.True(t, strings.Contains(out, "research_question"), "plan prompt must request the JSON task shape")
}

func TestRender_UnsupportedLanguageFallsBackToEnglish(t *testing.T) {
	en, err := Render(Brief, "en", Data{Goal: "g"})
	require.NoError(t, err)

	fr, err := Render(Brief, "fr", Data{Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, en, fr)
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, err := Render("decompile", "en", Data{})
	assert.Error(t, err)
}
