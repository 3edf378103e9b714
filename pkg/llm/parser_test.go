package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/pkg/models"
)

func TestParseVerdict(t *testing.T) {
	t.Run("strict JSON", func(t *testing.T) {
		v, err := ParseVerdict(`{"decision":"Non-Toxic","confidence":0.98,"reasoning":"greeting"}`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictNonToxic, v.Decision)
		assert.Equal(t, 0.98, v.Confidence)
		assert.Equal(t, "greeting", v.Reasoning)
	})

	t.Run("code fence with language tag", func(t *testing.T) {
		v, err := ParseVerdict("```json\n{\"decision\":\"Toxic\",\"confidence\":0.91}\n```")
		require.NoError(t, err)
		assert.Equal(t, models.VerdictToxic, v.Decision)
		assert.Equal(t, 0.91, v.Confidence)
	})

	t.Run("embedded object in prose", func(t *testing.T) {
		v, err := ParseVerdict(`After careful analysis I conclude {"decision":"Toxic","confidence":0.91} as shown.`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictToxic, v.Decision)
		assert.Equal(t, 0.91, v.Confidence)
	})

	t.Run("braces inside strings do not break extraction", func(t *testing.T) {
		v, err := ParseVerdict(`noise {"decision":"Spam","confidence":0.7,"reasoning":"contains {weird} braces"} trailing`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictSpam, v.Decision)
		assert.Equal(t, "contains {weird} braces", v.Reasoning)
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		v, err := ParseVerdict(`{"decision":"PII","confidence":0.8,"model_notes":"x","tokens":42}`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPII, v.Decision)
	})

	t.Run("case-insensitive decision labels", func(t *testing.T) {
		v, err := ParseVerdict(`{"decision":"toxic","confidence":0.9}`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictToxic, v.Decision)

		v, err = ParseVerdict(`{"decision":"safe","confidence":0.9}`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictNonToxic, v.Decision)
	})

	t.Run("unrecognized decision maps to Unknown", func(t *testing.T) {
		v, err := ParseVerdict(`{"decision":"sketchy","confidence":0.5}`)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictUnknown, v.Decision)
	})

	t.Run("reasoning capped at 1 KiB", func(t *testing.T) {
		long := strings.Repeat("r", 2048)
		v, err := ParseVerdict(`{"decision":"Toxic","confidence":0.9,"reasoning":"` + long + `"}`)
		require.NoError(t, err)
		assert.Len(t, v.Reasoning, maxReasoningBytes)
	})

	t.Run("missing decision is unparseable", func(t *testing.T) {
		_, err := ParseVerdict(`{"confidence":0.9}`)
		assert.ErrorIs(t, err, ErrUnparseable)
	})

	t.Run("missing confidence is unparseable", func(t *testing.T) {
		_, err := ParseVerdict(`{"decision":"Toxic"}`)
		assert.ErrorIs(t, err, ErrUnparseable)
	})

	t.Run("confidence out of range is unparseable", func(t *testing.T) {
		_, err := ParseVerdict(`{"decision":"Toxic","confidence":1.7}`)
		assert.ErrorIs(t, err, ErrUnparseable)
	})

	t.Run("no JSON at all is unparseable", func(t *testing.T) {
		_, err := ParseVerdict("I cannot classify this message.")
		assert.ErrorIs(t, err, ErrUnparseable)
	})

	t.Run("unbalanced braces are unparseable", func(t *testing.T) {
		_, err := ParseVerdict(`{"decision":"Toxic","confidence":0.9`)
		assert.ErrorIs(t, err, ErrUnparseable)
	})
}

func TestExtractContent(t *testing.T) {
	t.Run("canonical choices path", func(t *testing.T) {
		text, err := extractContent([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("legacy text path", func(t *testing.T) {
		text, err := extractContent([]byte(`{"choices":[{"text":"hello"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("flat response path", func(t *testing.T) {
		text, err := extractContent([]byte(`{"response":"hello"}`))
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("empty envelope is an upstream error", func(t *testing.T) {
		_, err := extractContent([]byte(`{}`))
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("non-JSON body is an upstream error", func(t *testing.T) {
		_, err := extractContent([]byte(`<html>busy</html>`))
		assert.ErrorIs(t, err, ErrUpstream)
	})
}
