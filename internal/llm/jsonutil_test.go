package llm

import (
	"encoding/json"
	"testing"

	"github.com/fentz26/cropcare/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{
			name:    "plain object",
			input:   `{"summary": "ok"}`,
			wantKey: "summary",
		},
		{
			name:    "markdown code block with prose",
			input:   "Here is your plan:\n```json\n{\"summary\": \"ok\"}\n```\n\nLet me know if you need more.",
			wantKey: "summary",
		},
		{
			name:    "line comments and trailing commas",
			input:   "{\n  \"next7Days\": [\n    {\"date\": \"2026-10-19\"},  // day one\n    {\"date\": \"2026-10-20\"},\n  ],\n}",
			wantKey: "next7Days",
		},
		{
			name:    "block comment",
			input:   "{ /* model note: {weird} */ \"summary\": \"ok\" }",
			wantKey: "summary",
		},
		{
			name:    "URL inside string is kept",
			input:   `{"url": "http://example.com/a//b"}`,
			wantKey: "url",
		},
		{
			name:    "braces inside strings do not unbalance",
			input:   `noise {"summary": "use } and { carefully"} more noise`,
			wantKey: "summary",
		},
		{
			name:    "prose bracket before the real object",
			input:   "[Note] output follows: {\"summary\": \"ok\"}",
			wantKey: "summary",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			input:   `{"summary": "truncated`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				assert.Empty(t, result)
				return
			}

			require.NotEmpty(t, result)
			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(result), &parsed), "result: %s", result)
			assert.Contains(t, parsed, tt.wantKey)
		})
	}
}

func TestExtractJSON_TopLevelArray(t *testing.T) {
	result := ExtractJSON("```\n[1, 2, 3,]\n```")

	var parsed []int
	require.NoError(t, json.Unmarshal([]byte(result), &parsed))
	assert.Equal(t, []int{1, 2, 3}, parsed)
}

func TestExtractJSON_PreservesStringContent(t *testing.T) {
	result := ExtractJSON(`{"note": "a, ] b // not a comment /* nor this */"}`)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(result), &parsed))
	assert.Equal(t, "a, ] b // not a comment /* nor this */", parsed["note"])
}

func TestDecode(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, Decode("```json\n{\"summary\": \"fine\",}\n```", &out))
	assert.Equal(t, "fine", out.Summary)

	err := Decode("nothing here", &out)
	assert.ErrorIs(t, err, models.ErrGenerationMalformed)

	var wrongShape struct {
		Summary int `json:"summary"`
	}
	err = Decode(`{"summary": "text"}`, &wrongShape)
	assert.ErrorIs(t, err, models.ErrGenerationMalformed)
}

func TestDecode_SkipsFragmentsThatDoNotFitTarget(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
	}
	input := "Based on note [1], here is the plan:\n```json\n{\"summary\": \"water less\"}\n```"

	require.NoError(t, Decode(input, &out))
	assert.Equal(t, "water less", out.Summary)
	assert.Equal(t, "[1]", ExtractJSON(input))
}

func TestDecode_FailedCandidateLeavesTargetUntouched(t *testing.T) {
	out := struct {
		Summary string `json:"summary"`
		Count   int    `json:"count"`
	}{Summary: "keep"}

	err := Decode(`{"summary": "new", "count": "three"}`, &out)
	assert.ErrorIs(t, err, models.ErrGenerationMalformed)
	assert.Equal(t, "keep", out.Summary)
}
