package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"ok", `{"title":"T","content":"C"}`, nil},
		{"empty content allowed", `{"title":"T","content":""}`, nil},
		{"empty title", `{"title":"","content":"x"}`, []string{MsgTitleRequired}},
		{"missing title", `{"content":"x"}`, []string{MsgTitleRequired}},
		{"numeric title", `{"title":5,"content":"x"}`, []string{MsgTitleString}},
		{"false title", `{"title":false,"content":"x"}`, []string{MsgTitleRequired}},
		{"missing content", `{"title":"T"}`, []string{MsgContentString}},
		{"object content", `{"title":"T","content":{"ops":[]}}`, []string{MsgContentString}},
		{"both bad", `{"title":[1],"content":3}`, []string{MsgTitleString, MsgContentString}},
		{"not json", `{"title":`, []string{MsgInvalidPayload}},
		{"array body", `["T"]`, []string{MsgInvalidPayload}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseCreate([]byte(tc.body))
			if tc.want == nil {
				require.NoError(t, err)
				require.NotNil(t, d)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.want, ve.Errors)
			assert.Nil(t, d)
		})
	}
}

func TestParsePatch(t *testing.T) {
	p, err := ParsePatch([]byte(`{"content":"C2"}`))
	require.NoError(t, err)
	require.Nil(t, p.Title)
	require.NotNil(t, p.Content)
	assert.Equal(t, "C2", *p.Content)

	p, err = ParsePatch([]byte(`{"content":""}`))
	require.NoError(t, err)
	require.NotNil(t, p.Content)
	assert.Equal(t, "", *p.Content)

	p, err = ParsePatch([]byte(`{"title":null}`))
	require.NoError(t, err)
	assert.Nil(t, p.Title)
	assert.Nil(t, p.Content)

	_, err = ParsePatch([]byte(`{"title":""}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{MsgTitleRequired}, ve.Errors)

	_, err = ParsePatch([]byte(`{"title":12,"content":true}`))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{MsgTitleString, MsgContentString}, ve.Errors)
}

func TestValidateSnapshot(t *testing.T) {
	require.NoError(t, ValidateSnapshot(Snapshot{Title: "a"}))
	err := ValidateSnapshot(Snapshot{Content: "x"})
	require.True(t, IsValidation(err))
}

func TestNextUpdatedAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Millisecond), NextUpdatedAt(base, base))
	assert.Equal(t, base.Add(time.Millisecond), NextUpdatedAt(base, base.Add(-time.Hour)))
	later := base.Add(5 * time.Second)
	assert.Equal(t, later, NextUpdatedAt(base, later.Add(300*time.Microsecond)))
}

func TestPatchApply(t *testing.T) {
	now := Now()
	d := &Document{Title: "T", Content: "C"}
	Stamp(d, now)
	require.NotEmpty(t, d.ID)
	require.Equal(t, d.CreatedAt, d.UpdatedAt)

	c2 := "C2"
	Patch{Content: &c2}.Apply(d, now)
	assert.Equal(t, "T", d.Title)
	assert.Equal(t, "C2", d.Content)
	assert.True(t, d.UpdatedAt.After(d.CreatedAt))
}
