package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.True(t, opts.StripColors)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", match: true},
		{name: "surrounding whitespace", actual: "\n\na\nb  \n", expected: "a\nb", match: true},
		{name: "leading whitespace significant", actual: "a\n  b", expected: "a\nb", match: false},
		{name: "trailing whitespace per line", actual: "a  \nb\t", expected: "a\nb", match: true},
		{name: "ansi colors stripped", actual: "\x1b[32mREADY\x1b[0m", expected: "READY", match: true},
		{name: "colors kept", opts: []TextOption{WithStripColors(false)}, actual: "\x1b[32mREADY\x1b[0m", expected: "READY", match: false},
		{name: "empty lines ignored", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\nb", expected: "a\nb", match: true},
		{name: "empty lines significant", actual: "a\n\nb", expected: "a\nb", match: false},
		{name: "content differs", actual: "a\nc", expected: "a\nb", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewTextAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.match, ok)
			assert.Equal(t, !tt.match, len(rec.failures) == 1)
		})
	}
}

func TestTextAsserter_DiffIsUnified(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\nthree", "one\ntwo")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+three")
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{name: "equal", actual: `{"state":"ready"}`, expected: `{"state":"ready"}`, match: true},
		{name: "extra keys ignored", actual: `{"state":"ready","session":"x"}`, expected: `{"state":"ready"}`, match: true},
		{name: "extra keys significant", opts: []JSONOption{WithIgnoreExtraKeys(false)}, actual: `{"state":"ready","session":"x"}`, expected: `{"state":"ready"}`, match: false},
		{name: "any value", actual: `{"session":"3c1e"}`, expected: `{"session":"<<ANY>>"}`, match: true},
		{name: "any value still requires key", actual: `{}`, expected: `{"session":"<<ANY>>"}`, match: false},
		{name: "ignored field", opts: []JSONOption{WithIgnoredFields("time")}, actual: `{"kind":"event","time":"now"}`, expected: `{"kind":"event","time":"later"}`, match: true},
		{name: "nested mismatch", actual: `{"accessory":{"id":"a"}}`, expected: `{"accessory":{"id":"b"}}`, match: false},
		{name: "invalid actual", actual: `{`, expected: `{}`, match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.match, ok, "failures: %v", rec.failures)
		})
	}
}
