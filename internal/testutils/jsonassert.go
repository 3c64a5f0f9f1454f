package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in an expected document matches whatever the actual value is.
const AnyValue = "<<ANY>>"

// JSONAssertOptions controls JSON comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	AllowAnyValue   bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a gojsondiff
// rendering on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Options returns the effective options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert reports a failure when actual does not match expected.
func (ja *JSONAsserter) Assert(actual, expected string) bool {
	diff := ja.Diff(actual, expected)
	if diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns a description of the differences, or "" when they match.
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act map[string]interface{}
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	for _, field := range ja.options.IgnoredFields {
		dropField(exp, field)
		dropField(act, field)
	}
	if ja.options.AllowAnyValue {
		fillAnyValues(exp, act)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(act, exp)
	}

	diff := gojsondiff.New().CompareObjects(exp, act)
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON documents differ (format failed: %v)", err)
	}
	return out
}

func fillAnyValues(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == AnyValue {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			fillAnyValues(v, act[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				fillAnyValues(exp[i], act[i])
			}
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func dropField(v interface{}, field string) {
	switch m := v.(type) {
	case map[string]interface{}:
		delete(m, field)
		for _, child := range m {
			dropField(child, field)
		}
	case []interface{}:
		for _, child := range m {
			dropField(child, field)
		}
	}
}

func WithIgnoreExtraKeys(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

func WithAllowAnyValue(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.AllowAnyValue = v }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
