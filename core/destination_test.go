package core

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDestination(t *testing.T) {
	def, _ := url.Parse("http://default.example.com/send")

	tests := map[string]struct {
		headers  Headers
		expected string
	}{
		"no headers":     {nil, "http://default.example.com/send"},
		"override":       {Headers{{Key: DefaultOverrideHeader, Value: []byte("https://other.example.com/x?y=1")}}, "https://other.example.com/x?y=1"},
		"last wins":      {Headers{{Key: DefaultOverrideHeader, Value: []byte("http://a/")}, {Key: DefaultOverrideHeader, Value: []byte("http://b/")}}, "http://b/"},
		"malformed":      {Headers{{Key: DefaultOverrideHeader, Value: []byte("::not a url")}}, "http://default.example.com/send"},
		"relative":       {Headers{{Key: DefaultOverrideHeader, Value: []byte("/just/a/path")}}, "http://default.example.com/send"},
		"unknown scheme": {Headers{{Key: DefaultOverrideHeader, Value: []byte("ftp://files.example.com")}}, "http://default.example.com/send"},
		"empty":          {Headers{{Key: DefaultOverrideHeader, Value: []byte("")}}, "http://default.example.com/send"},
		"other header":   {Headers{{Key: "x-url", Value: []byte("http://ignored/")}}, "http://default.example.com/send"},
		"last malformed": {Headers{{Key: DefaultOverrideHeader, Value: []byte("http://a/")}, {Key: DefaultOverrideHeader, Value: []byte("nope")}}, "http://default.example.com/send"},
		"padded":         {Headers{{Key: DefaultOverrideHeader, Value: []byte("  http://trim.example.com ")}}, "http://trim.example.com"},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := ResolveDestination(Record{Headers: test.headers}, def, "")
			assert.Equal(t, test.expected, got.String())
		})
	}
}

func TestResolveDestinationCustomHeader(t *testing.T) {
	def, _ := url.Parse("http://default/")
	rec := Record{Headers: Headers{
		{Key: "route_to", Value: []byte("http://custom/")},
		{Key: DefaultOverrideHeader, Value: []byte("http://ignored/")},
	}}
	assert.Equal(t, "http://custom/", ResolveDestination(rec, def, "route_to").String())
}

func TestResolveDestinationEmptyHeaderNameUsesDefault(t *testing.T) {
	def, _ := url.Parse("http://default/")
	rec := Record{Headers: Headers{{Key: DefaultOverrideHeader, Value: []byte("http://override/")}}}
	assert.Equal(t, "http://override/", ResolveDestination(rec, def, "").String())

	cfg := DefaultConfig()
	cfg.OverrideHeader = ""
	units := planner{cfg: cfg, defaultURL: def, converter: StringConverter{}}.plan([]Record{rec}, &Report{Outcomes: make([]Outcome, 1)})
	assert.Equal(t, "http://override/", units[0].dest.String())
}
