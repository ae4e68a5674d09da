package config

import (
	"reflect"
	"strings"
	"testing"
)

func TestDefaultDecoder(t *testing.T) {
	src := &KeyValue{
		Key:    "cache",
		Value:  []byte("root"),
		Format: "",
	}
	target := make(map[string]interface{})
	err := defaultDecoder(src, target)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(target, map[string]interface{}{"cache": []byte("root")}) {
		t.Fatal(`target is not equal to map[string]interface{}{"cache": "root"}`)
	}

	src = &KeyValue{
		Key:    "cache.root.path",
		Value:  []byte("/var/cache/reqqueue"),
		Format: "",
	}
	target = make(map[string]interface{})
	err = defaultDecoder(src, target)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(map[string]interface{}{
		"cache": map[string]interface{}{
			"root": map[string]interface{}{
				"path": []byte("/var/cache/reqqueue"),
			},
		},
	}, target) {
		t.Fatal(`target is not equal to map[string]interface{}{"cache": map[string]interface{}{"root": map[string]interface{}{"path": []byte("/var/cache/reqqueue")}}}`)
	}
}

func TestDefaultDecoderUsesFormatSpecificUnmarshal(t *testing.T) {
	src := &KeyValue{
		Key:    "reqqueue.yaml",
		Value:  []byte("cache:\n  root: /var/cache/reqqueue\n  max_bytes: 1024\n"),
		Format: "yaml",
	}
	target := make(map[string]interface{})
	if err := defaultDecoder(src, target); err != nil {
		t.Fatal(err)
	}
	cache, ok := target["cache"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected target[\"cache\"] to decode as a map, got %#v", target["cache"])
	}
	if cache["root"] != "/var/cache/reqqueue" {
		t.Fatalf("root decode mismatch: %#v", cache["root"])
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		input   string
		mapping func(string) string
		want    string
	}{
		{
			input: "${a}",
			mapping: func(s string) string {
				return strings.ToUpper(s)
			},
			want: "A",
		},
		{
			input: "a",
			mapping: func(s string) string {
				return strings.ToUpper(s)
			},
			want: "a",
		},
	}
	for _, tt := range tests {
		if got := expand(tt.input, tt.mapping); got != tt.want {
			t.Errorf("expand() want: %s, got: %s", tt.want, got)
		}
	}
}

func TestWithMergeFunc(t *testing.T) {
	c := &options{}
	a := func(dst, src interface{}) error {
		return nil
	}
	WithMergeFunc(a)(c)
	if c.merge == nil {
		t.Fatal("c.merge is nil")
	}
}

func TestWithDecoder(t *testing.T) {
	c := &options{}
	d := func(kv *KeyValue, target map[string]any) error { return nil }
	WithDecoder(d)(c)
	if c.decoder == nil {
		t.Fatal("c.decoder is nil")
	}
}

func TestWithResolver(t *testing.T) {
	c := &options{}
	WithResolver(EnvResolver)(c)
	if c.resolver == nil {
		t.Fatal("c.resolver is nil")
	}
}

func TestEnvResolverExpandsNestedPlaceholders(t *testing.T) {
	t.Setenv("REQQUEUE_OPTIONS_TEST_ROOT", "/srv/reqqueue")

	m := map[string]any{
		"cache": map[string]any{
			"root": "${REQQUEUE_OPTIONS_TEST_ROOT}/data",
		},
		"network": map[string]any{
			"pool_size": 4,
		},
	}

	if err := EnvResolver(m); err != nil {
		t.Fatal(err)
	}

	cache := m["cache"].(map[string]any)
	if cache["root"] != "/srv/reqqueue/data" {
		t.Fatalf("root not expanded: %#v", cache["root"])
	}
	network := m["network"].(map[string]any)
	if network["pool_size"] != 4 {
		t.Fatalf("non-string values must be left untouched: %#v", network["pool_size"])
	}
}
