package sanitizer

import (
	"encoding/json"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("sanitized output is not a JSON object: %v (%s)", err, raw)
	}
	return out
}

func TestSanitizeNonObjectInputsYieldEmptyObject(t *testing.T) {
	inputs := []string{"", "   ", "not json", `"a string"`, "42", "[1,2]", "null", `{"a":1} trailing`}
	for _, input := range inputs {
		if got := Sanitize(input); got != "{}" {
			t.Fatalf("Sanitize(%q) = %q, want {}", input, got)
		}
	}
}

func TestSanitizeRemovesSecretKeysAtAnyDepth(t *testing.T) {
	raw := `{
		"region": "fsn1",
		"gitToken": "ghp_x",
		"hetznerApiKey": "k",
		"dbPassword": "p",
		"nested": {
			"label": "web",
			"clientSecret": "s",
			"sshPublicKey": "ssh-rsa",
			"deeper": {"refreshToken": "r", "keep": true}
		},
		"servers": [
			{"name": "a", "rootCredentials": {"user": "root"}},
			{"name": "b", "accessToken": "t"}
		],
		"count": 3
	}`

	got := decode(t, Sanitize(raw))

	for _, removed := range []string{"gitToken", "hetznerApiKey", "dbPassword"} {
		if _, ok := got[removed]; ok {
			t.Fatalf("expected %s to be removed: %#v", removed, got)
		}
	}
	if got["region"] != "fsn1" {
		t.Fatalf("expected region to be preserved, got %#v", got["region"])
	}
	if got["count"] != float64(3) {
		t.Fatalf("expected count to be preserved, got %#v", got["count"])
	}

	nested := got["nested"].(map[string]any)
	if _, ok := nested["clientSecret"]; ok {
		t.Fatalf("nested clientSecret should be removed")
	}
	if _, ok := nested["sshPublicKey"]; ok {
		t.Fatalf("keys ending in key should be removed")
	}
	if nested["label"] != "web" {
		t.Fatalf("nested label should be preserved")
	}
	deeper := nested["deeper"].(map[string]any)
	if _, ok := deeper["refreshToken"]; ok {
		t.Fatalf("deeply nested token should be removed")
	}
	if deeper["keep"] != true {
		t.Fatalf("deeply nested non-secret should be preserved")
	}

	servers := got["servers"].([]any)
	if len(servers) != 2 {
		t.Fatalf("expected both array elements to survive, got %d", len(servers))
	}
	first := servers[0].(map[string]any)
	if _, ok := first["rootCredentials"]; ok {
		t.Fatalf("credential subtree inside array element should be removed")
	}
	second := servers[1].(map[string]any)
	if _, ok := second["accessToken"]; ok {
		t.Fatalf("token inside array element should be removed")
	}
	if second["name"] != "b" {
		t.Fatalf("non-secret array element fields should be preserved")
	}
}

func TestSanitizeKeepsKeysThatOnlyContainKeyInTheMiddle(t *testing.T) {
	got := decode(t, Sanitize(`{"keyboardLayout":"de","monkeys":2}`))
	if got["keyboardLayout"] != "de" || got["monkeys"] != float64(2) {
		t.Fatalf("unexpected removal: %#v", got)
	}
}

func TestSanitizePreservesLargeNumbers(t *testing.T) {
	got := Sanitize(`{"serverId":12345678901234567890}`)
	if got != `{"serverId":12345678901234567890}` {
		t.Fatalf("number precision lost: %s", got)
	}
}

func TestSanitizeMapPassesScalarsAndDatesThrough(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := SanitizeMap(map[string]any{
		"createdAt": at,
		"password":  "hunter2",
		"tags":      []map[string]any{{"apiKey": "x", "name": "n"}},
	})
	if out["createdAt"] != at {
		t.Fatalf("time value should pass through unchanged")
	}
	if _, ok := out["password"]; ok {
		t.Fatalf("password should be removed")
	}
	tags := out["tags"].([]any)
	tag := tags[0].(map[string]any)
	if _, ok := tag["apiKey"]; ok || tag["name"] != "n" {
		t.Fatalf("unexpected tag: %#v", tag)
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(Sanitize(`{"token":"x"}`)) {
		t.Fatalf("object with only secrets should sanitize to empty")
	}
	if IsEmpty(Sanitize(`{"region":"x"}`)) {
		t.Fatalf("object with non-secret key should not be empty")
	}
}
