package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSourcesExpandsEnv(t *testing.T) {
	t.Setenv("WUZAPI_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - id: sales-whatsapp
    channel: chat
    provider: wuzapi
    identity: "+5511999990000"
    credentials:
      base_url: http://wuzapi:8080
      token: ${WUZAPI_TOKEN}
  - id: pbx
    channel: voice
    provider: cloudpbx
    disabled: true
    status_map:
      VOICEMAIL: missed
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	sources, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Credential("token") != "secret-token" {
		t.Fatalf("expected expanded token, got %q", sources[0].Credential("token"))
	}
	if sources[1].Active() || sources[1].StatusMap["VOICEMAIL"] != "missed" {
		t.Fatalf("unexpected voice source %+v", sources[1])
	}
}

func TestParseSourcesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      "sources:\n  - channel: chat\n    provider: wuzapi\n",
		"duplicate id":    "sources:\n  - {id: a, channel: chat, provider: wuzapi}\n  - {id: a, channel: chat, provider: twilio}\n",
		"unknown channel": "sources:\n  - {id: a, channel: fax, provider: x}\n",
		"no provider":     "sources:\n  - {id: a, channel: email}\n",
	}
	for name, doc := range cases {
		if _, err := ParseSources([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
