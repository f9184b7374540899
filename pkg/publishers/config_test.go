package publishers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistry_YAML(t *testing.T) {
	path := writeRegistry(t, "publishers.yaml", `
publishers:
  - id: hook
    type: http
    http:
      url: https://example.com/hook
  - id: queue-main
    type: queue
    enabled: false
    queue:
      provider: aws-sqs
      sqs:
        queue_url: https://sqs.us-east-1.amazonaws.com/1/q
        region: us-east-1
        access_key_id: AKIA123
        secret_access_key: secret
`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)

	hook, ok := reg.ByID("hook")
	require.True(t, ok)
	assert.Equal(t, TypeHTTP, hook.Type)
	assert.Equal(t, "POST", hook.HTTP.Method, "method defaults")
	assert.Equal(t, httpDefaultTimeoutSeconds, hook.HTTP.TimeoutSeconds)

	enabled := reg.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "hook", enabled[0].ID)
}

func TestLoadRegistry_JSON(t *testing.T) {
	path := writeRegistry(t, "publishers.json", `{
		"publishers": [
			{"id": "hook", "type": "http", "http": {"url": "https://example.com/hook", "method": "put"}}
		]
	}`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	hook, ok := reg.ByID("hook")
	require.True(t, ok)
	assert.Equal(t, "PUT", hook.HTTP.Method)
}

func TestLoadRegistry_ExpandsEnv(t *testing.T) {
	t.Setenv("HOOK_URL", "https://example.com/from-env")

	path := writeRegistry(t, "publishers.yaml", `
publishers:
  - id: hook
    type: http
    http:
      url: ${HOOK_URL}
`)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	hook, _ := reg.ByID("hook")
	assert.Equal(t, "https://example.com/from-env", hook.HTTP.URL)
}

func TestLoadRegistry_DuplicateID(t *testing.T) {
	path := writeRegistry(t, "publishers.yaml", `
publishers:
  - {id: hook, type: http, http: {url: "https://a"}}
  - {id: hook, type: http, http: {url: "https://b"}}
`)

	_, err := LoadRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate publisher id")
}

func TestLoadRegistry_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "missing id",
			yaml:    `publishers: [{type: http, http: {url: "https://a"}}]`,
			wantMsg: "id is required",
		},
		{
			name:    "missing type",
			yaml:    `publishers: [{id: p1}]`,
			wantMsg: "type is required",
		},
		{
			name:    "unknown type",
			yaml:    `publishers: [{id: p1, type: smtp}]`,
			wantMsg: "not supported",
		},
		{
			name:    "http missing url",
			yaml:    `publishers: [{id: p1, type: http, http: {method: POST}}]`,
			wantMsg: "http.url is required",
		},
		{
			name:    "queue missing config",
			yaml:    `publishers: [{id: p1, type: queue}]`,
			wantMsg: "queue config required",
		},
		{
			name:    "sqs missing region",
			yaml:    `publishers: [{id: p1, type: queue, queue: {provider: aws-sqs, sqs: {queue_url: "https://q", access_key_id: k, secret_access_key: s}}}]`,
			wantMsg: "sqs.region is required",
		},
		{
			name:    "sns missing topic",
			yaml:    `publishers: [{id: p1, type: queue, queue: {provider: aws-sns, sns: {region: r, access_key_id: k, secret_access_key: s}}}]`,
			wantMsg: "sns.topic_arn is required",
		},
		{
			name:    "gcp missing project",
			yaml:    `publishers: [{id: p1, type: queue, queue: {provider: gcp, gcp: {topic: t}}}]`,
			wantMsg: "gcp.project_id is required",
		},
		{
			name:    "azure declared but unimplemented",
			yaml:    `publishers: [{id: p1, type: queue, queue: {provider: azure}}]`,
			wantMsg: "not implemented",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(writeRegistry(t, "publishers.yaml", tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadRegistry_EmptyFile(t *testing.T) {
	_, err := LoadRegistry(writeRegistry(t, "publishers.yaml", `publishers: []`))
	require.Error(t, err)
}
