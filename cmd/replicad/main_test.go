package main

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-replica/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"theme=dark", "isBlockMuteEnabled=false", "selectors={\"a\":\"b\"}"})
	require.NoError(t, err)
	assert.Equal(t, "dark", got["theme"])
	assert.Equal(t, false, got["isBlockMuteEnabled"])
	assert.Equal(t, map[string]any{"a": "b"}, got["selectors"])

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestStateURL(t *testing.T) {
	got, err := stateURL("ws://127.0.0.1:7420/bus")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7420/state", got)

	got, err = stateURL("wss://example.com/replica/bus?role=ui")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/replica/state", got)
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	check := originChecker([]string{"chrome-extension://abc"})
	req := httptest.NewRequest("GET", "/bus", nil)
	assert.True(t, check(req), "requests without an origin pass")
	req.Header.Set("Origin", "chrome-extension://abc")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestOpenStoreBackends(t *testing.T) {
	dir := t.TempDir()
	cases := []config.StoreConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendFile, Path: filepath.Join(dir, "settings.json")},
		{Backend: config.BackendSQLite, DSN: filepath.Join(dir, "settings.db")},
	}
	for _, sc := range cases {
		t.Run(sc.Backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = sc
			st, closeStore, err := openStore(cfg)
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.NoError(t, closeStore())
		})
	}

	cfg := config.Default()
	cfg.Store = config.StoreConfig{Backend: "etcd"}
	_, _, err := openStore(cfg)
	assert.Error(t, err)
}

func TestNewS3ClientUsesStaticCredentials(t *testing.T) {
	client := newS3Client(config.StoreConfig{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	assert.True(t, opts.UsePathStyle)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)

	creds, err := opts.Credentials.Retrieve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
}
