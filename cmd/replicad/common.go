package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goliatone/go-replica/internal/config"
	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/bus/wsbus"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/pkg/store/s3store"
	"github.com/goliatone/go-replica/pkg/store/sqlite"
)

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

// openStore builds the configured backend. The returned func releases it.
func openStore(cfg config.Config) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), noop, nil
	case config.BackendFile:
		s, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.Store.DSN, cfg.Namespace)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.BackendS3:
		s, err := s3store.New(newS3Client(cfg.Store), cfg.Store.Bucket, cfg.Namespace, s3store.WithPrefix(cfg.Store.Prefix))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newS3Client(cfg config.StoreConfig) *s3.Client {
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "replicad",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		}))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// activityLog writes settings lifecycle events to logger.
func activityLog(logger *slog.Logger, role message.Role) *activity.Emitter {
	hook := activity.HookFunc(func(_ context.Context, event activity.Event) error {
		logger.Info("settings activity",
			"verb", event.Verb,
			"namespace", event.Namespace,
			"version", event.Version,
			"origin", event.Origin,
			"changed", event.ChangedKeys,
		)
		return nil
	})
	return activity.NewEmitter(activity.Hooks{hook}, activity.Config{Enabled: true, ActorID: string(role)})
}

func dialHub(ctx context.Context, cfg config.Config, role message.Role, logger *slog.Logger) (*wsbus.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Hub.RequestTimeout)
	defer cancel()
	return wsbus.Dial(dialCtx, cfg.Hub.URL, role,
		wsbus.WithClientLogger(logger),
		wsbus.WithRequestTimeout(cfg.Hub.RequestTimeout),
	)
}

// sendToBackground dials the hub as from, sends payload to the background
// and returns its response. Failed responses become errors.
func sendToBackground(ctx context.Context, from message.Role, payload message.Payload) (message.Response, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return message.Response{}, err
	}
	client, err := dialHub(ctx, cfg, from, logger)
	if err != nil {
		return message.Response{}, err
	}
	defer client.Close()

	msg, err := message.New(from, message.RoleBackground, payload)
	if err != nil {
		return message.Response{}, err
	}
	resp, err := client.Transport(message.RoleBackground).Send(ctx, msg)
	if err != nil {
		return message.Response{}, fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("background: %s", resp.Error)
	}
	return resp, nil
}

func printResponse(w io.Writer, resp message.Response) error {
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	if len(resp.Data) == 0 {
		return nil
	}
	var data any
	if err := resp.DecodeData(&data); err != nil {
		return err
	}
	return printJSON(w, data)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue reads raw as JSON and falls back to a plain string, so
// theme=dark and isBlockMuteEnabled=false both work.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}
