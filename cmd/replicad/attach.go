package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	replica "github.com/goliatone/go-replica"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/settings"
	"github.com/goliatone/go-replica/snapshot"
	"github.com/spf13/cobra"
)

func attachCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a ui or page replica to a running background",
		Long: `Attach a replica to the hub and log every change it receives. The
replica starts from the background's current snapshot and keeps it in
memory only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := message.ParseRole(role)
			if err != nil {
				return err
			}
			if parsed == message.RoleBackground {
				return fmt.Errorf("attach runs ui or page; use serve for the background")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			seed, err := fetchState(ctx, cfg.Hub.URL)
			if err != nil {
				logger.Warn("starting from defaults, background state unavailable", "error", err)
				seed = remoteState{}
			}

			client, err := dialHub(ctx, cfg, parsed, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			st := store.NewMemoryStore()
			if seed.State != nil {
				st = store.NewMemoryStoreWith(seed.State, store.Meta{Version: seed.Version, Origin: seed.Origin})
			}
			r, err := replica.New(ctx, parsed,
				replica.WithStore(st),
				replica.WithBus(client),
				replica.WithDefaults(settings.DefaultSnapshot()),
				replica.WithNamespace(cfg.Namespace),
				replica.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer r.Close()

			unsubscribe := r.SubscribeAny(func(state snapshot.Snapshot) {
				prev := r.PreviousState()
				for _, key := range snapshot.Keys(state) {
					if snapshot.Same(prev[key], state[key]) {
						continue
					}
					logger.Info("setting changed", "key", key, "value", state[key], "version", r.Version().Version)
				}
			})
			defer unsubscribe()

			logger.Info("replica attached", "role", parsed, "hub", cfg.Hub.URL, "version", r.Version().Version)
			select {
			case <-ctx.Done():
			case <-client.Done():
				if err := client.Err(); err != nil {
					return fmt.Errorf("hub connection lost: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", string(message.RoleUI), "Role to attach as (ui or page)")

	return cmd
}

type remoteState struct {
	Namespace string            `json:"namespace"`
	Version   uint64            `json:"version"`
	Origin    string            `json:"origin"`
	State     snapshot.Snapshot `json:"state"`
}

// stateURL maps the hub websocket URL to the background's /state route.
func stateURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/bus") + "/state"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchState(ctx context.Context, hubURL string) (remoteState, error) {
	target, err := stateURL(hubURL)
	if err != nil {
		return remoteState{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return remoteState{}, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return remoteState{}, fmt.Errorf("get %s: %w", target, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return remoteState{}, fmt.Errorf("get %s: status %d", target, res.StatusCode)
	}
	var out remoteState
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return remoteState{}, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}
