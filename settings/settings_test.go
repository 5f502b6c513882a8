package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-replica/snapshot"
)

func TestDefaultSnapshotIsJSONNative(t *testing.T) {
	snap := DefaultSnapshot()
	if got := snap[KeyBlockMuteEnabled]; got != true {
		t.Fatalf("expected block/mute enabled, got %#v", got)
	}
	if got := snap[KeyThemeOverride]; got != "dark" {
		t.Fatalf("expected dark theme, got %#v", got)
	}
	if got := snap[KeyAutomaticUpdatePolicy]; got != "weekly" {
		t.Fatalf("expected weekly policy, got %#v", got)
	}
	selectors, ok := snap[KeySelectors].(map[string]any)
	if !ok {
		t.Fatalf("expected selectors to decode as map[string]any, got %T", snap[KeySelectors])
	}
	if selectors["userMenuSelector"] != `[aria-label="More"]` {
		t.Fatalf("unexpected userMenuSelector %#v", selectors["userMenuSelector"])
	}
	if _, ok := snap[KeyLastUpdatedSelectors]; ok {
		t.Fatalf("expected lastUpdatedSelectors to be omitted until the first refresh")
	}
}

func TestDecodeKeepsDefaultsForMissingKeys(t *testing.T) {
	got, err := Decode(snapshot.Snapshot{
		KeyThemeOverride:         "light",
		KeyBlockMuteEnabled:      false,
		KeyPromotedContentAction: nil,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ThemeOverride != ThemeLight {
		t.Fatalf("expected light theme, got %q", got.ThemeOverride)
	}
	if got.IsBlockMuteEnabled {
		t.Fatalf("expected explicit false to win over the default")
	}
	if got.PromotedContentAction != PromotedHide {
		t.Fatalf("expected null to fall back to the default action, got %q", got.PromotedContentAction)
	}
	if got.Source != SourceMain || !got.HideUserSubscriptions {
		t.Fatalf("expected untouched defaults, got %+v", got)
	}
}

func TestDecodeReplacesSelectorsWholesale(t *testing.T) {
	got, err := Decode(snapshot.Snapshot{
		KeySelectors: map[string]any{"test": "h2"},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Selectors) != 1 || got.Selectors["test"] != "h2" {
		t.Fatalf("expected selectors to be replaced, got %#v", got.Selectors)
	}
	if len(Defaults().Selectors) != len(DefaultSelectors()) {
		t.Fatalf("decoding must not mutate the defaults")
	}
}

func TestDecodeStrictRejectsUnknownEnumValues(t *testing.T) {
	_, err := DecodeStrict(snapshot.Snapshot{
		KeyThemeOverride:         "sepia",
		KeyAutomaticUpdatePolicy: "hourly",
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{KeyThemeOverride, KeyAutomaticUpdatePolicy} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %v", want, err)
		}
	}

	if _, err := Decode(snapshot.Snapshot{KeyThemeOverride: "sepia"}); err != nil {
		t.Fatalf("lenient decode should accept unknown values: %v", err)
	}
}

func TestSnapshotRoundTripCarriesStamp(t *testing.T) {
	s := Defaults()
	s.LastUpdatedSelectors = 1_700_000_000_000
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	back, err := Decode(snap)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !back.LastUpdated().Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("unexpected last updated %v", back.LastUpdated())
	}
	if !Defaults().LastUpdated().IsZero() {
		t.Fatalf("expected zero time before any refresh")
	}
}

func TestUpdatePolicyPeriod(t *testing.T) {
	cases := map[UpdatePolicy]time.Duration{
		UpdateDaily:   24 * time.Hour,
		UpdateWeekly:  7 * 24 * time.Hour,
		UpdateMonthly: 30 * 24 * time.Hour,
	}
	for policy, want := range cases {
		got, ok := policy.Period()
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s (ok=%v)", policy, want, got, ok)
		}
	}
	if _, ok := UpdateNever.Period(); ok {
		t.Fatalf("never must not schedule refreshes")
	}
}
