// Package settings is the typed view of the replicated settings snapshot.
//
// The replica core treats the snapshot as an opaque map. This package names
// its keys, supplies the defaults every replica boots with, and converts
// between the map and the Settings struct.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-replica/internal/hydrate"
	"github.com/goliatone/go-replica/snapshot"
)

// Snapshot keys.
const (
	KeyBlockMuteEnabled       = "isBlockMuteEnabled"
	KeyThemeOverride          = "themeOverride"
	KeyPromotedContentAction  = "promotedContentAction"
	KeyHideSubscriptionOffers = "hideSubscriptionOffers"
	KeyHideUserSubscriptions  = "hideUserSubscriptions"
	KeySelectors              = "selectors"
	KeyAutomaticUpdatePolicy  = "automaticUpdatePolicy"
	KeySource                 = "source"
	KeyLastUpdatedSelectors   = "lastUpdatedSelectors"
)

// Theme forces the page theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// PromotedContentAction is what happens to promoted posts.
type PromotedContentAction string

const (
	PromotedNothing PromotedContentAction = "nothing"
	PromotedHide    PromotedContentAction = "hide"
	PromotedBlock   PromotedContentAction = "block"
)

// UpdatePolicy controls automatic selector refreshes.
type UpdatePolicy string

const (
	UpdateDaily   UpdatePolicy = "daily"
	UpdateWeekly  UpdatePolicy = "weekly"
	UpdateMonthly UpdatePolicy = "monthly"
	UpdateNever   UpdatePolicy = "never"
)

// Period returns the refresh interval; ok is false for never and unknown
// policies.
func (p UpdatePolicy) Period() (time.Duration, bool) {
	switch p {
	case UpdateDaily:
		return 24 * time.Hour, true
	case UpdateWeekly:
		return 7 * 24 * time.Hour, true
	case UpdateMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Source is the branch remote selectors are fetched from.
type Source string

const (
	SourceMain Source = "main"
	SourceDev  Source = "dev"
)

// Selectors maps selector names to CSS selectors.
type Selectors map[string]string

// Map returns s as a JSON-native map, the shape it has inside a snapshot.
func (s Selectors) Map() map[string]any {
	out := make(map[string]any, len(s))
	for name, selector := range s {
		out[name] = selector
	}
	return out
}

// DefaultSelectors returns the bundled selector set.
func DefaultSelectors() Selectors {
	return Selectors{
		"userNameSelector":             "*[data-testid=User-Name]",
		"confirmDialogSelector":        `[data-testid="confirmationSheetDialog"]`,
		"confirmDialogConfirmSelector": `[data-testid="confirmationSheetConfirm"]`,
		"userMenuSelector":             `[aria-label="More"]`,
		"upsalePathname":               "i/verified-get-verified",
		"buyIntoUpsaleHref":            "/i/premium_sign_up",
		"upsaleSelectors": `[data-testid="verified_profile_upsell"], aside:has( a[href="/i/premium_sign_up"]), ` +
			`a[href="/i/premium_sign_up"], div [data-testid="super-upsell-UpsellCardRenderProperties"], ` +
			`div [data-testid="inlinePrompt"] a[href^="/i/premium_sign_up"], [data-testid="cellInnerDiv"]:has([data-testid="inlinePrompt"])`,
		"upsaleDialogSelector":      `[data-testid="sheetDialog"]`,
		"subscribeToButtonSelector": `div > [aria-label^="Subscribe to @"]`,
		"test":                      "h1",
	}
}

// UnmarshalJSON replaces the receiver instead of merging into it, so decoding
// over the defaults swaps the whole selector set.
func (s *Selectors) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = out
	return nil
}

// Settings is the typed settings record.
type Settings struct {
	IsBlockMuteEnabled     bool                  `json:"isBlockMuteEnabled"`
	ThemeOverride          Theme                 `json:"themeOverride"`
	PromotedContentAction  PromotedContentAction `json:"promotedContentAction"`
	HideSubscriptionOffers bool                  `json:"hideSubscriptionOffers"`
	HideUserSubscriptions  bool                  `json:"hideUserSubscriptions"`
	Selectors              Selectors             `json:"selectors"`
	AutomaticUpdatePolicy  UpdatePolicy          `json:"automaticUpdatePolicy"`
	Source                 Source                `json:"source"`
	// LastUpdatedSelectors is a unix millisecond stamp; zero means never.
	LastUpdatedSelectors int64 `json:"lastUpdatedSelectors,omitempty"`
}

// Defaults returns the settings every replica boots with.
func Defaults() Settings {
	return Settings{
		IsBlockMuteEnabled:     true,
		ThemeOverride:          ThemeDark,
		PromotedContentAction:  PromotedHide,
		HideSubscriptionOffers: true,
		HideUserSubscriptions:  true,
		Selectors:              DefaultSelectors(),
		AutomaticUpdatePolicy:  UpdateWeekly,
		Source:                 SourceMain,
	}
}

// DefaultSnapshot returns Defaults as a snapshot.
func DefaultSnapshot() snapshot.Snapshot {
	snap, err := Defaults().Snapshot()
	if err != nil {
		panic(fmt.Sprintf("settings: default snapshot: %v", err))
	}
	return snap
}

// Snapshot converts s into a snapshot of JSON-native values, the same shape
// a snapshot has after crossing the bus or the store.
func (s Settings) Snapshot() (snapshot.Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("settings: encode: %w", err)
	}
	out := snapshot.Snapshot{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	return out, nil
}

// LastUpdated returns LastUpdatedSelectors as a time; zero when never.
func (s Settings) LastUpdated() time.Time {
	if s.LastUpdatedSelectors == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastUpdatedSelectors)
}

// Validate checks every enumerated field.
func (s Settings) Validate() error {
	var errs []error
	switch s.ThemeOverride {
	case ThemeLight, ThemeDark:
	default:
		errs = append(errs, fmt.Errorf("settings: invalid %s %q", KeyThemeOverride, s.ThemeOverride))
	}
	switch s.PromotedContentAction {
	case PromotedNothing, PromotedHide, PromotedBlock:
	default:
		errs = append(errs, fmt.Errorf("settings: invalid %s %q", KeyPromotedContentAction, s.PromotedContentAction))
	}
	switch s.AutomaticUpdatePolicy {
	case UpdateDaily, UpdateWeekly, UpdateMonthly, UpdateNever:
	default:
		errs = append(errs, fmt.Errorf("settings: invalid %s %q", KeyAutomaticUpdatePolicy, s.AutomaticUpdatePolicy))
	}
	switch s.Source {
	case SourceMain, SourceDev:
	default:
		errs = append(errs, fmt.Errorf("settings: invalid %s %q", KeySource, s.Source))
	}
	return errors.Join(errs...)
}

var decodeSource = hydrate.Source{Namespace: "settings"}

var decoder = hydrate.Decoder[Settings]{
	Base:   Defaults,
	Before: []hydrate.Rewrite{dropNulls},
}

var strictDecoder = hydrate.Decoder[Settings]{
	Base:   Defaults,
	Before: []hydrate.Rewrite{dropNulls},
	After: []hydrate.Check[Settings]{func(_ hydrate.Source, s *Settings) error {
		return s.Validate()
	}},
}

// Decode reads snap into Settings. Keys missing from snap keep their default
// values; unknown keys are ignored.
func Decode(snap snapshot.Snapshot) (Settings, error) {
	return decoder.Decode(decodeSource, snap)
}

// DecodeStrict is Decode followed by Validate.
func DecodeStrict(snap snapshot.Snapshot) (Settings, error) {
	return strictDecoder.Decode(decodeSource, snap)
}

// dropNulls removes null values so they fall back to defaults instead of
// zeroing the field.
func dropNulls(_ hydrate.Source, payload map[string]any) (map[string]any, error) {
	for key, value := range payload {
		if value == nil {
			delete(payload, key)
		}
	}
	return payload, nil
}
