package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Section names a group of rules; section membership defines which
// defaults the rule's Metadata block overrides, and the fixed composition
// order in which sections are applied.
type Section string

const (
	SectionNeverStore     Section = "never_store"
	SectionAskBeforeStore Section = "ask_before_store"
	SectionContextOnly    Section = "context_only"
	SectionRedact         Section = "redact"
	SectionAlwaysKeep     Section = "always_keep"
	SectionAutoExpire     Section = "auto_expire"
)

// sectionOrder is the fixed composition order sections are applied in.
var sectionOrder = []Section{
	SectionNeverStore,
	SectionAskBeforeStore,
	SectionContextOnly,
	SectionRedact,
	SectionAlwaysKeep,
	SectionAutoExpire,
}

// Match describes the match criteria for a single rule.
type Match struct {
	Kind    string   `yaml:"kind,omitempty"`
	Speaker string   `yaml:"speaker,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
	Content string   `yaml:"content,omitempty"`
}

// Metadata is the override block a matching rule contributes. Unset fields
// (nil pointers / empty strings) do not override the running decision;
// this lets a rule tweak a single field without restating every default.
type Metadata struct {
	AllowStore      *bool    `yaml:"allow_store,omitempty"`
	RequiresConsent *bool    `yaml:"requires_consent,omitempty"`
	RecallPolicy    string   `yaml:"recall_policy,omitempty"`
	RedactStrategy  string   `yaml:"redact_strategy,omitempty"`
	Encrypt         string   `yaml:"encrypt,omitempty"`
	Summarize       *bool    `yaml:"summarize,omitempty"`
	SummaryMode     string   `yaml:"summary_mode,omitempty"`
	Embed           string   `yaml:"embed,omitempty"`
	EmbedStore      *bool    `yaml:"embed_store,omitempty"`
	EmbedRemoteOK   *bool    `yaml:"embed_remote_ok,omitempty"`
	FTSIndex        *bool    `yaml:"fts_index,omitempty"`
	FTSIndexMode    string   `yaml:"fts_index_mode,omitempty"`
	RetrievalBoost  *float64 `yaml:"retrieval.boost,omitempty"`
}

// Rule is a single {match, metadata} pair within a section.
type Rule struct {
	Name     string   `yaml:"name,omitempty"`
	Match    Match    `yaml:"match"`
	Metadata Metadata `yaml:"metadata"`

	compiled *regexp.Regexp // compiled Match.Content, nil if empty or invalid
}

// RuleSet is the ordered, sectioned collection of compiled rules.
// A RuleSet is immutable once built by Compile — callers who want to
// hot-reload a rule set build a new RuleSet and swap it behind an atomic
// pointer (see Engine.Reload), never mutate one in place.
type RuleSet struct {
	sections map[Section][]Rule
}

// Record is the minimal view of a memory record the rule engine matches
// against.
type Record struct {
	Kind     string
	Key      string
	Value    string
	Tags     []string
	Speaker  string
	Metadata map[string]any
}

// Compile validates and compiles a raw rule document (e.g. parsed from
// YAML) into an immutable RuleSet. Rules with invalid regexes or unknown
// strategies are skipped, never raised — the caller should still log
// each skip via the returned warnings slice.
func Compile(doc *Document) (*RuleSet, []string) {
	rs := &RuleSet{sections: make(map[Section][]Rule, len(sectionOrder))}
	var warnings []string

	add := func(section Section, raw []Rule) {
		compiled := make([]Rule, 0, len(raw))
		for i := range raw {
			r := raw[i]
			if r.Match.Content != "" {
				re, err := regexp.Compile("(?i)" + r.Match.Content)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf(
						"rules: section %s rule %d: invalid content regex, skipped: %v", section, i, err))
					continue
				}
				r.compiled = re
			}
			if r.Metadata.RedactStrategy != "" {
				if _, _, ok := parseRedactStrategy(r.Metadata.RedactStrategy); !ok {
					warnings = append(warnings, fmt.Sprintf(
						"rules: section %s rule %d: unknown redact strategy %q, skipped",
						section, i, r.Metadata.RedactStrategy))
					continue
				}
			}
			compiled = append(compiled, r)
		}
		rs.sections[section] = compiled
	}

	add(SectionNeverStore, doc.NeverStore)
	add(SectionAskBeforeStore, doc.AskBeforeStore)
	add(SectionContextOnly, doc.ContextOnly)
	add(SectionRedact, doc.Redact)
	add(SectionAlwaysKeep, doc.AlwaysKeep)
	add(SectionAutoExpire, doc.AutoExpire)

	return rs, warnings
}

// Document is the raw, uncompiled rule set shape loaded from YAML.
type Document struct {
	NeverStore     []Rule `yaml:"never_store"`
	AskBeforeStore []Rule `yaml:"ask_before_store"`
	ContextOnly    []Rule `yaml:"context_only"`
	Redact         []Rule `yaml:"redact"`
	AlwaysKeep     []Rule `yaml:"always_keep"`
	AutoExpire     []Rule `yaml:"auto_expire"`
}

func matches(r *Rule, rec *Record) bool {
	if r.Match.Kind != "" && r.Match.Kind != rec.Kind {
		return false
	}
	if r.Match.Speaker != "" && r.Match.Speaker != rec.Speaker {
		return false
	}
	for _, tag := range r.Match.Tags {
		if !containsTag(rec.Tags, tag) {
			return false
		}
	}
	if r.compiled != nil && !r.compiled.MatchString(rec.Value) {
		return false
	}
	return true
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// Evaluate deterministically classifies rec against the rule set: the
// first matching rule per section contributes, and sections compose by
// field overwrite in a fixed order.
// Evaluate never returns an error — malformed rules were already dropped
// at Compile time, and an unmatched record simply receives all defaults.
func (rs *RuleSet) Evaluate(rec *Record) Decision {
	d := Default()

	for _, section := range sectionOrder {
		for i := range rs.sections[section] {
			r := &rs.sections[section][i]
			if !matches(r, rec) {
				continue
			}
			applySectionDefaults(&d, section)
			applyMetadata(&d, &r.Metadata)
			if section == SectionRedact && r.Match.Content != "" {
				d.RedactPattern = r.Match.Content
			}
			break // first match per section wins
		}
	}

	return d
}

// applySectionDefaults applies the implied defaults of entering a
// section: never_store implies allow_store=false; ask_before_store
// implies requires_consent=true.
func applySectionDefaults(d *Decision, section Section) {
	switch section {
	case SectionNeverStore:
		d.AllowStore = false
	case SectionAskBeforeStore:
		d.RequiresConsent = true
	case SectionContextOnly:
		d.RecallPolicy = RecallContextOnly
	case SectionAlwaysKeep:
		d.RecallPolicy = RecallAlwaysKeep
	case SectionAutoExpire:
		d.RecallPolicy = RecallAutoExpire
	}
}

func applyMetadata(d *Decision, m *Metadata) {
	if m.AllowStore != nil {
		d.AllowStore = *m.AllowStore
	}
	if m.RequiresConsent != nil {
		d.RequiresConsent = *m.RequiresConsent
	}
	if m.RecallPolicy != "" {
		d.RecallPolicy = RecallPolicy(m.RecallPolicy)
	}
	if m.RedactStrategy != "" {
		if kind, literal, ok := parseRedactStrategy(m.RedactStrategy); ok {
			d.RedactStrategy = RedactStrategy{Kind: kind, Literal: literal}
		}
	}
	if m.Encrypt != "" {
		d.Encrypt = normalizeEncrypt(m.Encrypt)
	}
	if m.Summarize != nil {
		d.Summarize = *m.Summarize
	}
	if m.SummaryMode != "" {
		d.SummaryMode = SummaryMode(m.SummaryMode)
	}
	if m.Embed != "" {
		d.Embed = EmbedMode(m.Embed)
	}
	if m.EmbedStore != nil {
		d.EmbedStore = *m.EmbedStore
	}
	if m.EmbedRemoteOK != nil {
		d.EmbedRemoteOK = *m.EmbedRemoteOK
	}
	if m.FTSIndex != nil {
		d.FTSIndex = *m.FTSIndex
	}
	if m.FTSIndexMode != "" {
		d.FTSIndexMode = FTSIndexMode(m.FTSIndexMode)
	}
	if m.RetrievalBoost != nil {
		d.RetrievalBoost = *m.RetrievalBoost
	}
}

// normalizeEncrypt maps the boolean aliases (true -> standard, false ->
// none) and literal strength names onto EncryptMode.
func normalizeEncrypt(raw string) EncryptMode {
	switch strings.ToLower(raw) {
	case "true":
		return EncryptStandard
	case "false":
		return EncryptNone
	case string(EncryptStandard):
		return EncryptStandard
	case string(EncryptStrong):
		return EncryptStrong
	default:
		return EncryptNone
	}
}

func parseRedactStrategy(raw string) (RedactStrategyKind, string, bool) {
	switch {
	case raw == string(RedactMask):
		return RedactMask, "", true
	case raw == string(RedactRemove):
		return RedactRemove, "", true
	case strings.HasPrefix(raw, "replace:"):
		return RedactReplace, strings.TrimPrefix(raw, "replace:"), true
	default:
		return RedactNone, "", false
	}
}
