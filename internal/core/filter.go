// ABOUTME: Record filtering ahead of planning: spam/intent tags, escalations and a created-at window
// ABOUTME: Category selection runs after tagging, once every record carries a label
package core

import (
	"time"

	"github.com/harper/kbdistill/internal/models"
)

// DefaultExcludedTags are helpdesk intent tags whose tickets never make useful articles
var DefaultExcludedTags = []string{
	"spam",
	"tpa_adopt",
	"intent__misc__not_received__email_delivery_failed",
	"intent__misc__unsolicited__marketing_or_newsletter",
	"intent__misc__unsolicited__partnership",
	"intent__misc__previous_message__check",
	"intent__misc__received__shareable_file_link",
	"intent__misc__unsolicited__event_invitation",
	"intent__billing__balance__wrong_account_balance",
	"intent__billing__documentation__statement_report",
	"intent__billing__invoice__request",
	"intent__billing__price_clarification__info_included_in_price",
	"intent__billing__price_clarification__which_price",
	"intent__billing__subscription_cancel__request",
	"intent__billing__subscription_update__downgrade",
	"intent__misc__job_application__new",
	"intent__order__new__quote_request",
	"intent__service__appointment__new",
	"intent__misc__thanks__thanks",
	"intent__account__invitation__user_invitation",
	"intent__software__security__detected_flaw",
}

// EscalatedTag marks records already escalated to engineering
const EscalatedTag = "jira_escalated"

// FilterConfig selects which records enter the pipeline
type FilterConfig struct {
	ExcludeTags      []string
	IncludeEscalated bool
	// RequireTag keeps only records carrying this tag when set
	RequireTag string
	// Since and Until bound CreatedAt inclusively; zero means unbounded
	Since time.Time
	Until time.Time
	// Category and Subcategory restrict output after tagging; empty matches all
	Category    string
	Subcategory string
}

// DefaultFilterConfig excludes spam/intent tags and escalated records
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{ExcludeTags: DefaultExcludedTags}
}

// DayWindow returns the inclusive UTC bounds covering the calendar days from and to
func DayWindow(from, to time.Time) (time.Time, time.Time) {
	var since, until time.Time
	if !from.IsZero() {
		f := from.UTC()
		since = time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	}
	if !to.IsZero() {
		t := to.UTC()
		until = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	}
	return since, until
}

// Filter returns the records that pass tag and date rules, preserving order
func Filter(records []models.Record, cfg FilterConfig) []models.Record {
	excluded := make(map[string]bool, len(cfg.ExcludeTags))
	for _, t := range cfg.ExcludeTags {
		excluded[t] = true
	}

	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if cfg.RequireTag != "" && !r.HasTag(cfg.RequireTag) {
			continue
		}
		if !cfg.IncludeEscalated && r.HasTag(EscalatedTag) {
			continue
		}
		if hasAny(r.Tags, excluded) {
			continue
		}
		if !inWindow(r.CreatedAt, cfg.Since, cfg.Until) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SelectCategory keeps categorised records matching the configured category and subcategory
func SelectCategory(records []models.Record, cfg FilterConfig) []models.Record {
	if cfg.Category == "" && cfg.Subcategory == "" {
		return records
	}
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if cfg.Category != "" && r.Category != cfg.Category {
			continue
		}
		if cfg.Subcategory != "" && r.Subcategory != cfg.Subcategory {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasAny(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

// inWindow treats a missing timestamp as outside any bounded window
func inWindow(at, since, until time.Time) bool {
	if since.IsZero() && until.IsZero() {
		return true
	}
	if at.IsZero() {
		return false
	}
	if !since.IsZero() && at.Before(since) {
		return false
	}
	if !until.IsZero() && at.After(until) {
		return false
	}
	return true
}
