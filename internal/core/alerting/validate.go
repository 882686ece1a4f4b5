package alerting

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

// MinCheckInterval bounds how often a rule may be evaluated.
const MinCheckInterval = Duration(5 * time.Second)

// ScheduleParser parses maintenance schedules. Standard five-field cron
// expressions and descriptors such as @daily are accepted.
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the rule before it is saved.
func (r *AlertRule) Validate() error {
	problems := apperrors.NewConfigProblems("rule")

	if strings.TrimSpace(r.Name) == "" {
		problems.Addf("name is required")
	}
	if r.WorkspaceID == "" {
		problems.Addf("workspace_id is required")
	}
	if !r.Severity.Valid() || r.Severity == SeverityNone {
		problems.Addf("severity %q must be low, medium, high or critical", r.Severity)
	}
	if r.CheckInterval < MinCheckInterval {
		problems.Addf("check_interval must be at least %s", MinCheckInterval)
	}
	if r.Cooldown < 0 {
		problems.Addf("cooldown must not be negative")
	}
	for _, channel := range r.NotificationChannels {
		if !channel.Valid() {
			problems.Addf("notification channel %q is not supported", channel)
		}
	}
	if r.EscalationPolicyID == "" && len(r.NotificationChannels) > 0 && len(r.Recipients) == 0 {
		problems.Addf("recipients are required when notification_channels are set without an escalation policy")
	}
	problems.Merge("condition: ", r.Condition.Validate())

	return problems.Err()
}

// Validate checks level ordering and targets.
func (p *EscalationPolicy) Validate() error {
	problems := apperrors.NewConfigProblems("escalation policy")

	if strings.TrimSpace(p.Name) == "" {
		problems.Addf("name is required")
	}
	if len(p.Levels) == 0 {
		problems.Addf("at least one level is required")
	}

	levels := append([]EscalationLevel(nil), p.Levels...)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	for i, level := range levels {
		if level.Level != i {
			problems.Addf("levels must be numbered consecutively from 0, found %d at position %d", level.Level, i)
		}
		if level.DelayMinutes < 0 {
			problems.Addf("level %d delay_minutes must not be negative", level.Level)
		}
		if i > 0 && level.DelayMinutes <= levels[i-1].DelayMinutes {
			problems.Addf("level %d delay_minutes must be greater than level %d", level.Level, levels[i-1].Level)
		}
		if len(level.Channels) == 0 {
			problems.Addf("level %d needs at least one channel", level.Level)
		}
		for _, channel := range level.Channels {
			if !channel.Valid() {
				problems.Addf("level %d channel %q is not supported", level.Level, channel)
			}
		}
		if len(level.Recipients) == 0 {
			problems.Addf("level %d needs at least one recipient", level.Level)
		}
	}

	return problems.Err()
}

// SortLevels orders levels by number in place.
func (p *EscalationPolicy) SortLevels() {
	sort.SliceStable(p.Levels, func(i, j int) bool { return p.Levels[i].Level < p.Levels[j].Level })
}

// Validate checks the suppression's window and match.
func (s *SuppressionRule) Validate() error {
	problems := apperrors.NewConfigProblems("suppression")

	switch s.Type {
	case SuppressionTypeMaintenance:
		hasRange := s.StartsAt != nil || s.EndsAt != nil
		hasSchedule := s.Schedule != ""
		if hasRange == hasSchedule {
			problems.Addf("maintenance windows need either starts_at/ends_at or schedule")
		}
		if hasRange && (s.StartsAt == nil || s.EndsAt == nil) {
			problems.Addf("starts_at and ends_at must both be set")
		}
		if s.StartsAt != nil && s.EndsAt != nil && !s.EndsAt.After(*s.StartsAt) {
			problems.Addf("ends_at must be after starts_at")
		}
		if hasSchedule {
			if _, err := ScheduleParser.Parse(s.Schedule); err != nil {
				problems.Addf("schedule %q: %v", s.Schedule, err)
			}
			if s.Duration <= 0 {
				problems.Addf("duration must be greater than 0 for scheduled windows")
			}
		}
	case SuppressionTypeRule:
		if s.Match.RuleID == "" {
			problems.Addf("match.rule_id is required for rule suppressions")
		}
	case SuppressionTypePattern:
		if s.Match.Severity == "" && s.Match.MetricType == "" && len(s.Match.Labels) == 0 {
			problems.Addf("pattern suppressions need match.severity, match.metric_type or match.labels")
		}
	default:
		problems.Addf("type %q must be maintenance, rule or pattern", s.Type)
	}

	if s.Match.Severity != "" && !s.Match.Severity.Valid() {
		problems.Addf("match.severity %q is not a known severity", s.Match.Severity)
	}
	if s.Match.MetricType != "" {
		if _, err := path.Match(s.Match.MetricType, ""); err != nil {
			problems.Addf("match.metric_type %q: %v", s.Match.MetricType, err)
		}
	}
	if strings.TrimSpace(s.Reason) == "" {
		problems.Addf("reason is required")
	}

	return problems.Err()
}

// ParseRecipient splits an optional "channel:address" prefix. A recipient
// without a known channel prefix applies to every channel of its level.
func ParseRecipient(recipient string) (ChannelType, string) {
	if i := strings.Index(recipient, ":"); i > 0 {
		channel := ChannelType(recipient[:i])
		if channel.Valid() {
			return channel, recipient[i+1:]
		}
	}
	return "", recipient
}

// Target is one (channel, recipient) pair of a level.
type Target struct {
	Channel   ChannelType
	Recipient string
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%s", t.Channel, t.Recipient)
}

// Targets expands a level into its (channel, recipient) pairs.
func (l EscalationLevel) Targets() []Target {
	var targets []Target
	seen := make(map[Target]bool)
	for _, channel := range l.Channels {
		for _, recipient := range l.Recipients {
			scoped, address := ParseRecipient(recipient)
			if scoped != "" && scoped != channel {
				continue
			}
			target := Target{Channel: channel, Recipient: address}
			if seen[target] {
				continue
			}
			seen[target] = true
			targets = append(targets, target)
		}
	}
	return targets
}
