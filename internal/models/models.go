package models

import (
	"strings"
	"time"
)

type ScheduleStatus int

const (
	SchedulePending   ScheduleStatus = 1
	ScheduleSent      ScheduleStatus = 2
	ScheduleCancelled ScheduleStatus = 3
	ScheduleFailed    ScheduleStatus = 4
)

func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleSent || s == ScheduleCancelled || s == ScheduleFailed
}

func (s ScheduleStatus) String() string {
	switch s {
	case SchedulePending:
		return "pending"
	case ScheduleSent:
		return "sent"
	case ScheduleCancelled:
		return "cancelled"
	case ScheduleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ScheduleStatus) Valid() bool {
	return s >= SchedulePending && s <= ScheduleFailed
}

// MatchPolicy decides how a tag set selects users.
type MatchPolicy string

const (
	MatchAny MatchPolicy = "any"
	MatchAll MatchPolicy = "all"
)

// Valid accepts the empty policy, any and all in any letter case.
func (p MatchPolicy) Valid() bool {
	return p == "" || strings.EqualFold(string(p), string(MatchAny)) || strings.EqualFold(string(p), string(MatchAll))
}

// Normalize maps the empty policy to MatchAny. Callers reject invalid
// policies with Valid first.
func (p MatchPolicy) Normalize() MatchPolicy {
	if strings.EqualFold(string(p), string(MatchAll)) {
		return MatchAll
	}
	return MatchAny
}

type TargetMode string

const (
	TargetNone    TargetMode = ""
	TargetDirect  TargetMode = "direct"
	TargetUserIDs TargetMode = "user_ids"
	TargetTags    TargetMode = "tags"
)

// TargetSpec is the addressing input of a send or schedule request.
// When several fields are populated, Mode picks one by the precedence
// direct > user_ids > tags and the others are ignored.
type TargetSpec struct {
	To        string      `json:"to,omitempty"`
	UserIDs   []string    `json:"user_ids,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	MatchType MatchPolicy `json:"match_type,omitempty"`
}

func (t TargetSpec) Mode() TargetMode {
	switch {
	case strings.TrimSpace(t.To) != "":
		return TargetDirect
	case len(Compact(t.UserIDs)) > 0:
		return TargetUserIDs
	case len(Compact(t.Tags)) > 0:
		return TargetTags
	default:
		return TargetNone
	}
}

// Compact trims values, drops blanks and collapses duplicates, keeping
// first-seen order.
func Compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type ScheduledMessage struct {
	ScheduleID     string            `json:"schedule_id"`
	Target         TargetSpec        `json:"target"`
	TemplateID     string            `json:"template_id"`
	TemplateData   map[string]string `json:"template_data"`
	ScheduledTime  time.Time         `json:"scheduled_time"`
	Status         ScheduleStatus    `json:"status"`
	ActualSendTime *time.Time        `json:"actual_send_time,omitempty"`
	FailReason     string            `json:"fail_reason,omitempty"`
	SourceID       string            `json:"source_id,omitempty"`
	CreateTime     time.Time         `json:"create_time"`
	ModifyTime     time.Time         `json:"modify_time"`
}

// Clone returns a deep copy so stores can hand out values without sharing
// mutable state with callers.
func (m *ScheduledMessage) Clone() *ScheduledMessage {
	if m == nil {
		return nil
	}
	c := *m
	c.Target.UserIDs = append([]string(nil), m.Target.UserIDs...)
	c.Target.Tags = append([]string(nil), m.Target.Tags...)
	if m.TemplateData != nil {
		c.TemplateData = make(map[string]string, len(m.TemplateData))
		for k, v := range m.TemplateData {
			c.TemplateData[k] = v
		}
	}
	if m.ActualSendTime != nil {
		t := *m.ActualSendTime
		c.ActualSendTime = &t
	}
	return &c
}

type CreateScheduledMessageRequest struct {
	TargetSpec
	TemplateID    string            `json:"template_id"`
	TemplateData  map[string]string `json:"template_data"`
	ScheduledTime time.Time         `json:"scheduled_time"`
	SourceID      string            `json:"-"`
}

type ScheduleFilter struct {
	Status   ScheduleStatus
	Since    time.Time
	Until    time.Time
	SourceID string
}

// Match reports whether m satisfies every populated field of f.
func (f ScheduleFilter) Match(m *ScheduledMessage) bool {
	if f.Status != 0 && m.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && m.ScheduledTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.ScheduledTime.After(f.Until) {
		return false
	}
	if f.SourceID != "" && m.SourceID != f.SourceID {
		return false
	}
	return true
}
