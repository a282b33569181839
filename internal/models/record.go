package models

import "time"

type RecordStatus int

const (
	RecordPending RecordStatus = 1
	RecordSent    RecordStatus = 2
	RecordFailed  RecordStatus = 3
)

// MsgRecord is the per-recipient outcome of an immediate send or a fire.
type MsgRecord struct {
	ID         int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	MsgID      string       `gorm:"column:msg_id;uniqueIndex;size:64;not null" json:"msg_id"`
	ScheduleID string       `gorm:"column:schedule_id;size:64;index" json:"schedule_id,omitempty"`
	To         string       `gorm:"column:to_addr;size:255;index" json:"to"`
	UserID     string       `gorm:"column:user_id;size:64" json:"user_id,omitempty"`
	TemplateID string       `gorm:"column:template_id;size:64" json:"template_id"`
	Channel    Channel      `gorm:"column:channel" json:"channel"`
	Priority   Priority     `gorm:"column:priority;default:1" json:"priority"`
	Subject    string       `gorm:"column:subject;size:255" json:"subject,omitempty"`
	Content    string       `gorm:"column:content;type:text" json:"content"`
	Status     RecordStatus `gorm:"column:status;index" json:"status"`
	Error      string       `gorm:"column:error;type:text" json:"error,omitempty"`
	SourceID   string       `gorm:"column:source_id;size:64;index" json:"source_id,omitempty"`
	CreateTime time.Time    `gorm:"column:create_time;autoCreateTime;index" json:"create_time"`
	ModifyTime time.Time    `gorm:"column:modify_time;autoUpdateTime" json:"modify_time"`
}

func (MsgRecord) TableName() string {
	return "t_msg_record"
}

type RecordFilter struct {
	MsgID      string
	To         string
	ScheduleID string
	SourceID   string
	Status     RecordStatus
	Since      time.Time
	Until      time.Time
}

func (f RecordFilter) Match(r *MsgRecord) bool {
	if f.MsgID != "" && r.MsgID != f.MsgID {
		return false
	}
	if f.To != "" && r.To != f.To {
		return false
	}
	if f.ScheduleID != "" && r.ScheduleID != f.ScheduleID {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if f.Status != 0 && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreateTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.CreateTime.After(f.Until) {
		return false
	}
	return true
}
