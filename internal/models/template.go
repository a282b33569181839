package models

import "time"

type TemplateStatus int

const (
	TemplateActive   TemplateStatus = 1
	TemplateDisabled TemplateStatus = 2
)

// Template is one revision of a message template. Revisions of the same
// template share RelTemplateID.
type Template struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID    string         `gorm:"column:template_id;uniqueIndex;size:64;not null" json:"template_id"`
	RelTemplateID string         `gorm:"column:rel_template_id;uniqueIndex:idx_template_revision,priority:1;size:64;not null" json:"rel_template_id"`
	Revision      int            `gorm:"column:revision;uniqueIndex:idx_template_revision,priority:2;default:1" json:"revision"`
	Name          string         `gorm:"column:name;size:100" json:"name"`
	Content       string         `gorm:"column:content;type:text;not null" json:"content"`
	Subject       string         `gorm:"column:subject;size:255" json:"subject,omitempty"`
	Channel       Channel        `gorm:"column:channel;index" json:"channel"`
	SourceID      string         `gorm:"column:source_id;size:64;index" json:"source_id"`
	SignName      string         `gorm:"column:sign_name;size:64" json:"sign_name,omitempty"`
	Status        TemplateStatus `gorm:"column:status;default:1;index" json:"status"`
	Ext           string         `gorm:"column:ext;type:text" json:"ext,omitempty"`
	CreateTime    time.Time      `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	ModifyTime    time.Time      `gorm:"column:modify_time;autoUpdateTime" json:"modify_time"`
}

func (Template) TableName() string {
	return "t_msg_template"
}

type TemplateFilter struct {
	SourceID string
	Channel  Channel
	Status   TemplateStatus
}

func (f TemplateFilter) Match(t *Template) bool {
	if f.SourceID != "" && t.SourceID != f.SourceID {
		return false
	}
	if f.Channel != 0 && t.Channel != f.Channel {
		return false
	}
	if f.Status != 0 && t.Status != f.Status {
		return false
	}
	return true
}
