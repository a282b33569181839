package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringSlice is stored as a JSON array in a text column.
type StringSlice []string

func (ss StringSlice) Value() (driver.Value, error) {
	if len(ss) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(ss))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ss *StringSlice) Scan(value any) error {
	if value == nil {
		*ss = StringSlice{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("cannot scan into StringSlice")
	}
	return json.Unmarshal(raw, (*[]string)(ss))
}

func (ss StringSlice) Contains(s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

type UserStatus int

const (
	UserDisabled UserStatus = 0
	UserEnabled  UserStatus = 1
)

type User struct {
	ID         int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string      `gorm:"column:user_id;uniqueIndex;size:64;not null" json:"user_id"`
	Name       string      `gorm:"column:name;size:100;not null" json:"name"`
	Nickname   string      `gorm:"column:nickname;size:100" json:"nickname,omitempty"`
	Mobile     string      `gorm:"column:mobile;size:20;index" json:"mobile,omitempty"`
	Email      string      `gorm:"column:email;size:100;index" json:"email,omitempty"`
	LarkID     string      `gorm:"column:lark_id;size:100" json:"lark_id,omitempty"`
	Tags       StringSlice `gorm:"column:tags;type:text" json:"tags"`
	Status     UserStatus  `gorm:"column:status;default:1;index" json:"status"`
	CreateTime time.Time   `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	ModifyTime time.Time   `gorm:"column:modify_time;autoUpdateTime" json:"modify_time"`
}

func (User) TableName() string {
	return "t_user"
}

// Address picks the contact address a channel delivers to. For a channel
// without a dedicated field the order is email, mobile, lark id.
func (u *User) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return u.Email
	case ChannelSMS:
		return u.Mobile
	case ChannelLark:
		return u.LarkID
	}
	if u.Email != "" {
		return u.Email
	}
	if u.Mobile != "" {
		return u.Mobile
	}
	return u.LarkID
}

// HasTags reports whether u carries the tags under policy p.
func (u *User) HasTags(tags []string, p MatchPolicy) bool {
	if len(tags) == 0 {
		return false
	}
	if p.Normalize() == MatchAll {
		for _, t := range tags {
			if !u.Tags.Contains(t) {
				return false
			}
		}
		return true
	}
	for _, t := range tags {
		if u.Tags.Contains(t) {
			return true
		}
	}
	return false
}

type TagStatistic struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
