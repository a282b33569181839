package models

type Channel int

const (
	ChannelEmail Channel = 1
	ChannelSMS   Channel = 2
	ChannelLark  Channel = 3
)

func (c Channel) String() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelSMS:
		return "sms"
	case ChannelLark:
		return "lark"
	default:
		return "unknown"
	}
}

func (c Channel) Known() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelLark
}
