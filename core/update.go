package core

import "github.com/mymmrac/telego"

// Update kinds reported by UpdateKind.
const (
	KindMessage            = "message"
	KindEditedMessage      = "edited_message"
	KindChannelPost        = "channel_post"
	KindEditedChannelPost  = "edited_channel_post"
	KindInlineQuery        = "inline_query"
	KindChosenInlineResult = "chosen_inline_result"
	KindCallbackQuery      = "callback_query"
	KindShippingQuery      = "shipping_query"
	KindPreCheckoutQuery   = "pre_checkout_query"
	KindUnknown            = "unknown"
)

// UpdateKind names the populated variant of u.
func UpdateKind(u *telego.Update) string {
	switch {
	case u.Message != nil:
		return KindMessage
	case u.EditedMessage != nil:
		return KindEditedMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.EditedChannelPost != nil:
		return KindEditedChannelPost
	case u.InlineQuery != nil:
		return KindInlineQuery
	case u.ChosenInlineResult != nil:
		return KindChosenInlineResult
	case u.CallbackQuery != nil:
		return KindCallbackQuery
	case u.ShippingQuery != nil:
		return KindShippingQuery
	case u.PreCheckoutQuery != nil:
		return KindPreCheckoutQuery
	default:
		return KindUnknown
	}
}

func isMessageLike(kind string) bool {
	switch kind {
	case KindMessage, KindEditedMessage, KindChannelPost, KindEditedChannelPost, KindCallbackQuery:
		return true
	}
	return false
}

func isInlineLike(kind string) bool {
	return kind == KindInlineQuery || kind == KindChosenInlineResult
}

// messageOf returns the message carried by a message-like update, if any.
func messageOf(u *telego.Update) *telego.Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost
	}
	return nil
}

func messageText(m *telego.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
