package appointment

import (
	"fmt"
	"time"

	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
)

func conversationLink(a Appointment) string {
	return "/messages/" + a.ConversationID
}

func subject(c conversation.Conversation) string {
	if c.Subject == "" {
		return "your listing"
	}
	return c.Subject
}

func ProposalNotice(a Appointment, c conversation.Conversation, to string) notify.Notification {
	return notify.Notification{
		UserID:   to,
		Title:    "New meeting proposal",
		Body:     fmt.Sprintf("A meeting was proposed for %s at %s on %s.", subject(c), a.Location, a.Date.UTC().Format(time.RFC1123)),
		DeepLink: conversationLink(a),
		Tag:      "appointment-" + a.ID,
	}
}

func StatusNotice(a Appointment, c conversation.Conversation, to string) notify.Notification {
	var title string
	switch a.Status {
	case StatusAccepted:
		title = "Meeting accepted"
	case StatusRejected:
		title = "Meeting rejected"
	case StatusCancelled:
		title = "Meeting cancelled"
	case StatusCompleted:
		title = "Meeting completed"
	default:
		title = "Meeting updated"
	}
	return notify.Notification{
		UserID:   to,
		Title:    title,
		Body:     fmt.Sprintf("The meeting for %s is now %s.", subject(c), a.Status),
		DeepLink: conversationLink(a),
		Tag:      "appointment-update-" + a.ID,
	}
}

func RescheduleNotice(a Appointment, c conversation.Conversation, to string) notify.Notification {
	return notify.Notification{
		UserID:   to,
		Title:    "Meeting changed",
		Body:     fmt.Sprintf("The meeting for %s was changed to %s on %s and needs your approval.", subject(c), a.Location, a.Date.UTC().Format(time.RFC1123)),
		DeepLink: conversationLink(a),
		Tag:      "appointment-update-" + a.ID,
	}
}

// ReminderNotice is sent by both pre-meeting ladders. when is a human label
// such as "in 1 day".
func ReminderNotice(a Appointment, c conversation.Conversation, to, when, tag string) notify.Notification {
	return notify.Notification{
		UserID:   to,
		Title:    "Meeting reminder",
		Body:     fmt.Sprintf("Your meeting for %s at %s is %s.", subject(c), a.Location, when),
		DeepLink: conversationLink(a),
		Tag:      tag,
	}
}

// SafetyCheckNotice asks a participant to confirm they are fine. Clients
// render STILL_SAFE, FINISHED and SOS actions for this tag.
func SafetyCheckNotice(a Appointment, c conversation.Conversation, to string) notify.Notification {
	return notify.Notification{
		UserID:   to,
		Title:    "Safety check",
		Body:     fmt.Sprintf("Your meeting for %s is in progress. Is everything OK?", subject(c)),
		DeepLink: fmt.Sprintf("/messages/%s?safety_check=%s", a.ConversationID, a.ID),
		Tag:      "safety-check-" + a.ID,
	}
}

func EmergencyNotice(a Appointment, c conversation.Conversation, to string) notify.Notification {
	return notify.Notification{
		UserID:   to,
		Title:    "Emergency alert",
		Body:     fmt.Sprintf("The other participant of the meeting for %s at %s raised an SOS.", subject(c), a.Location),
		DeepLink: conversationLink(a),
		Tag:      "emergency-" + a.ID,
	}
}
