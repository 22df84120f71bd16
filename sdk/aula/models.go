package aula

import "time"

// Profile is the logged-in guardian profile returned by the portal.
type Profile struct {
	ProfileID   int64
	DisplayName string
	Children    []Child
	// InstitutionProfileIDs collects the institution profile IDs of the
	// guardian and all children. Calendar queries take these.
	InstitutionProfileIDs []int64
}

// Child is a child attached to a guardian profile. ID is the institution
// profile ID and is the one the portal APIs key on; ProfileID is the
// user-facing profile number.
type Child struct {
	ID              int64
	ProfileID       int64
	Name            string
	InstitutionName string
	ProfilePicture  string
}

// MessageThread is a conversation in the portal inbox.
type MessageThread struct {
	ID             int64
	Subject        string
	Unread         bool
	LatestActivity string
}

// Message is a single regular message inside a thread. System events
// (member added, thread renamed) are filtered out before parsing.
type Message struct {
	ID          string
	SenderName  string
	SendTime    string
	ContentHTML string
}

// CalendarEvent is a calendar entry, typically a lesson. Substitute
// information is only populated for lesson events.
type CalendarEvent struct {
	ID             int64
	Title          string
	Start          time.Time
	End            time.Time
	TeacherName    string
	HasSubstitute  bool
	SubstituteName string
	Location       string
	BelongsTo      int64
}

// DailyOverview is the presence snapshot for one child.
type DailyOverview struct {
	ID           int64
	Status       int64
	Location     string
	CheckInTime  string
	CheckOutTime string
	EntryTime    string
	ExitTime     string
	ExitWith     string
	Comment      string
}

// Post is an institution news post.
type Post struct {
	ID        int64
	Title     string
	Content   string
	Timestamp string
	OwnerName string
}
