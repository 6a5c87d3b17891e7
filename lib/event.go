package shelvery

import "time"

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// EventTimeFormat is the layout of Event.Timestamp
const EventTimeFormat = "2006-01-02 15:04:05 UTC"

// Lifecycle notification
type Event struct {
	Operation     string `json:"Operation"`
	Status        string `json:"Status"`
	BackupType    string `json:"BackupType"`
	BackupName    string `json:"BackupName,omitempty"`
	BackupID      string `json:"BackupId,omitempty"`
	EntityID      string `json:"EntityId,omitempty"`
	Region        string `json:"Region,omitempty"`
	Message       string `json:"Message,omitempty"`
	Timestamp     string `json:"Timestamp"`
	ExceptionInfo string `json:"ExceptionInfo,omitempty"`
}

func (e Event) IsError() bool {
	return e.Status == StatusError
}

// Returns a copy of the event stamped with t, in UTC
func (e Event) Stamped(t time.Time) Event {
	e.Timestamp = t.UTC().Format(EventTimeFormat)
	return e
}
