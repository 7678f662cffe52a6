package domain

import "time"

// PDFMimeType is the only document type accepted for analysis.
const PDFMimeType = "application/pdf"

// FileRef describes an uploaded document. Only metadata is kept; file bytes are never
// read into a task.
type FileRef struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// IsPDF reports whether the file carries the PDF mime type.
func (f FileRef) IsPDF() bool {
	return f.MimeType == PDFMimeType
}

type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known lifecycle status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskCreated, TaskProcessing, TaskCompleted:
		return true
	default:
		return false
	}
}

// Task bundles a bulk collection and a fresh document for analysis.
// Timestamps are epoch milliseconds.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Persona     string     `json:"persona,omitempty"`
	JobToBeDone string     `json:"jobToBeDone,omitempty"`
	BulkFiles   []FileRef  `json:"bulkFiles"`
	FreshFile   FileRef    `json:"freshFile"`
	CreatedAt   int64      `json:"createdAt"`
	CompletedAt *int64     `json:"completedAt,omitempty"`
	Status      TaskStatus `json:"status"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	out := t
	out.BulkFiles = append([]FileRef(nil), t.BulkFiles...)
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// Created returns CreatedAt as a time.
func (t Task) Created() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
	NotifyInfo    NotificationKind = "info"
)

// Notification is a transient user-facing message.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Text      string           `json:"text"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	Payload string `json:"payload_json"`
}
