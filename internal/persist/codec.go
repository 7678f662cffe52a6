package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"dochub/internal/domain"
)

// ErrMalformed marks a stored value that does not match the task collection schema.
var ErrMalformed = errors.New("malformed task collection")

type fileRecord struct {
	Name     *string `json:"name"`
	Size     *int64  `json:"size"`
	MimeType string  `json:"mimeType"`
}

type taskRecord struct {
	ID          *string      `json:"id"`
	Name        *string      `json:"name"`
	Persona     string       `json:"persona"`
	JobToBeDone string       `json:"jobToBeDone"`
	BulkFiles   []fileRecord `json:"bulkFiles"`
	FreshFile   *fileRecord  `json:"freshFile"`
	CreatedAt   *int64       `json:"createdAt"`
	CompletedAt *int64       `json:"completedAt"`
	Status      *string      `json:"status"`
	// Timestamp is the creation time written by earlier dashboard builds.
	Timestamp *int64 `json:"timestamp"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Encode serializes the whole collection as a JSON array.
func Encode(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return json.Marshal(tasks)
}

// Decode parses and schema-checks a stored collection. Any structural mismatch is
// reported as ErrMalformed.
func Decode(data []byte) ([]domain.Task, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("not a JSON array: %v", err)
	}
	if raw == nil {
		return nil, malformed("null collection")
	}
	tasks := make([]domain.Task, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, item := range raw {
		var rec taskRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, malformed("task %d: %v", i, err)
		}
		t, err := rec.toTask()
		if err != nil {
			return nil, malformed("task %d: %v", i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, malformed("duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r taskRecord) toTask() (domain.Task, error) {
	if r.ID == nil || *r.ID == "" {
		return domain.Task{}, errors.New("id is required")
	}
	if r.Name == nil {
		return domain.Task{}, errors.New("name is required")
	}
	if len(r.BulkFiles) == 0 {
		return domain.Task{}, errors.New("bulkFiles must be a non-empty array")
	}
	if r.FreshFile == nil {
		return domain.Task{}, errors.New("freshFile is required")
	}
	created := r.CreatedAt
	if created == nil {
		created = r.Timestamp
	}
	if created == nil {
		return domain.Task{}, errors.New("createdAt is required")
	}
	if r.Status == nil || !domain.TaskStatus(*r.Status).Valid() {
		return domain.Task{}, errors.New("status is invalid")
	}
	status := domain.TaskStatus(*r.Status)
	if (status == domain.TaskCompleted) != (r.CompletedAt != nil) {
		return domain.Task{}, errors.New("completedAt must be set exactly when status is completed")
	}
	bulk := make([]domain.FileRef, 0, len(r.BulkFiles))
	for j, f := range r.BulkFiles {
		ref, err := f.toFileRef()
		if err != nil {
			return domain.Task{}, fmt.Errorf("bulkFiles[%d]: %w", j, err)
		}
		bulk = append(bulk, ref)
	}
	fresh, err := r.FreshFile.toFileRef()
	if err != nil {
		return domain.Task{}, fmt.Errorf("freshFile: %w", err)
	}
	t := domain.Task{
		ID:          *r.ID,
		Name:        *r.Name,
		Persona:     r.Persona,
		JobToBeDone: r.JobToBeDone,
		BulkFiles:   bulk,
		FreshFile:   fresh,
		CreatedAt:   *created,
		Status:      status,
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		t.CompletedAt = &v
	}
	return t, nil
}

func (f fileRecord) toFileRef() (domain.FileRef, error) {
	if f.Name == nil || *f.Name == "" {
		return domain.FileRef{}, errors.New("name is required")
	}
	if f.Size == nil || *f.Size < 0 {
		return domain.FileRef{}, errors.New("size must be a non-negative integer")
	}
	mime := f.MimeType
	if mime == "" {
		// only PDFs were ever accepted into a task
		mime = domain.PDFMimeType
	}
	if mime != domain.PDFMimeType {
		return domain.FileRef{}, fmt.Errorf("unsupported mime type %q", mime)
	}
	return domain.FileRef{Name: *f.Name, Size: *f.Size, MimeType: mime}, nil
}
