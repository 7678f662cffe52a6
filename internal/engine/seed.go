package engine

import (
	"time"

	"dochub/internal/domain"
)

func pdfRef(name string, size int64) domain.FileRef {
	return domain.FileRef{Name: name, Size: size, MimeType: domain.PDFMimeType}
}

// DefaultSeed returns the example tasks shown on an empty workspace.
func DefaultSeed(now time.Time) []domain.Task {
	return []domain.Task{
		{
			ID:   "task-1",
			Name: "Contract Analysis Task",
			BulkFiles: []domain.FileRef{
				pdfRef("contract_template_v1.pdf", 245760),
				pdfRef("legal_framework.pdf", 512000),
				pdfRef("compliance_guide.pdf", 389120),
			},
			FreshFile: pdfRef("new_contract_draft.pdf", 198400),
			CreatedAt: now.Add(-time.Hour).UnixMilli(),
			Status:    domain.TaskCreated,
		},
		{
			ID:   "task-2",
			Name: "Policy Comparison Task",
			BulkFiles: []domain.FileRef{
				pdfRef("hr_policy_2023.pdf", 156800),
				pdfRef("employee_handbook.pdf", 445440),
			},
			FreshFile: pdfRef("updated_policy_draft.pdf", 167936),
			CreatedAt: now.Add(-2 * time.Hour).UnixMilli(),
			Status:    domain.TaskCreated,
		},
	}
}
