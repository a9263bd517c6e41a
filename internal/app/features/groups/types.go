// internal/app/features/groups/types.go
package groups

import (
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
)

type createInput struct {
	Title       string   `json:"title" validate:"required,max=200" label:"Title"`
	Description string   `json:"description" validate:"max=10000" label:"Description"`
	Status      string   `json:"status" validate:"omitempty,groupstatus" label:"Status"`
	AuthorEmail string   `json:"author_email" validate:"required,emailaddr" label:"Author email"`
	Members     []string `json:"members" validate:"max=5000" label:"Members"`
}

type updateInput struct {
	Title       string  `json:"title" validate:"max=200" label:"Title"`
	Description *string `json:"description" validate:"omitempty,max=10000" label:"Description"`
}

type statusInput struct {
	Status string `json:"status" validate:"required,groupstatus" label:"Status"`
}

type membersInput struct {
	Emails []string `json:"emails" validate:"required,min=1,max=5000" label:"Emails"`
}

type courseDataResponse struct {
	CourseID       string `json:"course_id"`
	OrderID        string `json:"order_id,omitempty"`
	EnrolledStatus string `json:"enrolled_status"`
}

type groupResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Status      string               `json:"status"`
	Lifecycle   string               `json:"lifecycle"`
	AuthorID    string               `json:"author_id,omitempty"`
	AuthorEmail string               `json:"author_email"`
	Members     []string             `json:"members"`
	CourseData  []courseDataResponse `json:"course_data"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`

	// Set by the endpoint that produced them.
	Changed *bool    `json:"changed,omitempty"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

func toResponse(g models.Group) groupResponse {
	resp := groupResponse{
		ID:          g.ID.Hex(),
		Title:       g.Title,
		Description: g.Description,
		Status:      g.Status,
		Lifecycle:   g.Lifecycle,
		AuthorEmail: g.AuthorEmail,
		Members:     g.Members,
		CourseData:  make([]courseDataResponse, 0, len(g.CourseData)),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	if resp.Lifecycle == "" {
		resp.Lifecycle = status.LifecycleActive
	}
	if resp.Members == nil {
		resp.Members = []string{}
	}
	if !g.AuthorID.IsZero() {
		resp.AuthorID = g.AuthorID.Hex()
	}
	for _, cd := range g.CourseData {
		row := courseDataResponse{CourseID: cd.CourseID.Hex(), EnrolledStatus: cd.EnrolledStatus}
		if cd.OrderID != nil {
			row.OrderID = cd.OrderID.Hex()
		}
		resp.CourseData = append(resp.CourseData, row)
	}
	return resp
}

type listResponse struct {
	Groups []groupResponse `json:"groups"`
	Next   string          `json:"next,omitempty"`
}
