package server

import (
	"hourline/internal/domain"
)

type CreatePurchaseRequest struct {
	ClientID    string  `json:"client_id,omitempty" doc:"Required for admins acting on behalf of a client"`
	TierID      string  `json:"tier_id,omitempty"`
	Hours       float64 `json:"hours,omitempty" minimum:"0"`
	CostPerHour float64 `json:"cost_per_hour,omitempty" minimum:"0"`
	Discount    float64 `json:"discount,omitempty" minimum:"0" maximum:"1"`
	Notes       string  `json:"notes,omitempty"`
}

type TransitionRequest struct {
	State string `json:"state" doc:"Target state"`
}

type CreateAssignmentRequest struct {
	MemberID string  `json:"member_id"`
	Hours    float64 `json:"hours" exclusiveMinimum:"0"`
}

type AppendProgressRequest struct {
	Content string  `json:"content"`
	Hours   float64 `json:"hours,omitempty" minimum:"0" doc:"Reported hours; ignored for client entries"`
}

type CreateProjectRequest struct {
	ClientID   string `json:"client_id,omitempty" doc:"Required for admins acting on behalf of a client"`
	Title      string `json:"title"`
	Visibility string `json:"visibility,omitempty" enum:"abierto,privado"`
}

type PlaceBidRequest struct {
	Amount  float64 `json:"amount" exclusiveMinimum:"0"`
	Message string  `json:"message,omitempty"`
}

type CreateClientRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type CreateMemberRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type DevLoginRequest struct {
	ActorID  string `json:"actor_id"`
	Role     string `json:"role" enum:"admin,member,client"`
	ClientID string `json:"client_id,omitempty"`
	MemberID string `json:"member_id,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID  string `json:"actor_id"`
	Role     string `json:"role"`
	ClientID string `json:"client_id,omitempty"`
	MemberID string `json:"member_id,omitempty"`
	Source   string `json:"source"`
}

type paginatedSolicitations struct {
	Items      []domain.Solicitation `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type billingSummaryResponse struct {
	SolicitationID string               `json:"solicitation_id"`
	Lines          []domain.BillingLine `json:"lines"`
}

func nonNilSolicitations(items []domain.Solicitation) []domain.Solicitation {
	if items == nil {
		return []domain.Solicitation{}
	}
	return items
}

func nonNilAssignments(items []domain.Assignment) []domain.Assignment {
	if items == nil {
		return []domain.Assignment{}
	}
	return items
}

func nonNilProgress(items []domain.ProgressEntry) []domain.ProgressEntry {
	if items == nil {
		return []domain.ProgressEntry{}
	}
	return items
}

func nonNilBids(items []domain.ProjectBid) []domain.ProjectBid {
	if items == nil {
		return []domain.ProjectBid{}
	}
	return items
}

func nonNilProjects(items []domain.Project) []domain.Project {
	if items == nil {
		return []domain.Project{}
	}
	return items
}

func nonNilLines(items []domain.BillingLine) []domain.BillingLine {
	if items == nil {
		return []domain.BillingLine{}
	}
	return items
}
