package domain

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PackageTier is a purchasable bundle of hours. Solicitations snapshot its
// terms at purchase time so later tier edits never touch billed history.
type PackageTier struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Hours       float64 `json:"hours"`
	CostPerHour float64 `json:"cost_per_hour"`
	Discount    float64 `json:"discount"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Solicitation is a client's request to consume a package of hours
// (paquete_solicitudes).
type Solicitation struct {
	ID          string  `json:"id"`
	ClientID    string  `json:"client_id"`
	TierID      *string `json:"tier_id,omitempty"`
	HoursTotal  float64 `json:"hours_total"`
	CostPerHour float64 `json:"cost_per_hour"`
	Discount    float64 `json:"discount"`
	State       string  `json:"state" enum:"pendiente,en_espera,aprobado,en_progreso,pre_confirmado,completado,cancelado,rechazado,expirado"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Assignment allocates part of a solicitation's hours to one member
// (paquete_asignaciones).
type Assignment struct {
	ID             string  `json:"id"`
	SolicitationID string  `json:"solicitation_id"`
	MemberID       string  `json:"member_id"`
	HoursAllocated float64 `json:"hours_allocated"`
	State          string  `json:"state" enum:"asignado,en_progreso,completado,cancelado"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// ProgressEntry is an append-only note against one assignment
// (paquete_avances). The integer id doubles as the narrative order.
type ProgressEntry struct {
	ID            int64   `json:"id"`
	AssignmentID  string  `json:"assignment_id"`
	AuthorType    string  `json:"author_type" enum:"cliente,miembro"`
	AuthorID      string  `json:"author_id"`
	Content       string  `json:"content"`
	HoursReported float64 `json:"hours_reported"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Project struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	Title      string `json:"title"`
	Visibility string `json:"visibility" enum:"abierto,privado"`
	Status     string `json:"status" enum:"abierto,cerrado"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// ProjectBid is a member's offer to execute a project (project_bids).
// ConfirmedByMember flips true at most once per bid lifetime.
type ProjectBid struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	MemberID          string  `json:"member_id"`
	Amount            float64 `json:"amount"`
	Message           string  `json:"message,omitempty"`
	State             string  `json:"state" enum:"pendiente,aceptada,rechazada"`
	ConfirmedByMember bool    `json:"confirmed_by_member"`
	ConfirmedAt       *string `json:"confirmed_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// BillingLine is the per-assignment view the invoice collaborator consumes:
// allocated hours vs hours actually reported through member avances.
type BillingLine struct {
	AssignmentID   string  `json:"assignment_id"`
	MemberID       string  `json:"member_id"`
	State          string  `json:"state"`
	HoursAllocated float64 `json:"hours_allocated"`
	HoursReported  float64 `json:"hours_reported"`
}

type APIKey struct {
	ID        string  `json:"id"`
	Role      string  `json:"role" enum:"admin,member,client"`
	ClientID  *string `json:"client_id,omitempty"`
	MemberID  *string `json:"member_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"key_hash"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
