package domain

import "fmt"

// Solicitation states.
const (
	SolicitationPendiente     = "pendiente"
	SolicitationEnEspera      = "en_espera"
	SolicitationAprobado      = "aprobado"
	SolicitationEnProgreso    = "en_progreso"
	SolicitationPreConfirmado = "pre_confirmado"
	SolicitationCompletado    = "completado"
	SolicitationCancelado     = "cancelado"
	SolicitationRechazado     = "rechazado"
	SolicitationExpirado      = "expirado"
)

// Assignment states.
const (
	AssignmentAsignado   = "asignado"
	AssignmentEnProgreso = "en_progreso"
	AssignmentCompletado = "completado"
	AssignmentCancelado  = "cancelado"
)

// Bid states.
const (
	BidPendiente = "pendiente"
	BidAceptada  = "aceptada"
	BidRechazada = "rechazada"
)

// Project visibility and status.
const (
	VisibilityAbierto = "abierto"
	VisibilityPrivado = "privado"

	ProjectAbierto = "abierto"
	ProjectCerrado = "cerrado"
)

// Progress author types.
const (
	AuthorCliente = "cliente"
	AuthorMiembro = "miembro"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleClient = "client"
)

func ValidSolicitationState(s string) bool {
	switch s {
	case SolicitationPendiente, SolicitationEnEspera, SolicitationAprobado,
		SolicitationEnProgreso, SolicitationPreConfirmado, SolicitationCompletado,
		SolicitationCancelado, SolicitationRechazado, SolicitationExpirado:
		return true
	default:
		return false
	}
}

// SolicitationTerminal reports whether a state has no outbound transitions.
// expirado is only ever set by an external sweep; it is terminal here too.
func SolicitationTerminal(s string) bool {
	switch s {
	case SolicitationCompletado, SolicitationCancelado, SolicitationRechazado, SolicitationExpirado:
		return true
	default:
		return false
	}
}

// ValidSolicitationTransition is the solicitation transition table. Anything
// not listed is rejected, including every move out of a terminal state.
func ValidSolicitationTransition(from, to string) bool {
	switch from {
	case SolicitationPendiente:
		return to == SolicitationEnEspera || to == SolicitationAprobado ||
			to == SolicitationCancelado || to == SolicitationRechazado
	case SolicitationEnEspera:
		return to == SolicitationAprobado || to == SolicitationCancelado || to == SolicitationRechazado
	case SolicitationAprobado:
		return to == SolicitationEnProgreso || to == SolicitationCancelado
	case SolicitationEnProgreso:
		return to == SolicitationPreConfirmado || to == SolicitationCancelado
	case SolicitationPreConfirmado:
		return to == SolicitationCompletado || to == SolicitationEnProgreso
	}
	return false
}

func AssignmentTerminal(s string) bool {
	return s == AssignmentCompletado || s == AssignmentCancelado
}

func ValidAssignmentTransition(from, to string) bool {
	switch from {
	case AssignmentAsignado:
		return to == AssignmentEnProgreso || to == AssignmentCancelado
	case AssignmentEnProgreso:
		return to == AssignmentCompletado || to == AssignmentCancelado
	}
	return false
}

func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleMember || r == RoleClient
}

// InvalidTransitionError reports a move not present in a transition table.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// InvalidStateError reports an operation precondition on state that is unmet.
type InvalidStateError struct {
	Entity string
	State  string
	Needs  string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s; operation requires %s", e.Entity, e.State, e.Needs)
}
