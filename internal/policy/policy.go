// Package policy is the single place where role-based visibility is decided.
// Every entity service asks Authorize before touching storage and applies the
// returned Decision as its query filter; handlers never re-implement role
// conditionals of their own.
package policy

import (
	"errors"
	"strings"
)

// Role determines operation permissions and default scope.
type Role string

const (
	RoleVillager Role = "villager"
	RoleHead     Role = "head"
	RoleSuper    Role = "super"
)

// ParseRole normalizes a stored role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleVillager:
		return RoleVillager, nil
	case RoleHead:
		return RoleHead, nil
	case RoleSuper:
		return RoleSuper, nil
	}
	return "", errors.New("policy: unknown role")
}

// Entity identifies the record kind an operation targets.
type Entity string

const (
	EntityReport       Entity = "report"
	EntitySOS          Entity = "sos"
	EntityNote         Entity = "note"
	EntityAnnouncement Entity = "announcement"
	EntityPolygon      Entity = "polygon"
	EntityVillage      Entity = "village"
)

// Op is the requested operation.
type Op string

const (
	OpRead   Op = "read"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrAccessDenied is returned when the caller's role does not permit the
// requested operation at all. An empty-but-allowed scope is not a denial.
var ErrAccessDenied = errors.New("policy: access denied")

// Caller is the resolved identity a request acts as. Role and scope come from
// validated token claims plus stored assignment state, never from the client.
type Caller struct {
	RealID string
	Role   Role
	Scope  Scope
}

// Scope is the set of village identifiers a caller may act on.
type Scope struct {
	// VillageID is the single assigned village for villager/head callers.
	// Zero means unassigned.
	VillageID int64
	// Villages is the super caller's assignment set. A super with no
	// assignment has an empty (nil) set here.
	Villages []int64
}

// Resolve builds the scope for a caller. For villager and head roles the
// scope is the single assigned village from the identity record; for super it
// is the stored assignment list. Absence of an assignment yields an empty
// scope, not an error.
func Resolve(role Role, assignedVillage int64, supVillages []int64) Scope {
	switch role {
	case RoleSuper:
		return Scope{Villages: supVillages}
	default:
		return Scope{VillageID: assignedVillage}
	}
}

// Contains reports whether the scope covers the given village.
func (s Scope) Contains(villageID int64) bool {
	if s.VillageID != 0 && s.VillageID == villageID {
		return true
	}
	for _, v := range s.Villages {
		if v == villageID {
			return true
		}
	}
	return false
}

// Decision is the visibility filter an entity service must apply.
//
// Exactly one of the filter shapes is active:
//   - OwnOnly: restrict to records owned by the caller.
//   - Villages: restrict to records whose village is in the set. An empty
//     set with Empty=true means nothing is visible (an empty result, not an
//     error).
//
// IncludeGlobal additionally admits records with no village reference
// (global announcements). It applies even when Empty is set: a super with no
// assignment still sees untargeted announcements, and nothing else.
type Decision struct {
	OwnOnly       bool
	Villages      []int64
	Empty         bool
	IncludeGlobal bool
}

// Narrow intersects the decision with an optional requested village filter.
// It can only shrink visibility: asking for a village outside the decided
// scope yields the empty decision. Narrowing never drops OwnOnly. The
// intersection applies to the village set only; IncludeGlobal survives, so a
// village-filtered announcement listing still unions in the untargeted
// (global) records.
func (d Decision) Narrow(villageID int64) Decision {
	if villageID == 0 {
		return d
	}
	if d.Empty {
		return d
	}
	if d.OwnOnly {
		// Ownership filtering already dominates; record the village as an
		// additional constraint.
		d.Villages = []int64{villageID}
		return d
	}
	if len(d.Villages) == 0 {
		// Unbounded village visibility narrows to exactly the requested one.
		d.Villages = []int64{villageID}
		return d
	}
	for _, v := range d.Villages {
		if v == villageID {
			d.Villages = []int64{villageID}
			return d
		}
	}
	d.Villages = nil
	d.Empty = true
	return d
}

// Matches reports whether a record owned by ownerID and attributed to
// villageID (0 means global, no village reference) is visible to the caller
// under this decision.
func (d Decision) Matches(callerID, ownerID string, villageID int64) bool {
	if d.OwnOnly {
		if ownerID != callerID {
			return false
		}
		if len(d.Villages) > 0 {
			return containsVillage(d.Villages, villageID)
		}
		return true
	}
	if villageID == 0 {
		return d.IncludeGlobal
	}
	if d.Empty {
		return false
	}
	return containsVillage(d.Villages, villageID)
}

// AllowsVillage reports whether a mutation may target the given village.
// villageID 0 stands for an untargeted (global) record.
func (d Decision) AllowsVillage(villageID int64) bool {
	if villageID == 0 {
		return d.IncludeGlobal
	}
	return !d.Empty && containsVillage(d.Villages, villageID)
}

func containsVillage(set []int64, villageID int64) bool {
	for _, v := range set {
		if v == villageID {
			return true
		}
	}
	return false
}

func villageSet(s Scope) Decision {
	if s.VillageID != 0 {
		return Decision{Villages: []int64{s.VillageID}}
	}
	if len(s.Villages) == 0 {
		return Decision{Empty: true}
	}
	vs := make([]int64, len(s.Villages))
	copy(vs, s.Villages)
	return Decision{Villages: vs}
}

// Authorize applies the role policy table and returns the visibility filter
// for an allowed operation, or ErrAccessDenied.
func Authorize(c Caller, entity Entity, op Op) (Decision, error) {
	switch entity {
	case EntityReport, EntitySOS:
		return authorizeIncident(c, op)
	case EntityNote, EntityPolygon:
		return authorizeHeadScoped(c, entity, op)
	case EntityAnnouncement:
		return authorizeAnnouncement(c, op)
	case EntityVillage:
		return authorizeVillage(c, op)
	}
	return Decision{}, ErrAccessDenied
}

// Reports and SOS requests share visibility rules: villagers see and create
// only their own records, heads act within their assigned village, supers
// read within their assignment set and never create.
func authorizeIncident(c Caller, op Op) (Decision, error) {
	switch c.Role {
	case RoleVillager:
		switch op {
		case OpRead:
			return Decision{OwnOnly: true}, nil
		case OpCreate:
			if c.Scope.VillageID == 0 {
				return Decision{}, ErrAccessDenied
			}
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		}
	case RoleHead:
		switch op {
		case OpRead, OpCreate, OpDelete:
			if c.Scope.VillageID == 0 {
				return Decision{Empty: true}, nil
			}
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		}
	case RoleSuper:
		if op == OpRead {
			return villageSet(c.Scope), nil
		}
	}
	return Decision{}, ErrAccessDenied
}

// Notes and hazard polygons are head-authored. Villagers may read polygons of
// their own village (the hazard overlay) but never notes.
func authorizeHeadScoped(c Caller, entity Entity, op Op) (Decision, error) {
	switch c.Role {
	case RoleHead:
		if c.Scope.VillageID == 0 {
			if op == OpRead {
				return Decision{Empty: true}, nil
			}
			return Decision{}, ErrAccessDenied
		}
		return Decision{Villages: []int64{c.Scope.VillageID}}, nil
	case RoleVillager:
		if entity == EntityPolygon && op == OpRead {
			if c.Scope.VillageID == 0 {
				return Decision{Empty: true}, nil
			}
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		}
	case RoleSuper:
		if op == OpRead {
			return villageSet(c.Scope), nil
		}
	}
	return Decision{}, ErrAccessDenied
}

// Announcements union the caller's village scope with global (village-less)
// records on read. Heads create within their village, supers create within
// their assignment set or untargeted.
func authorizeAnnouncement(c Caller, op Op) (Decision, error) {
	switch op {
	case OpRead:
		d := villageSet(c.Scope)
		d.IncludeGlobal = true
		return d, nil
	case OpCreate, OpDelete:
		switch c.Role {
		case RoleHead:
			if c.Scope.VillageID == 0 {
				return Decision{}, ErrAccessDenied
			}
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		case RoleSuper:
			// Supers may target any village in their assignment set or
			// publish untargeted (global).
			d := villageSet(c.Scope)
			d.IncludeGlobal = true
			return d, nil
		}
	}
	return Decision{}, ErrAccessDenied
}

func authorizeVillage(c Caller, op Op) (Decision, error) {
	switch op {
	case OpRead:
		switch c.Role {
		case RoleSuper:
			return villageSet(c.Scope), nil
		default:
			if c.Scope.VillageID == 0 {
				return Decision{Empty: true}, nil
			}
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		}
	case OpUpdate:
		if c.Role == RoleHead && c.Scope.VillageID != 0 {
			return Decision{Villages: []int64{c.Scope.VillageID}}, nil
		}
	}
	return Decision{}, ErrAccessDenied
}
