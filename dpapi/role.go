package dpapi

import (
	"encoding/json"
	"fmt"
)

// Role is the closed set of contributor roles.
// The zero value is not a valid role.
type Role uint8

const (
	roleInvalid Role = iota
	RoleAuthor
	RoleConceptualization
	RoleContactPerson
	RoleDataCollector
	RoleDataCurator
	RoleDataManager
	RoleFormalAnalysis
	RoleFundingAcquisition
	RoleInvestigation
	RoleMaintainer
	RoleMethodology
	RoleProducer
	RoleProjectLeader
	RoleProjectManager
	RoleProjectMember
	RoleProjectAdministration
	RoleResearcher
	RoleResources
	RoleSoftware
	RoleSupervision
	RoleValidation
	RoleVisualization
	RoleFunder
	RoleSponsor
	RoleStudyParticipant
	RoleOther
	roleEnd
)

// Roles lists every valid role in declaration order.
func Roles() []Role {
	result := make([]Role, 0, roleEnd-1)
	for r := roleInvalid + 1; r < roleEnd; r++ {
		result = append(result, r)
	}
	return result
}

func (r Role) String() string {
	switch r {
	case RoleAuthor:
		return "Author"
	case RoleConceptualization:
		return "Conceptualization"
	case RoleContactPerson:
		return "ContactPerson"
	case RoleDataCollector:
		return "DataCollector"
	case RoleDataCurator:
		return "DataCurator"
	case RoleDataManager:
		return "DataManager"
	case RoleFormalAnalysis:
		return "FormalAnalysis"
	case RoleFundingAcquisition:
		return "FundingAcquisition"
	case RoleInvestigation:
		return "Investigation"
	case RoleMaintainer:
		return "Maintainer"
	case RoleMethodology:
		return "Methodology"
	case RoleProducer:
		return "Producer"
	case RoleProjectLeader:
		return "ProjectLeader"
	case RoleProjectManager:
		return "ProjectManager"
	case RoleProjectMember:
		return "ProjectMember"
	case RoleProjectAdministration:
		return "ProjectAdministration"
	case RoleResearcher:
		return "Researcher"
	case RoleResources:
		return "Resources"
	case RoleSoftware:
		return "Software"
	case RoleSupervision:
		return "Supervision"
	case RoleValidation:
		return "Validation"
	case RoleVisualization:
		return "Visualization"
	case RoleFunder:
		return "Funder"
	case RoleSponsor:
		return "Sponsor"
	case RoleStudyParticipant:
		return "StudyParticipant"
	case RoleOther:
		return "Other"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

var rolesByName = func() map[string]Role {
	m := make(map[string]Role, roleEnd)
	for _, r := range Roles() {
		m[r.String()] = r
	}
	return m
}()

// ParseRole maps a role name onto the enumeration.
//
// Errors:
//
//   - dandi-error-schema-violation -- when the name is not a known role
func ParseRole(name string) (Role, error) {
	r, ok := rolesByName[name]
	if !ok {
		return roleInvalid, ErrorSchemaViolation("contributor role", fmt.Sprintf("invalid role %q", name))
	}
	return r, nil
}

func (r Role) MarshalJSON() ([]byte, error) {
	if r <= roleInvalid || r >= roleEnd {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseRole(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
