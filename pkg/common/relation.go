package common

import (
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// RelationKindsVersion identifies the current relationship enumeration.
// Bump it whenever a kind is added, removed or its direction changes.
const RelationKindsVersion = "2025.1"

// RelationKind is a member of the closed relationship enumeration.
type RelationKind string

const (
	RelationIsolatedFrom     RelationKind = "ISOLATED_FROM"
	RelationMetaboliteOf     RelationKind = "METABOLITE_OF"
	RelationProduces         RelationKind = "PRODUCES"
	RelationDegradedBy       RelationKind = "DEGRADED_BY"
	RelationBiosynthesizedBy RelationKind = "BIOSYNTHESIZED_BY"
	RelationInhibits         RelationKind = "INHIBITS"
	RelationPrecursorOf      RelationKind = "PRECURSOR_OF"
	RelationUptakenBy        RelationKind = "UPTAKEN_BY"
	RelationModifies         RelationKind = "MODIFIES"
	RelationSequesters       RelationKind = "SEQUESTERS"
	RelationContains         RelationKind = "CONTAINS"
)

// EntityType is a member of the closed entity type enumeration.
// EntityGeneric matches any role in a direction rule.
type EntityType string

const (
	EntityOrganism   EntityType = "ORGANISM"
	EntityChemical   EntityType = "CHEMICAL"
	EntityMetabolite EntityType = "METABOLITE"
	EntityProtein    EntityType = "PROTEIN"
	EntityEnzyme     EntityType = "ENZYME"
	EntityGene       EntityType = "GENE"
	EntityDisease    EntityType = "DISEASE"
	EntityGeneric    EntityType = "ENTITY"
)

// RelationRule describes the direction of a relationship kind: which entity
// types may appear as subject and object. A nil list accepts every type.
type RelationRule struct {
	Kind        RelationKind `json:"kind"`
	Description string       `json:"description"`
	Subjects    []EntityType `json:"subjects"`
	Objects     []EntityType `json:"objects"`
}

var (
	compounds  = []EntityType{EntityChemical, EntityMetabolite}
	molecules  = []EntityType{EntityChemical, EntityMetabolite, EntityProtein, EntityEnzyme, EntityGene}
	producers  = []EntityType{EntityOrganism, EntityEnzyme, EntityProtein, EntityGene}
	processors = []EntityType{EntityOrganism, EntityEnzyme, EntityProtein}
)

var relationRules = []RelationRule{
	{
		Kind:        RelationIsolatedFrom,
		Description: "the compound (subject) was isolated from the organism (object)",
		Subjects:    molecules,
		Objects:     []EntityType{EntityOrganism},
	},
	{
		Kind:        RelationMetaboliteOf,
		Description: "the metabolite (subject) is derived from the parent compound or organism (object)",
		Subjects:    compounds,
		Objects:     []EntityType{EntityChemical, EntityMetabolite, EntityOrganism},
	},
	{
		Kind:        RelationProduces,
		Description: "the organism or enzyme (subject) produces the compound (object)",
		Subjects:    producers,
		Objects:     []EntityType{EntityChemical, EntityMetabolite, EntityProtein, EntityEnzyme},
	},
	{
		Kind:        RelationDegradedBy,
		Description: "the compound (subject) is degraded by the organism or enzyme (object)",
		Subjects:    []EntityType{EntityChemical, EntityMetabolite, EntityProtein},
		Objects:     processors,
	},
	{
		Kind:        RelationBiosynthesizedBy,
		Description: "the compound (subject) is biosynthesized by the organism, enzyme or gene (object)",
		Subjects:    []EntityType{EntityChemical, EntityMetabolite, EntityProtein},
		Objects:     producers,
	},
	{
		Kind:        RelationInhibits,
		Description: "the compound or protein (subject) inhibits the target (object)",
		Subjects:    molecules,
		Objects:     nil,
	},
	{
		Kind:        RelationPrecursorOf,
		Description: "the precursor compound (subject) is converted into the product compound (object)",
		Subjects:    compounds,
		Objects:     compounds,
	},
	{
		Kind:        RelationUptakenBy,
		Description: "the compound (subject) is taken up by the organism or transporter (object)",
		Subjects:    compounds,
		Objects:     []EntityType{EntityOrganism, EntityProtein},
	},
	{
		Kind:        RelationModifies,
		Description: "the enzyme, protein or organism (subject) chemically modifies the molecule (object)",
		Subjects:    []EntityType{EntityEnzyme, EntityProtein, EntityOrganism, EntityGene},
		Objects:     []EntityType{EntityChemical, EntityMetabolite, EntityProtein},
	},
	{
		Kind:        RelationSequesters,
		Description: "the organism or protein (subject) sequesters the compound (object)",
		Subjects:    []EntityType{EntityOrganism, EntityProtein},
		Objects:     compounds,
	},
	{
		Kind:        RelationContains,
		Description: "the organism (subject) contains the compound or molecule (object)",
		Subjects:    []EntityType{EntityOrganism},
		Objects:     molecules,
	},
}

var entityTypes = []EntityType{
	EntityOrganism,
	EntityChemical,
	EntityMetabolite,
	EntityProtein,
	EntityEnzyme,
	EntityGene,
	EntityDisease,
	EntityGeneric,
}

// RelationKinds returns every kind of the enumeration in declaration order.
func RelationKinds() []RelationKind {
	kinds := make([]RelationKind, len(relationRules))
	for i, r := range relationRules {
		kinds[i] = r.Kind
	}
	return kinds
}

// RelationRules returns a copy of the direction rules.
func RelationRules() []RelationRule {
	return slices.Clone(relationRules)
}

// EntityTypes returns every entity type of the enumeration.
func EntityTypes() []EntityType {
	return slices.Clone(entityTypes)
}

// Valid reports whether k is a member of the enumeration.
func (k RelationKind) Valid() bool {
	_, ok := k.Rule()
	return ok
}

// Rule returns the direction rule of k.
func (k RelationKind) Rule() (RelationRule, bool) {
	for _, r := range relationRules {
		if r.Kind == k {
			return r, true
		}
	}
	return RelationRule{}, false
}

// JSONSchema restricts the kind to the enumeration in generated schemas.
func (RelationKind) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(relationRules))
	for i, r := range relationRules {
		enum[i] = string(r.Kind)
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Relationship type",
	}
}

// ParseRelationKind normalizes s ("produces", "Isolated From") and checks it
// against the enumeration.
func ParseRelationKind(s string) (RelationKind, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	k := RelationKind(norm)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown relation %q", ErrSchemaViolation, s)
	}
	return k, nil
}

// Valid reports whether t is a member of the enumeration.
func (t EntityType) Valid() bool {
	return slices.Contains(entityTypes, t)
}

// JSONSchema restricts the type to the enumeration in generated schemas.
func (EntityType) JSONSchema() *jsonschema.Schema {
	enum := make([]any, len(entityTypes))
	for i, t := range entityTypes {
		enum[i] = string(t)
	}
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Entity type",
	}
}

// ParseEntityType normalizes s and maps unknown values to EntityGeneric.
func ParseEntityType(s string) EntityType {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return EntityGeneric
}

func roleAccepts(allowed []EntityType, t EntityType) bool {
	if allowed == nil || t == EntityGeneric || t == "" {
		return true
	}
	return slices.Contains(allowed, t)
}

// Allows reports whether a relationship of this rule may connect a subject
// of type subject to an object of type object.
func (r RelationRule) Allows(subject, object EntityType) bool {
	return roleAccepts(r.Subjects, subject) && roleAccepts(r.Objects, object)
}

// Reversed reports whether the types only fit the rule with subject and
// object swapped.
func (r RelationRule) Reversed(subject, object EntityType) bool {
	return !r.Allows(subject, object) && r.Allows(object, subject)
}
