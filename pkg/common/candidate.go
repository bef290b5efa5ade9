package common

import "strings"

// MissingFields returns the names of required fields that are empty, plus
// "predicate" when the predicate is not part of the enumeration.
func (c Candidate) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(string(c.SubjectType)) == "" {
		missing = append(missing, "subject_type")
	}
	if !c.Predicate.Valid() {
		missing = append(missing, "predicate")
	}
	if strings.TrimSpace(c.Object) == "" {
		missing = append(missing, "object")
	}
	if strings.TrimSpace(string(c.ObjectType)) == "" {
		missing = append(missing, "object_type")
	}
	return missing
}

// Validate returns a *MissingFieldsError when the candidate is incomplete.
func (c Candidate) Validate() error {
	if missing := c.MissingFields(); len(missing) > 0 {
		return &MissingFieldsError{CandidateID: c.ID, Fields: missing}
	}
	return nil
}
