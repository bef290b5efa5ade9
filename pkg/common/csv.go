package common

import (
	"encoding/csv"
	"io"
)

// WriteEdgesCSV writes edges as Subject,SubjectType,Relationship,Object,ObjectType rows.
func WriteEdgesCSV(w io.Writer, edges []Edge) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Subject", "SubjectType", "Relationship", "Object", "ObjectType"}); err != nil {
		return err
	}
	for _, e := range edges {
		row := []string{e.Subject, string(e.SubjectType), string(e.Relation), e.Object, string(e.ObjectType)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
