package ai

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/invopop/jsonschema"
)

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	tests := []struct {
		name  string
		input string
		want  person
	}{
		{
			name:  "valid json object",
			input: `{"name":"John"}`,
			want:  person{Name: "John"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'John'}`,
			want:  person{Name: "John"},
		},
		{
			name:  "trailing comma",
			input: `{"name":"John",}`,
			want:  person{Name: "John"},
		},
		{
			name:  "missing endbracket",
			input: `{"name":"John`,
			want:  person{Name: "John"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{name: 'John'}"`,
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"John\"\n}\n",
			want:  person{Name: "John"},
		},
		{
			name:  "duplicate leading brace no newlines",
			input: `{ { "name": "John" }`,
			want:  person{Name: "John"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got person
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Name != tc.want.Name || got.Age != tc.want.Age {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	input := `[{name:'A'},{name:'B',}]`
	var got []person
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "B" {
		t.Fatalf("UnmarshalFlexible() got = %+v, want two persons A,B", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	type person struct {
		Name string `json:"name"`
		Age  int    `json:"age,omitempty"`
	}

	var got person
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestUnmarshalFlexible_CodeFence(t *testing.T) {
	type relation struct {
		Entity1  string `json:"entity1"`
		Relation string `json:"relation"`
		Entity2  string `json:"entity2"`
	}

	input := "```json\n{\"entity1\":\"Gonyaulax spinifera\",\"relation\":\"PRODUCES\",\"entity2\":\"yessotoxins\"}\n```"
	var got relation
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if got.Entity1 != "Gonyaulax spinifera" || got.Entity2 != "yessotoxins" {
		t.Fatalf("UnmarshalFlexible() got = %+v", got)
	}
}

func TestUnmarshalFlexible_InvalidFormatSentinel(t *testing.T) {
	type relation struct {
		Entity1 string `json:"entity1"`
	}

	for _, input := range []string{"", "   ", "hello", "[1, 2]"} {
		var got relation
		err := UnmarshalFlexible(input, &got)
		if err == nil {
			t.Fatalf("UnmarshalFlexible(%q) expected error", input)
		}
		if !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("UnmarshalFlexible(%q) error %v does not wrap ErrInvalidFormat", input, err)
		}
	}
}

func TestGenerateSchema_EnumsAndStrictness(t *testing.T) {
	type relation struct {
		Entity1  string              `json:"entity1"`
		Relation common.RelationKind `json:"relation"`
		Type     common.EntityType   `json:"type"`
	}
	type response struct {
		Relationships []relation `json:"relationships"`
		Explanation   string     `json:"explanation"`
	}

	schema, ok := GenerateSchema(&response{}).(*jsonschema.Schema)
	if !ok {
		t.Fatalf("GenerateSchema() returned %T", GenerateSchema(&response{}))
	}
	if schema.AdditionalProperties == nil {
		t.Errorf("expected additionalProperties false")
	}
	if len(schema.Required) != 2 {
		t.Errorf("required = %v, want both fields", schema.Required)
	}

	rels, ok := schema.Properties.Get("relationships")
	if !ok || rels.Items == nil {
		t.Fatalf("relationships property missing or not an array")
	}
	kind, ok := rels.Items.Properties.Get("relation")
	if !ok {
		t.Fatalf("relation property missing")
	}
	if len(kind.Enum) != len(common.RelationKinds()) {
		t.Errorf("relation enum has %d values, want %d", len(kind.Enum), len(common.RelationKinds()))
	}
	typ, ok := rels.Items.Properties.Get("type")
	if !ok || len(typ.Enum) != len(common.EntityTypes()) {
		t.Errorf("entity type enum missing")
	}
}

func TestUnmarshalFlexible_CountryExamples(t *testing.T) {
	type country struct {
		Name      string   `json:"name"`
		Capital   string   `json:"capital"`
		Languages []string `json:"languages"`
	}

	tests := []struct {
		name  string
		input string
		want  country
	}{
		{
			name:  "canada simple stringified",
			input: `"{ \"name\": \"Canada\", \"capital\": \"Ottawa\", \"languages\": [ \"English\", \"French\" ] }"`,
			want:  country{Name: "Canada", Capital: "Ottawa", Languages: []string{"English", "French"}},
		},
		{
			name:  "canada stringified with newlines",
			input: `"{\n  \"name\": \"Canada\",\n  \"capital\": \"Ottawa\",\n  \"languages\": [\"English\", \"French\", \"Other Indigenous Languages (e.g., Cree, Inuktitut)\"]\n  }\n"`,
			want:  country{Name: "Canada", Capital: "Ottawa", Languages: []string{"English", "French", "Other Indigenous Languages (e.g., Cree, Inuktitut)"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got country
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Name != tc.want.Name || got.Capital != tc.want.Capital {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
			if len(got.Languages) != len(tc.want.Languages) {
				t.Fatalf("UnmarshalFlexible() languages length got = %d, want %d", len(got.Languages), len(tc.want.Languages))
			}
			for i := range got.Languages {
				if got.Languages[i] != tc.want.Languages[i] {
					t.Fatalf("UnmarshalFlexible() languages[%d] = %q, want %q", i, got.Languages[i], tc.want.Languages[i])
				}
			}
		})
	}
}
