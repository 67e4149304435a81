package metadata

import "strings"

// SectionDefinition is one catalog entry from secciones. Schema is derived
// from the whitelist when the definition is loaded; it is empty when the
// name has no mapping.
type SectionDefinition struct {
	ID          int64  `json:"id_seccion"`
	Name        string `json:"nombre"`
	UserType    string `json:"tipo_usuario"`
	Description string `json:"descripcion"`
	Schema      string `json:"-"`
}

// AppliesTo reports whether a user of userType may add this section.
// An empty definition user type applies to everyone.
func (d SectionDefinition) AppliesTo(userType string) bool {
	return d.UserType == "" || strings.EqualFold(d.UserType, userType)
}

// SchemaTarget is a whitelist entry: the physical table holding data for a
// section type and the rules its records must satisfy.
type SchemaTarget struct {
	Table string
	Rules []*Rule
}

// NormalizeSectionName is the key used for whitelist lookups.
func NormalizeSectionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultSchemas returns the closed name→table whitelist. Several names map
// to the same table to cover the catalog's English and Spanish spellings.
func DefaultSchemas() map[string]SchemaTarget {
	about := SchemaTarget{Table: "about_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "headline", Operator: "required", Message: "headline is required"},
		{Type: RuleField, Field: "headline", Operator: "max_length", Value: 200},
	}}
	education := SchemaTarget{Table: "education_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "institucion", Operator: "max_length", Value: 200},
		{
			Type:       RuleExpression,
			Expression: `record.fecha_inicio != nil && record.fecha_fin != nil && record.fecha_fin < record.fecha_inicio`,
			Message:    "fecha_fin must not be before fecha_inicio",
		},
	}}
	experience := SchemaTarget{Table: "experience_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "empresa", Operator: "max_length", Value: 200},
		{
			Type:       RuleExpression,
			Expression: `record.fecha_inicio != nil && record.fecha_fin != nil && record.fecha_fin < record.fecha_inicio`,
			Message:    "fecha_fin must not be before fecha_inicio",
		},
	}}
	projects := SchemaTarget{Table: "projects_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "url", Operator: "pattern", Value: `^https?://`, Message: "url must be http or https"},
	}}
	skills := SchemaTarget{Table: "skills_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "habilidad", Operator: "required"},
		{
			Type:       RuleExpression,
			Expression: `record.nivel != nil && (record.nivel < 1 || record.nivel > 5)`,
			Message:    "nivel must be between 1 and 5",
		},
	}}
	activity := SchemaTarget{Table: "activity_section_data", Rules: []*Rule{
		{Type: RuleField, Field: "titulo", Operator: "required"},
	}}
	legacy := SchemaTarget{Table: "legacy_widget_section_data"}

	return map[string]SchemaTarget{
		"about":               about,
		"acerca_de":           about,
		"education":           education,
		"educacion":           education,
		"experience":          experience,
		"experiencia":         experience,
		"experiencia_laboral": experience,
		"projects":            projects,
		"project":             projects,
		"proyectos":           projects,
		"skills":              skills,
		"habilidades":         skills,
		"activity":            activity,
		"actividad":           activity,
		"legacy_widget":       legacy,
	}
}
