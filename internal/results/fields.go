package results

// ServiceField is one input a query service asks for.
type ServiceField struct {
	Name    string `json:"name" yaml:"name"`
	Default any    `json:"default,omitempty" yaml:"default"`
}

type FieldValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// NormalizeFieldValues pairs every service field with its supplied value,
// falling back to the field default when the value is missing or empty.
// Output order follows fields.
func NormalizeFieldValues(fields []ServiceField, values map[string]any) []FieldValue {
	out := make([]FieldValue, 0, len(fields))
	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok || v == nil || v == "" {
			v = f.Default
		}
		out = append(out, FieldValue{Name: f.Name, Value: v})
	}
	return out
}
