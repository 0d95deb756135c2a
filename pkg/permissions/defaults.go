package permissions

// DefaultTree returns the built-in permission tree.
//
// Students and classrooms are administered by SchoolAdmin; schools, which
// decide which classrooms belong where, require SuperAdmin. Each entity's
// reference fields carry their own sub-layers so field-level checks can be
// tightened independently of the parent.
func DefaultTree() *Layer {
	return &Layer{
		Children: map[string]*Layer{
			"student": {
				Overrides: map[string]Override{
					"_default":     {AnyoneCan: ActionNone},
					"_SchoolAdmin": {AnyoneCan: ActionCreate},
				},
				Children: map[string]*Layer{
					"classroom": {
						Overrides: map[string]Override{
							"_default":     {AnyoneCan: ActionNone},
							"_SchoolAdmin": {AnyoneCan: ActionCreate},
						},
					},
				},
			},
			"classroom": {
				Overrides: map[string]Override{
					"_default":     {AnyoneCan: ActionNone},
					"_SchoolAdmin": {AnyoneCan: ActionCreate},
				},
				Children: map[string]*Layer{
					"student": {
						Overrides: map[string]Override{
							"_default":     {AnyoneCan: ActionNone},
							"_SchoolAdmin": {AnyoneCan: ActionCreate},
						},
					},
				},
			},
			"school": {
				Overrides: map[string]Override{
					"_default":    {AnyoneCan: ActionNone},
					"_SuperAdmin": {AnyoneCan: ActionCreate},
				},
				Children: map[string]*Layer{
					"classroom": {
						Overrides: map[string]Override{
							"_default":    {AnyoneCan: ActionNone},
							"_SuperAdmin": {AnyoneCan: ActionCreate},
						},
					},
				},
			},
		},
	}
}

// FieldLayers maps each governed module's payload fields to the sub-layer that
// governs them. Write requests check the layer of every field present in the
// body; fields without a configured layer are not checked.
var FieldLayers = map[string]map[string]string{
	"student": {
		"name":       "student",
		"classrooms": "student.classroom",
	},
	"classroom": {
		"name":     "classroom",
		"students": "classroom.student",
	},
	"school": {
		"name":       "school",
		"classrooms": "school.classroom",
	},
}
