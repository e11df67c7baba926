package migrate

import (
	migrator "github.com/PrimeRin/schema-migrator"
	"github.com/PrimeRin/schema-migrator/schema"
)

// CreateJoinTableStudentsCourses links students and courses, indexed in both
// directions.
func CreateJoinTableStudentsCourses() migrator.Unit {
	return migrator.NewUnit(
		20240126114930,
		"create join table students courses",
		[]schema.Operation{
			schema.CreateJoinTable{
				TableA: "students",
				TableB: "courses",
				Indexes: []schema.Index{
					{Columns: []string{"student_id", "course_id"}},
					{Columns: []string{"course_id", "student_id"}},
				},
			},
		},
		migrator.Reversible(),
	)
}
