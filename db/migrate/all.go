// Package migrate holds the application's schema migrations.
package migrate

import migrator "github.com/PrimeRin/schema-migrator"

// All returns every application migration in ID order. New migrations are
// appended here.
func All() []migrator.Unit {
	return []migrator.Unit{
		CreateJoinTableStudentsCourses(),
		CreateComments(),
	}
}
