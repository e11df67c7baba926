package migrate

import (
	migrator "github.com/PrimeRin/schema-migrator"
	"github.com/PrimeRin/schema-migrator/schema"
)

func CreateComments() migrator.Unit {
	return migrator.NewUnit(
		20240202102018,
		"create comments",
		[]schema.Operation{
			// post_id and event_id are plain integers, no foreign keys.
			schema.CreateTable{
				Name: "comments",
				Columns: []schema.Column{
					{Name: "post_id", Type: schema.Integer},
					{Name: "event_id", Type: schema.Integer},
				},
				Timestamps: true,
			},
		},
		migrator.Reversible(),
	)
}
