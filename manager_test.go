package schema_migrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/PrimeRin/schema-migrator/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	joinTableID ID = 20240126114930
	commentsID  ID = 20240202102018
)

func joinTableUnit() Unit {
	return NewUnit(joinTableID, "create join table students courses", []schema.Operation{
		schema.CreateJoinTable{
			TableA: "students",
			TableB: "courses",
			Indexes: []schema.Index{
				{Columns: []string{"student_id", "course_id"}},
				{Columns: []string{"course_id", "student_id"}},
			},
		},
	}, Reversible())
}

func commentsUnit() Unit {
	return NewUnit(commentsID, "create comments", []schema.Operation{
		schema.CreateTable{
			Name: "comments",
			Columns: []schema.Column{
				{Name: "post_id", Type: schema.Integer},
				{Name: "event_id", Type: schema.Integer},
			},
			Timestamps: true,
		},
	}, Reversible())
}

func rawUnit(id ID, up string) Unit {
	return NewUnit(id, "raw", []schema.Operation{schema.RawSQL{Up: up}})
}

// newTestDB opens a private in-memory SQLite database on a single connection.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestManager(t *testing.T, db *gorm.DB, units ...Unit) *MigrationManager {
	t.Helper()

	manager, err := NewMigrationsManager(db, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	manager.Register(units...)
	return manager
}

type columnInfo struct {
	Name    string
	Type    string
	NotNull bool `gorm:"column:notnull"`
	PK      int  `gorm:"column:pk"`
}

func tableColumns(t *testing.T, db *gorm.DB, table string) []columnInfo {
	t.Helper()

	var columns []columnInfo
	require.NoError(t, db.Raw(`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table).Scan(&columns).Error)
	return columns
}

func indexColumns(t *testing.T, db *gorm.DB, index string) []string {
	t.Helper()

	var columns []string
	require.NoError(t, db.Raw(`SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index).Scan(&columns).Error)
	return columns
}

func ledgerIDs(t *testing.T, db *gorm.DB) []string {
	t.Helper()

	var ids []string
	require.NoError(t, db.Raw(`SELECT migration_id FROM schema_migrations ORDER BY migration_id`).Scan(&ids).Error)
	return ids
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	manager := newTestManager(t, newTestDB(t), joinTableUnit())

	require.Panics(t, func() { manager.Register(joinTableUnit()) })
	require.Panics(t, func() { manager.Register(Unit{Description: "no id"}) })
}

func TestRegister_KeepsUnitsOrdered(t *testing.T) {
	manager := newTestManager(t, newTestDB(t), commentsUnit(), joinTableUnit())
	require.Equal(t, []ID{joinTableID, commentsID}, unitIDs(manager.Units()))
}

func TestNewMigrationsManager_UnsupportedDialect(t *testing.T) {
	db := newTestDB(t)
	db.Dialector = unsupportedDialector{db.Dialector}

	_, err := NewMigrationsManager(db)
	require.ErrorIs(t, err, schema.ErrUnsupportedDialect)
}

type unsupportedDialector struct{ gorm.Dialector }

func (unsupportedDialector) Name() string { return "sqlserver" }

func TestRun_AppliesApplicationMigrations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, commentsUnit(), joinTableUnit())

	applied, err := manager.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	require.Equal(t, []columnInfo{
		{Name: "student_id", Type: "integer", NotNull: true},
		{Name: "course_id", Type: "integer", NotNull: true},
	}, tableColumns(t, db, "students_courses"))
	require.Equal(t, []string{"student_id", "course_id"},
		indexColumns(t, db, "index_students_courses_on_student_id_and_course_id"))
	require.Equal(t, []string{"course_id", "student_id"},
		indexColumns(t, db, "index_students_courses_on_course_id_and_student_id"))

	require.Equal(t, []columnInfo{
		{Name: "id", Type: "integer", NotNull: true, PK: 1},
		{Name: "post_id", Type: "integer"},
		{Name: "event_id", Type: "integer"},
		{Name: "created_at", Type: "datetime", NotNull: true},
		{Name: "updated_at", Type: "datetime", NotNull: true},
	}, tableColumns(t, db, "comments"))

	require.Equal(t, []string{joinTableID.String(), commentsID.String()}, ledgerIDs(t, db))

	version, err := manager.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, commentsID, version)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	_, err := manager.Run(ctx)
	require.NoError(t, err)

	applied, err := manager.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, applied)
	require.Len(t, ledgerIDs(t, db), 2)
}

func TestRun_TimestampsDefaultAndRefresh(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, commentsUnit())

	_, err := manager.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Exec(`INSERT INTO comments (post_id, updated_at) VALUES (1, '2000-01-01 00:00:00')`).Error)
	require.NoError(t, db.Exec(`UPDATE comments SET post_id = 2`).Error)

	var updatedAt string
	require.NoError(t, db.Raw(`SELECT updated_at FROM comments`).Row().Scan(&updatedAt))
	assert.NotContains(t, updatedAt, "2000-01-01")
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db,
		joinTableUnit(),
		rawUnit(20240201000000, "CREATE TABLE broken ("),
		commentsUnit(),
	)

	applied, err := manager.Run(ctx)
	require.Error(t, err)
	require.Equal(t, 1, applied)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, ID(20240201000000), schemaErr.UnitID)
	assert.Equal(t, OperationError, schemaErr.Kind)
	assert.Equal(t, "CREATE TABLE broken (", schemaErr.Statement)

	require.Equal(t, []string{joinTableID.String()}, ledgerIDs(t, db))
	assert.False(t, db.Migrator().HasTable("comments"))
}

func TestRunTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	applied, err := manager.RunTo(ctx, joinTableID)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	assert.False(t, db.Migrator().HasTable("comments"))

	pending, err := manager.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []ID{commentsID}, unitIDs(pending))
}

func TestRun_AppliesOlderPendingUnit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	require.NoError(t, manager.Apply(ctx, commentsUnit()))

	applied, err := manager.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, []string{joinTableID.String(), commentsID.String()}, ledgerIDs(t, db))
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit())

	_, err := manager.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestApply_IsAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	unit := NewUnit(20240301000000, "half broken", []schema.Operation{
		schema.CreateTable{Name: "widgets", Columns: []schema.Column{{Name: "name", Type: schema.String}}},
		schema.RawSQL{Up: "INSERT INTO missing_table VALUES (1)"},
	})

	err := manager.Apply(ctx, unit)
	require.True(t, IsKind(err, OperationError))

	assert.False(t, db.Migrator().HasTable("widgets"))
	assert.Empty(t, ledgerIDs(t, db))
}

func TestApply_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newTestDB(t))

	require.NoError(t, manager.Apply(ctx, joinTableUnit()))

	err := manager.Apply(ctx, joinTableUnit())
	require.ErrorIs(t, err, ErrAlreadyApplied)
	require.True(t, IsKind(err, LedgerInconsistency))
}

func TestApply_RenderError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	unit := NewUnit(20240301000000, "bad column", []schema.Operation{
		schema.CreateTable{Name: "widgets", Columns: []schema.Column{{Name: "x", Type: "uuid"}}},
	})

	err := manager.Apply(ctx, unit)
	require.ErrorIs(t, err, schema.ErrUnsupportedColumnType)
	require.True(t, IsKind(err, OperationError))
	assert.Empty(t, ledgerIDs(t, db))
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	require.NoError(t, manager.Apply(ctx, joinTableUnit()))
	require.NoError(t, manager.Revert(ctx, joinTableUnit()))

	assert.False(t, db.Migrator().HasTable("students_courses"))
	assert.Empty(t, ledgerIDs(t, db))

	err := manager.Revert(ctx, joinTableUnit())
	require.ErrorIs(t, err, ErrNotApplied)
	require.True(t, IsKind(err, LedgerInconsistency))
}

func TestRevert_Irreversible(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	unit := rawUnit(20240301000000, "CREATE TABLE widgets (name text)")
	require.NoError(t, manager.Apply(ctx, unit))

	err := manager.Revert(ctx, unit)
	require.ErrorIs(t, err, schema.ErrIrreversible)
	require.True(t, IsKind(err, OperationError))

	assert.True(t, db.Migrator().HasTable("widgets"))
	assert.Equal(t, []string{"20240301000000"}, ledgerIDs(t, db))
}

func TestRevert_ExplicitDown(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	unit := NewUnit(20240301000000, "widgets", []schema.Operation{
		schema.RawSQL{Up: "CREATE TABLE widgets (name text)"},
		schema.RawSQL{Up: "CREATE INDEX widgets_name ON widgets (name)"},
	}, WithDown(
		schema.RawSQL{Up: "DROP TABLE widgets"},
		schema.RawSQL{Up: "DROP INDEX widgets_name"},
	))

	require.NoError(t, manager.Apply(ctx, unit))
	require.NoError(t, manager.Revert(ctx, unit))
	assert.False(t, db.Migrator().HasTable("widgets"))
}

func TestApplyRevert_RestoresSchema(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db)

	require.NoError(t, manager.Apply(ctx, joinTableUnit()))
	before := schemaObjects(t, db)

	require.NoError(t, manager.Apply(ctx, commentsUnit()))
	require.NoError(t, manager.Revert(ctx, commentsUnit()))

	require.Equal(t, before, schemaObjects(t, db))
}

func schemaObjects(t *testing.T, db *gorm.DB) []string {
	t.Helper()

	var objects []string
	require.NoError(t, db.Raw(
		`SELECT type || ' ' || name FROM sqlite_master WHERE tbl_name NOT IN ('schema_migrations', 'sqlite_sequence') ORDER BY type, name`,
	).Scan(&objects).Error)
	return objects
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	_, err := manager.Run(ctx)
	require.NoError(t, err)

	reverted, err := manager.Rollback(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, reverted)

	assert.False(t, db.Migrator().HasTable("comments"))
	assert.True(t, db.Migrator().HasTable("students_courses"))
	require.Equal(t, []string{joinTableID.String()}, ledgerIDs(t, db))

	reverted, err = manager.Rollback(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, reverted)
}

func TestDowngrade(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	_, err := manager.Run(ctx)
	require.NoError(t, err)

	reverted, err := manager.Downgrade(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, reverted)

	assert.False(t, db.Migrator().HasTable("comments"))
	assert.False(t, db.Migrator().HasTable("students_courses"))
	assert.Empty(t, ledgerIDs(t, db))

	version, err := manager.Version(ctx)
	require.NoError(t, err)
	require.Zero(t, version)
}

func TestDowngrade_UnknownMigration(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := newTestManager(t, db, joinTableUnit()).Run(ctx)
	require.NoError(t, err)

	_, err = newTestManager(t, db).Downgrade(ctx, 0)
	require.ErrorIs(t, err, ErrUnknownMigration)
	require.True(t, IsKind(err, LedgerInconsistency))
	require.Equal(t, []string{joinTableID.String()}, ledgerIDs(t, db))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := newTestManager(t, db, rawUnit(20240101000000, "CREATE TABLE old (x integer)"), joinTableUnit()).Run(ctx)
	require.NoError(t, err)

	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())
	statuses, err := manager.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, ID(20240101000000), statuses[0].ID)
	assert.Equal(t, StateMissing, statuses[0].State)

	assert.Equal(t, joinTableID, statuses[1].ID)
	assert.Equal(t, StateApplied, statuses[1].State)
	assert.False(t, statuses[1].AppliedAt.IsZero())
	assert.False(t, statuses[1].Modified)

	assert.Equal(t, commentsID, statuses[2].ID)
	assert.Equal(t, StatePending, statuses[2].State)
}

func TestStatus_EmptyDatabase(t *testing.T) {
	manager := newTestManager(t, newTestDB(t), joinTableUnit())

	statuses, err := manager.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, []UnitStatus{{
		ID:          joinTableID,
		Description: "create join table students courses",
		State:       StatePending,
	}}, statuses)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	require.ErrorIs(t, manager.Check(ctx), ErrHasPendingMigrations)

	_, err := manager.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, manager.Check(ctx))
}

func TestCheck_LedgerInconsistencies(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := newTestManager(t, db, joinTableUnit(), commentsUnit()).Run(ctx)
	require.NoError(t, err)

	edited := joinTableUnit()
	edited.Operations = append(edited.Operations, schema.AddIndex{
		Table: "students_courses",
		Index: schema.Index{Columns: []string{"course_id"}},
	})
	manager := newTestManager(t, db, edited)

	err = manager.Check(ctx)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.ErrorIs(t, err, ErrUnknownMigration)
	require.True(t, IsKind(err, LedgerInconsistency))
	require.NotErrorIs(t, err, ErrHasPendingMigrations)

	statuses, err := manager.Status(ctx)
	require.NoError(t, err)
	require.True(t, statuses[0].Modified)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	_, err := manager.Run(ctx)
	require.NoError(t, err)

	snapshot, err := manager.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(commentsID), snapshot.Version)
	assert.Equal(t, []string{"comments", "students_courses"}, snapshot.TableNames())

	expected := schema.NewSnapshot()
	require.NoError(t, expected.ApplyAll(joinTableUnit().Operations))
	require.NoError(t, expected.ApplyAll(commentsUnit().Operations))
	assert.True(t, expected.Equal(snapshot))
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	manager := newTestManager(t, db, joinTableUnit(), commentsUnit())

	require.NoError(t, manager.Apply(ctx, joinTableUnit()))

	planned, err := manager.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	require.Equal(t, commentsID, planned[0].Unit.ID)

	want, err := schema.SQLite.RenderAll(commentsUnit().Operations)
	require.NoError(t, err)
	require.Equal(t, want, planned[0].Statements)

	assert.False(t, db.Migrator().HasTable("comments"))
}

func TestWithLedgerTable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	manager, err := NewMigrationsManager(db,
		WithLogger(zaptest.NewLogger(t)),
		WithLedgerTable("applied_migrations"),
		WithoutLock(),
	)
	require.NoError(t, err)
	manager.Register(joinTableUnit())

	_, err = manager.Run(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("applied_migrations"))
	assert.False(t, db.Migrator().HasTable("schema_migrations"))
}
