package kvtab

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Schema is the set of tables an application declares. Declaration happens at
// init time; declaration mistakes panic.
type Schema struct {
	logger  *zap.Logger
	verbose bool
	strict  bool

	tables            []TableInfo
	tablesByLowerName map[string]TableInfo
}

type SchemaOpts struct {
	Logger *zap.Logger
	// Verbose logs every row write and delete at debug level.
	Verbose bool
	// Strict turns recoverable data inconsistencies (partial rows, dangling
	// index pointers) into errors instead of warnings.
	Strict bool
}

func NewSchema(opt SchemaOpts) *Schema {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Schema{
		logger:            opt.Logger.Named("kvtab"),
		verbose:           opt.Verbose,
		strict:            opt.Strict,
		tablesByLowerName: make(map[string]TableInfo),
	}
}

// SetLogger replaces the logger; the composition root calls it once the logger is built.
func (scm *Schema) SetLogger(logger *zap.Logger) {
	scm.logger = logger.Named("kvtab")
}

func (scm *Schema) SetVerbose(v bool) {
	scm.verbose = v
}

func (scm *Schema) SetStrict(v bool) {
	scm.strict = v
}

func (scm *Schema) Tables() []TableInfo {
	return append([]TableInfo(nil), scm.tables...)
}

func (scm *Schema) TableNamed(name string) TableInfo {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

func (scm *Schema) addTable(tbl TableInfo) {
	lower := strings.ToLower(tbl.Name())
	if scm.tablesByLowerName[lower] != nil {
		panic(fmt.Errorf("duplicate table %s", tbl.Name()))
	}
	scm.tables = append(scm.tables, tbl)
	scm.tablesByLowerName[lower] = tbl
}

// TableInfo is the untyped view of a table used by tooling.
type TableInfo interface {
	Name() string
	Columns() []ColumnInfo
	PrimaryKey() []ColumnInfo
	Indices() []IndexInfo
	// Keyspace returns the table's keyspace under base.
	Keyspace(base Keyspace) Keyspace
}

type ColumnInfo interface {
	Name() string
	Tag() uint16
	IsKey() bool
}

type IndexInfo interface {
	Name() string
	Column() ColumnInfo
	IsUnique() bool
}
