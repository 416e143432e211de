package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/fatih/structs"
	"github.com/tebeka/atexit"
)

// ClickHouseScheme prefixes the record targets that go to a ClickHouse
// server instead of a SQLite file.
const ClickHouseScheme = "clickhouse://"

var clickHouseTypes = map[reflect.Kind]string{
	reflect.Bool:    "Bool",
	reflect.Int:     "Int64",
	reflect.Int8:    "Int8",
	reflect.Int16:   "Int16",
	reflect.Int32:   "Int32",
	reflect.Int64:   "Int64",
	reflect.Uint:    "UInt64",
	reflect.Uint8:   "UInt8",
	reflect.Uint16:  "UInt16",
	reflect.Uint32:  "UInt32",
	reflect.Uint64:  "UInt64",
	reflect.Float32: "Float32",
	reflect.Float64: "Float64",
	reflect.String:  "String",
}

// createTableQuery returns the MergeTree table definition of an entry type.
// Rows are ordered by the first column.
func createTableQuery(tableName string, sampleEntry any) string {
	t := reflect.TypeOf(sampleEntry)
	columns := make([]string, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		columns = append(columns, f.Name+" "+clickHouseTypes[f.Type.Kind()])
	}

	return "CREATE TABLE IF NOT EXISTS " + tableName + " (\n\t" +
		strings.Join(columns, ",\n\t") + "\n) ENGINE = MergeTree()\nORDER BY " +
		t.Field(0).Name
}

// rowValues returns the field values of an entry. Platform-sized integers are
// widened to the 64-bit column types.
func rowValues(entry any) []any {
	values := structs.Values(entry)
	for i, v := range values {
		switch n := v.(type) {
		case int:
			values[i] = int64(n)
		case uint:
			values[i] = uint64(n)
		}
	}

	return values
}

// ClickHouseWriter records into a ClickHouse server. Entries are buffered and
// sent in batches.
type ClickHouseWriter struct {
	conn clickhouse.Conn

	lock       sync.Mutex
	tables     map[string]*table
	batchSize  int
	entryCount int
}

// NewClickHouse connects to the server named by a DSN such as
// clickhouse://localhost:9000/db?username=default.
func NewClickHouse(dsn string) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", dsn, err)
	}

	opts.DialTimeout = 30 * time.Second

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	w := &ClickHouseWriter{
		conn:      conn,
		tables:    make(map[string]*table),
		batchSize: 100000,
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

// CreateTable creates a table if it does not exist yet.
func (w *ClickHouseWriter) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	query := createTableQuery(tableName, sampleEntry)
	if err := w.conn.Exec(context.Background(), query); err != nil {
		panic(fmt.Errorf("create table %s: %w", tableName, err))
	}

	w.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}
}

// InsertData buffers an entry.
func (w *ClickHouseWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	table, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		panic(fmt.Sprintf("entry of type %s does not fit table %s",
			reflect.TypeOf(entry), tableName))
	}

	table.entries = append(table.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

// ListTables returns the table names in alphabetical order.
func (w *ClickHouseWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	return tables
}

// Flush sends the buffered entries.
func (w *ClickHouseWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *ClickHouseWriter) flush() {
	if w.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for tableName, table := range w.tables {
		if len(table.entries) == 0 {
			continue
		}

		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+tableName)
		if err != nil {
			panic(fmt.Errorf("prepare batch for %s: %w", tableName, err))
		}

		for _, entry := range table.entries {
			if err := batch.Append(rowValues(entry)...); err != nil {
				panic(fmt.Errorf("append to %s: %w", tableName, err))
			}
		}

		if err := batch.Send(); err != nil {
			panic(fmt.Errorf("send batch to %s: %w", tableName, err))
		}

		table.entries = nil
	}

	w.entryCount = 0
}

// Close sends the remaining entries and closes the connection.
func (w *ClickHouseWriter) Close() error {
	w.Flush()

	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("close ClickHouse connection: %w", err)
	}

	return nil
}

// Open creates the recorder of a target. A target with the ClickHouse scheme
// is a server DSN. Anything else is a SQLite database path.
func Open(target string) (DataRecorder, error) {
	if strings.HasPrefix(target, ClickHouseScheme) {
		return NewClickHouse(target)
	}

	return New(target)
}
