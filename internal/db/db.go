// Package db writes received records to the MS-SQL endpoint behind the
// diode. Every SQL failure is logged at SEVERE level and swallowed: the
// diode cannot ask the transmit side to resend, so a lost write costs
// one sample and nothing else.
package db

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/wire"

	_ "github.com/denisenkom/go-mssqldb"
)

var log = structlog.New()

// RecorderInfo identifies a recorder in RecordersTbl.
type RecorderInfo struct {
	Model      string
	Addr       string
	UnitID     int
	ConfigFile string
}

// Writer owns the database connection and the reference caches.
// Not safe for concurrent use: the dispatcher is its only caller.
type Writer struct {
	url      string
	user     string
	password string

	db     *sqlx.DB
	cycles int

	tables      map[string]bool
	tagRowID    map[string]int64
	recorderID  map[string]int64
	unitsID     map[string]int64
	alarmTypeID map[string]int64
}

func NewWriter(dbURL, user, password string) *Writer {
	return &Writer{
		url:         dbURL,
		user:        user,
		password:    password,
		tagRowID:    make(map[string]int64),
		recorderID:  make(map[string]int64),
		unitsID:     make(map[string]int64),
		alarmTypeID: make(map[string]int64),
	}
}

// connect opens the connection on first use and re-validates it after.
// Every 60th probe force-closes a live connection so a silently broken
// link is re-established instead of timing out forever.
func (w *Writer) connect() bool {
	w.cycles++
	if w.db != nil && w.db.Ping() == nil {
		if w.cycles < 60 {
			return true
		}
		w.cycles = 0
		w.closeQuiet()
	}

	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(w.user, w.password),
		Host:   w.url,
	}
	db, err := sqlx.Open("sqlserver", u.String())
	if err == nil {
		err = db.Ping()
	}
	if err != nil {
		pkg.Severe(log, "unable to connect to database: "+err.Error(), "url", w.url)
		if db != nil {
			_ = db.Close()
		}
		w.db = nil
		return false
	}
	w.db = db
	w.loadTables()
	w.createSchema()
	return true
}

func (w *Writer) closeQuiet() {
	if w.db != nil {
		log.ErrIfFail(w.db.Close)
		w.db = nil
	}
}

// Close releases the connection. Used at shutdown.
func (w *Writer) Close() {
	w.closeQuiet()
}

func (w *Writer) loadTables() {
	w.tables = make(map[string]bool)
	var names []string
	if err := w.db.Select(&names, `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES`); err != nil {
		pkg.Severe(log, "database error getting table names: "+err.Error())
		return
	}
	for _, name := range names {
		w.tables[name] = true
	}
}

func (w *Writer) tableExists(name string) bool {
	return w.tables[name]
}

var schema = []struct {
	name string
	ddl  string
}{
	{"RecordersTbl", `CREATE TABLE RecordersTbl
		(id INTEGER NOT NULL PRIMARY KEY IDENTITY(1, 1),
		Model VARCHAR(255),
		IPAddress VARCHAR(255),
		UnitID INTEGER,
		ConfigFile VARCHAR(255))`},
	{"UnitsTbl", `CREATE TABLE UnitsTbl
		(id INT NOT NULL PRIMARY KEY IDENTITY(1, 1),
		Units VARCHAR(255))`},
	{"AlarmTypeTbl", `CREATE TABLE AlarmTypeTbl
		(id INT NOT NULL PRIMARY KEY IDENTITY(1, 1),
		Type VARCHAR(255))`},
	{"ListTagsTbl", `CREATE TABLE ListTagsTbl
		(id INT NOT NULL PRIMARY KEY IDENTITY(1, 1),
		TagName VARCHAR(255) NOT NULL,
		Units INT REFERENCES UnitsTbl(id),
		Recorder INT REFERENCES RecordersTbl(id),
		Alarm1Type INT REFERENCES AlarmTypeTbl(id),
		Alarm2Type INT REFERENCES AlarmTypeTbl(id),
		Alarm3Type INT REFERENCES AlarmTypeTbl(id),
		Alarm4Type INT REFERENCES AlarmTypeTbl(id))`},
	{"CurrentValuesTbl", `CREATE TABLE CurrentValuesTbl
		(id INT NOT NULL PRIMARY KEY IDENTITY(1, 1),
		TagName VARCHAR(255) NOT NULL,
		Timestamp DATETIME,
		Value DECIMAL(20,4),
		Alarm1Status INT,
		Alarm2Status INT,
		Alarm3Status INT,
		Alarm4Status INT)`},
}

func (w *Writer) createSchema() {
	for _, t := range schema {
		if w.tableExists(t.name) {
			continue
		}
		if _, err := w.db.Exec(t.ddl); err != nil {
			pkg.Severe(log, "error creating table "+t.name+": "+err.Error())
			continue
		}
		w.tables[t.name] = true
	}
}

// bracket quotes an identifier so arbitrary tag characters survive.
func bracket(name string) string {
	return "[" + name + "]"
}

func alarmArgs(p wire.Point) [4]interface{} {
	var args [4]interface{}
	for i := range args {
		if p.Alarms != nil {
			args[i] = p.Alarms[i]
		}
	}
	return args
}

// AddTagRecord inserts one historical row for the tag, creating the
// per-tag table and its ListTagsTbl entry on first encounter. The
// current-values row is refreshed as well.
func (w *Writer) AddTagRecord(t time.Time, p wire.Point, tag string, rec RecorderInfo, units string, alarmTypes []string) {
	if !w.connect() {
		return
	}
	w.UpdateCurrentValue(tag, p, t)
	quoted := bracket(tag)
	if !w.tableExists(tag) {
		w.createTagTable(quoted)
		w.tables[tag] = true
		w.insertListTagsRow(quoted, rec, units, alarmTypes)
	}
	a := alarmArgs(p)
	_, err := w.db.Exec(`INSERT INTO `+quoted+`(Timestamp, Value, Alarm1Status, Alarm2Status,
		Alarm3Status, Alarm4Status) VALUES(@p1,@p2,@p3,@p4,@p5,@p6)`,
		t, p.Value, a[0], a[1], a[2], a[3])
	if err != nil {
		pkg.Severe(log, "database error adding new data row to "+tag+" table: "+err.Error())
	}
}

func (w *Writer) createTagTable(quoted string) {
	_, err := w.db.Exec(`CREATE TABLE ` + quoted +
		` (id INT NOT NULL PRIMARY KEY IDENTITY(1, 1),
		Timestamp DATETIME,
		Value DECIMAL(20,4),
		Alarm1Status INT,
		Alarm2Status INT,
		Alarm3Status INT,
		Alarm4Status INT)`)
	if err != nil {
		pkg.Severe(log, "database error creating data table for "+quoted+": "+err.Error())
	}
}

func (w *Writer) insertListTagsRow(quoted string, rec RecorderInfo, units string, alarmTypes []string) {
	args := []interface{}{
		quoted,
		w.unitsRef(units),
		w.recorderRef(rec),
	}
	for i := 0; i < 4; i++ {
		typ := "UNUSED"
		if i < len(alarmTypes) && alarmTypes[i] != "" {
			typ = alarmTypes[i]
		}
		args = append(args, w.alarmTypeRef(typ))
	}
	_, err := w.db.Exec(`INSERT INTO ListTagsTbl(TagName, Units, Recorder, Alarm1Type,
		Alarm2Type, Alarm3Type, Alarm4Type) VALUES(@p1,@p2,@p3,@p4,@p5,@p6,@p7)`, args...)
	if err != nil {
		pkg.Severe(log, "database error adding "+quoted+" to ListTagsTbl: "+err.Error())
	}
}

// UpdateCurrentValue refreshes the tag's row in CurrentValuesTbl,
// creating the row lazily on the tag's first appearance.
func (w *Writer) UpdateCurrentValue(tag string, p wire.Point, t time.Time) {
	if !w.connect() {
		return
	}
	quoted := bracket(tag)
	id, ok := w.currentRowID(quoted)
	if !ok {
		return
	}
	a := alarmArgs(p)
	_, err := w.db.Exec(`UPDATE CurrentValuesTbl SET
		Timestamp=@p1, Value=@p2, Alarm1Status=@p3,
		Alarm2Status=@p4, Alarm3Status=@p5, Alarm4Status=@p6
		WHERE id=@p7`,
		t, p.Value, a[0], a[1], a[2], a[3], id)
	if err != nil {
		pkg.Severe(log, "database error updating current values for "+tag+": "+err.Error())
	}
}

func (w *Writer) currentRowID(quoted string) (int64, bool) {
	if id, ok := w.tagRowID[quoted]; ok {
		return id, true
	}
	var id int64
	err := w.db.Get(&id, `SELECT id FROM CurrentValuesTbl WHERE TagName=@p1`, quoted)
	if err != nil {
		_, err = w.db.Exec(`INSERT INTO CurrentValuesTbl(TagName, Value, Alarm1Status,
			Alarm2Status, Alarm3Status, Alarm4Status) VALUES(@p1,NULL,NULL,NULL,NULL,NULL)`, quoted)
		if err != nil {
			pkg.Severe(log, "database error adding tag to CurrentValuesTbl: "+err.Error())
			return 0, false
		}
		if err = w.db.Get(&id, `SELECT id FROM CurrentValuesTbl WHERE TagName=@p1`, quoted); err != nil {
			pkg.Severe(log, "database error getting tag ID: "+err.Error())
			return 0, false
		}
	}
	w.tagRowID[quoted] = id
	return id, true
}

// reference interning: cache hit, else SELECT, else INSERT and re-SELECT.
// A nil return becomes a SQL NULL in ListTagsTbl.

func (w *Writer) unitsRef(units string) interface{} {
	return w.intern(w.unitsID, units,
		`SELECT id FROM UnitsTbl WHERE Units=@p1`,
		`INSERT INTO UnitsTbl(Units) VALUES(@p1)`)
}

func (w *Writer) alarmTypeRef(typ string) interface{} {
	return w.intern(w.alarmTypeID, typ,
		`SELECT id FROM AlarmTypeTbl WHERE Type=@p1`,
		`INSERT INTO AlarmTypeTbl(Type) VALUES(@p1)`)
}

func (w *Writer) intern(cache map[string]int64, value, selQ, insQ string) interface{} {
	if id, ok := cache[value]; ok {
		return id
	}
	var id int64
	if err := w.db.Get(&id, selQ, value); err == nil {
		cache[value] = id
		return id
	}
	if _, err := w.db.Exec(insQ, value); err != nil {
		pkg.Severe(log, "database error interning reference "+value+": "+err.Error())
		return nil
	}
	if err := w.db.Get(&id, selQ, value); err != nil {
		pkg.Severe(log, "database error interning reference "+value+": "+err.Error())
		return nil
	}
	cache[value] = id
	return id
}

func (w *Writer) recorderRef(rec RecorderInfo) interface{} {
	key := fmt.Sprintf("%s|%s|%d", rec.Model, rec.Addr, rec.UnitID)
	if id, ok := w.recorderID[key]; ok {
		return id
	}
	sel := `SELECT id FROM RecordersTbl WHERE Model=@p1 AND IPAddress=@p2 AND UnitID=@p3`
	var id int64
	if err := w.db.Get(&id, sel, rec.Model, rec.Addr, rec.UnitID); err == nil {
		w.recorderID[key] = id
		return id
	}
	_, err := w.db.Exec(`INSERT INTO RecordersTbl(Model, IPAddress, UnitID, ConfigFile)
		VALUES(@p1,@p2,@p3,@p4)`, rec.Model, rec.Addr, rec.UnitID, rec.ConfigFile)
	if err != nil {
		pkg.Severe(log, "database error adding recorder to RecordersTbl: "+err.Error())
		return nil
	}
	if err := w.db.Get(&id, sel, rec.Model, rec.Addr, rec.UnitID); err != nil {
		pkg.Severe(log, "database error getting recorder ID: "+err.Error())
		return nil
	}
	w.recorderID[key] = id
	return id
}

// UpdateModbusRecord appends one historical row for a generic Modbus
// device, one DECIMAL column per tag, and refreshes its current table.
func (w *Writer) UpdateModbusRecord(device string, tags []string, t time.Time, values []float64) {
	if !w.connect() {
		return
	}
	w.UpdateModbusCurrent(device, tags, t, values)
	name := bracket(device)
	if !w.tableExists(device) {
		w.createModbusTable(name, tags)
		w.tables[device] = true
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + name + "(Timestamp")
	for _, tag := range tags {
		sb.WriteString(", " + bracket(tag))
	}
	sb.WriteString(") VALUES(@p1")
	for i := range values {
		fmt.Fprintf(&sb, ",@p%d", i+2)
	}
	sb.WriteString(")")
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, t)
	for _, v := range values {
		args = append(args, v)
	}
	if _, err := w.db.Exec(sb.String(), args...); err != nil {
		pkg.Severe(log, "database error adding new data row to "+device+" table: "+err.Error())
	}
}

// UpdateModbusCurrent rewrites the single row of the device's current
// table, creating table and row on first encounter.
func (w *Writer) UpdateModbusCurrent(device string, tags []string, t time.Time, values []float64) {
	if !w.connect() {
		return
	}
	current := device + " Current"
	name := bracket(current)
	if !w.tableExists(current) {
		w.createModbusTable(name, tags)
		w.tables[current] = true
		w.insertNullCurrentRow(name, tags)
	}
	var sb strings.Builder
	sb.WriteString("UPDATE " + name + " SET Timestamp=@p1")
	for i, tag := range tags {
		fmt.Fprintf(&sb, ", %s=@p%d", bracket(tag), i+2)
	}
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, t)
	for _, v := range values {
		args = append(args, v)
	}
	if _, err := w.db.Exec(sb.String(), args...); err != nil {
		pkg.Severe(log, "database error updating current values for "+current+": "+err.Error())
	}
}

func (w *Writer) createModbusTable(name string, tags []string) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE " + name +
		" (id INT NOT NULL PRIMARY KEY IDENTITY(1, 1), Timestamp DATETIME")
	for _, tag := range tags {
		sb.WriteString(", " + bracket(tag) + " DECIMAL(20,4)")
	}
	sb.WriteString(")")
	if _, err := w.db.Exec(sb.String()); err != nil {
		pkg.Severe(log, "database error creating data table for "+name+": "+err.Error())
	}
}

func (w *Writer) insertNullCurrentRow(name string, tags []string) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + name + "(Timestamp")
	for _, tag := range tags {
		sb.WriteString(", " + bracket(tag))
	}
	sb.WriteString(") VALUES(NULL")
	for range tags {
		sb.WriteString(",NULL")
	}
	sb.WriteString(")")
	if _, err := w.db.Exec(sb.String()); err != nil {
		pkg.Severe(log, "database error seeding current row for "+name+": "+err.Error())
	}
}
