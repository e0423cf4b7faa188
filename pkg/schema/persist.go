package schema

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

// On-disk layout: magic "SCIX", format version u16, fingerprint (32
// bytes), section count u16, then (section_id u16, length u64, bytes)*.
// Everything little-endian. Unknown section ids are skipped so newer
// writers stay readable.
const (
	fileMagic     = "SCIX"
	formatVersion = uint16(1)
)

// Section identifiers.
const (
	secMeta        = uint16(1)
	secTables      = uint16(2)
	secColumns     = uint16(3)
	secConstraints = uint16(4)
	secIndexes     = uint16(5)
	secDeps        = uint16(6)
	secPLSQL       = uint16(7)
	secUDTs        = uint16(8)
	secNameIndex   = uint16(9)
	secColumnIndex = uint16(10)
)

// Snapshot is the serializable view of one complete cache state.
type Snapshot struct {
	Schema     string
	Version    string
	Generation time.Time
	Tables     []*TableRecord
	PLSQL      []*PLSQLObject
	Types      []*UserDefinedType
	Deps       *Graph
}

// Store persists snapshots under a cache directory, one file per
// fingerprint, written with the temp-file-plus-rename pattern. Writers
// within a process serialize on the store mutex; cross-process writers
// coordinate through a best-effort advisory flock.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the cache directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, connector.Wrap(connector.CodeInternal, err, "creating cache directory")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(fp Fingerprint) string {
	return filepath.Join(s.dir, fp.Hex()+".idx")
}

// Save writes a snapshot atomically. Readers of the previous file keep
// the previous complete state until the rename lands.
func (s *Store) Save(fp Fingerprint, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(fp)
	if err == nil {
		defer unlock()
	}

	payload := encodeSnapshot(fp, snap)

	tmp, err := os.CreateTemp(s.dir, fp.Hex()+".idx.tmp.*")
	if err != nil {
		return connector.Wrap(connector.CodeInternal, err, "creating temp cache file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return connector.Wrap(connector.CodeInternal, err, "writing cache file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return connector.Wrap(connector.CodeInternal, err, "syncing cache file")
	}
	if err := tmp.Close(); err != nil {
		return connector.Wrap(connector.CodeInternal, err, "closing cache file")
	}
	if err := os.Rename(tmpName, s.path(fp)); err != nil {
		return connector.Wrap(connector.CodeInternal, err, "publishing cache file")
	}
	return nil
}

// Load reads the snapshot for a fingerprint. A missing file returns
// (nil, nil); a corrupt file returns a cache_corrupt error the caller
// treats as absent.
func (s *Store) Load(fp Fingerprint) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(fp))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, connector.Wrap(connector.CodeInternal, err, "reading cache file")
	}
	snap, err := decodeSnapshot(fp, data)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// flock takes a best-effort exclusive advisory lock alongside the cache
// file.
func (s *Store) flock(fp Fingerprint) (func(), error) {
	f, err := os.OpenFile(s.path(fp)+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}

func corrupt(format string, args ...any) error {
	return connector.Errorf(connector.CodeCacheCorrupt, format, args...)
}

// --- encoding ---

type encoder struct{ buf bytes.Buffer }

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16) { e.raw(binary.LittleEndian.AppendUint16(nil, v)) }
func (e *encoder) u32(v uint32) { e.raw(binary.LittleEndian.AppendUint32(nil, v)) }
func (e *encoder) u64(v uint64) { e.raw(binary.LittleEndian.AppendUint64(nil, v)) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) raw(b []byte) { e.buf.Write(b) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) strs(ss []string) {
	e.u16(uint16(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.b) {
		d.err = corrupt("truncated record at offset %d", d.off)
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) boolean() bool { return d.u8() == 1 }

func (d *decoder) str() string {
	n := int(d.u32())
	if !d.need(n) {
		return ""
	}
	s := string(d.b[d.off : d.off+n])
	d.off += n
	return s
}

func (d *decoder) strs() []string {
	n := int(d.u16())
	out := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.str())
	}
	return out
}

// section buffers one section as a length-prefixed record stream.
type section struct {
	id      uint16
	records [][]byte
}

func (s *section) add(rec *encoder) {
	s.records = append(s.records, rec.buf.Bytes())
}

func (s *section) payload() []byte {
	var e encoder
	e.u32(uint32(len(s.records)))
	for _, rec := range s.records {
		e.u32(uint32(len(rec)))
		e.raw(rec)
	}
	return e.buf.Bytes()
}

func encodeSnapshot(fp Fingerprint, snap *Snapshot) []byte {
	sections := []*section{
		encodeMeta(snap),
		encodeTables(snap.Tables),
		encodeColumns(snap.Tables),
		encodeConstraints(snap.Tables),
		encodeIndexes(snap.Tables),
		encodeDeps(snap.Deps),
		encodePLSQL(snap.PLSQL),
		encodeUDTs(snap.Types),
		encodeNameIndex(snap.Tables),
		encodeColumnIndex(snap.Tables),
	}

	var out encoder
	out.raw([]byte(fileMagic))
	out.u16(formatVersion)
	out.raw(fp[:])
	out.u16(uint16(len(sections)))
	for _, sec := range sections {
		payload := sec.payload()
		out.u16(sec.id)
		out.u64(uint64(len(payload)))
		out.raw(payload)
	}
	return out.buf.Bytes()
}

func encodeMeta(snap *Snapshot) *section {
	sec := &section{id: secMeta}
	var e encoder
	e.str(snap.Schema)
	e.str(snap.Version)
	e.i64(snap.Generation.UnixNano())
	sec.add(&e)
	return sec
}

func encodeTables(tables []*TableRecord) *section {
	sec := &section{id: secTables}
	for _, t := range tables {
		var e encoder
		e.str(t.Schema)
		e.str(t.Name)
		e.str(string(t.Kind))
		e.str(t.Comment)
		e.i64(t.LastDDL.UnixNano())
		e.boolean(t.fullyLoaded)
		sec.add(&e)
	}
	return sec
}

func encodeColumns(tables []*TableRecord) *section {
	sec := &section{id: secColumns}
	for _, t := range tables {
		for _, c := range t.Columns {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.str(c.Name)
			e.u16(uint16(c.Position))
			e.str(c.DataType)
			e.boolean(c.Nullable)
			e.str(c.DefaultExpr)
			e.str(c.Comment)
			sec.add(&e)
		}
	}
	return sec
}

func encodeConstraints(tables []*TableRecord) *section {
	sec := &section{id: secConstraints}
	for _, t := range tables {
		if len(t.PrimaryKey) > 0 {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.u8('P')
			e.str("")
			e.strs(t.PrimaryKey)
			sec.add(&e)
		}
		for _, uk := range t.UniqueKeys {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.u8('U')
			e.str("")
			e.strs(uk)
			sec.add(&e)
		}
		for _, fk := range t.ForeignKeys {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.u8('R')
			e.str(fk.Name)
			e.strs(fk.LocalColumns)
			e.str(fk.TargetSchema)
			e.str(fk.TargetTable)
			e.strs(fk.TargetColumns)
			e.str(fk.OnDelete)
			e.boolean(fk.Deferrable)
			e.boolean(fk.Enabled)
			e.boolean(fk.External)
			sec.add(&e)
		}
		for _, ck := range t.CheckConstraints {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.u8('C')
			e.str(ck.Name)
			e.strs(nil)
			e.str(ck.Condition)
			sec.add(&e)
		}
	}
	return sec
}

func encodeIndexes(tables []*TableRecord) *section {
	sec := &section{id: secIndexes}
	for _, t := range tables {
		for _, idx := range t.Indexes {
			var e encoder
			e.str(t.Schema)
			e.str(t.Name)
			e.str(idx.Name)
			e.boolean(idx.Unique)
			e.str(idx.Type)
			e.u16(uint16(len(idx.Columns)))
			for _, col := range idx.Columns {
				e.str(col.Name)
				e.str(col.Descend)
			}
			sec.add(&e)
		}
	}
	return sec
}

func encodeDeps(g *Graph) *section {
	sec := &section{id: secDeps}
	if g == nil {
		return sec
	}
	g.Edges(func(from, to ObjectRef) {
		var e encoder
		e.str(from.Schema)
		e.str(from.Name)
		e.str(from.Kind)
		e.str(to.Schema)
		e.str(to.Name)
		e.str(to.Kind)
		sec.add(&e)
	})
	return sec
}

func encodePLSQL(objs []*PLSQLObject) *section {
	sec := &section{id: secPLSQL}
	for _, o := range objs {
		var e encoder
		e.str(o.Schema)
		e.str(o.Name)
		e.str(o.Kind)
		e.str(o.Status)
		e.i64(o.LastDDL.UnixNano())
		e.boolean(o.SourceAvailable)
		sec.add(&e)
	}
	return sec
}

func encodeUDTs(types []*UserDefinedType) *section {
	sec := &section{id: secUDTs}
	for _, t := range types {
		var e encoder
		e.str(t.Schema)
		e.str(t.Name)
		e.str(t.Typecode)
		e.u16(uint16(len(t.Attributes)))
		for _, a := range t.Attributes {
			e.str(a.Name)
			e.str(a.DataType)
			e.u16(uint16(a.Position))
		}
		sec.add(&e)
	}
	return sec
}

// encodeNameIndex and encodeColumnIndex serialize the derived lookup
// structures. Loaders rebuild both from the entity sections; the sections
// exist for external tooling and stay skippable.
func encodeNameIndex(tables []*TableRecord) *section {
	sec := &section{id: secNameIndex}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, strings.ToUpper(t.Name))
	}
	sort.Strings(names)
	var e encoder
	e.strs(names)
	sec.add(&e)
	return sec
}

func encodeColumnIndex(tables []*TableRecord) *section {
	sec := &section{id: secColumnIndex}
	byColumn := map[string][]string{}
	for _, t := range tables {
		for _, c := range t.Columns {
			cu := strings.ToUpper(c.Name)
			byColumn[cu] = append(byColumn[cu], strings.ToUpper(t.Schema)+"."+strings.ToUpper(t.Name))
		}
	}
	cols := make([]string, 0, len(byColumn))
	for c := range byColumn {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		var e encoder
		e.str(c)
		e.strs(byColumn[c])
		sec.add(&e)
	}
	return sec
}

// --- decoding ---

func decodeSnapshot(fp Fingerprint, data []byte) (*Snapshot, error) {
	d := &decoder{b: data}
	if !d.need(len(fileMagic)) || string(d.b[:len(fileMagic)]) != fileMagic {
		return nil, corrupt("bad magic")
	}
	d.off = len(fileMagic)
	if v := d.u16(); v != formatVersion {
		return nil, corrupt("unsupported format version %d", v)
	}
	if !d.need(32) {
		return nil, corrupt("truncated fingerprint")
	}
	var stored Fingerprint
	copy(stored[:], d.b[d.off:d.off+32])
	d.off += 32
	if stored != fp {
		return nil, corrupt("fingerprint mismatch")
	}

	snap := &Snapshot{Deps: NewGraph()}
	tablesByKey := map[string]*TableRecord{}

	sectionCount := int(d.u16())
	for i := 0; i < sectionCount && d.err == nil; i++ {
		id := d.u16()
		length := int(d.u64())
		if !d.need(length) {
			return nil, corrupt("truncated section %d", id)
		}
		body := d.b[d.off : d.off+length]
		d.off += length

		if err := decodeSection(id, body, snap, tablesByKey); err != nil {
			return nil, err
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return snap, nil
}

// decodeSection dispatches one section body. Unknown and derived ids are
// skipped without parsing, for forward compatibility.
func decodeSection(id uint16, body []byte, snap *Snapshot, tablesByKey map[string]*TableRecord) error {
	switch id {
	case secMeta, secTables, secColumns, secConstraints, secIndexes, secDeps, secPLSQL, secUDTs:
	default:
		return nil
	}
	records, err := splitRecords(body)
	if err != nil {
		return err
	}
	for _, rec := range records {
		d := &decoder{b: rec}
		switch id {
		case secMeta:
			snap.Schema = d.str()
			snap.Version = d.str()
			snap.Generation = time.Unix(0, d.i64()).UTC()
		case secTables:
			t := &TableRecord{}
			t.Schema = d.str()
			t.Name = d.str()
			t.Kind = RelationKind(d.str())
			t.Comment = d.str()
			t.LastDDL = time.Unix(0, d.i64()).UTC()
			t.fullyLoaded = d.boolean()
			snap.Tables = append(snap.Tables, t)
			tablesByKey[snapKey(t.Schema, t.Name)] = t
		case secColumns:
			schema, name := d.str(), d.str()
			col := ColumnRecord{}
			col.Name = d.str()
			col.Position = int(d.u16())
			col.DataType = d.str()
			col.Nullable = d.boolean()
			col.DefaultExpr = d.str()
			col.Comment = d.str()
			t, ok := tablesByKey[snapKey(schema, name)]
			if !ok {
				return corrupt("column for unknown table %s.%s", schema, name)
			}
			t.Columns = append(t.Columns, col)
		case secConstraints:
			if err := decodeConstraint(d, tablesByKey); err != nil {
				return err
			}
		case secIndexes:
			schema, name := d.str(), d.str()
			idx := IndexRecord{}
			idx.Name = d.str()
			idx.Unique = d.boolean()
			idx.Type = d.str()
			n := int(d.u16())
			for j := 0; j < n && d.err == nil; j++ {
				idx.Columns = append(idx.Columns, IndexColumn{Name: d.str(), Descend: d.str()})
			}
			t, ok := tablesByKey[snapKey(schema, name)]
			if !ok {
				return corrupt("index for unknown table %s.%s", schema, name)
			}
			t.Indexes = append(t.Indexes, idx)
		case secDeps:
			from := ObjectRef{Schema: d.str(), Name: d.str(), Kind: d.str()}
			to := ObjectRef{Schema: d.str(), Name: d.str(), Kind: d.str()}
			snap.Deps.Add(from, to)
		case secPLSQL:
			o := &PLSQLObject{}
			o.Schema = d.str()
			o.Name = d.str()
			o.Kind = d.str()
			o.Status = d.str()
			o.LastDDL = time.Unix(0, d.i64()).UTC()
			o.SourceAvailable = d.boolean()
			snap.PLSQL = append(snap.PLSQL, o)
		case secUDTs:
			t := &UserDefinedType{}
			t.Schema = d.str()
			t.Name = d.str()
			t.Typecode = d.str()
			n := int(d.u16())
			for j := 0; j < n && d.err == nil; j++ {
				t.Attributes = append(t.Attributes, TypeAttribute{
					Name: d.str(), DataType: d.str(), Position: int(d.u16()),
				})
			}
			snap.Types = append(snap.Types, t)
		}
		if d.err != nil {
			return d.err
		}
	}
	return nil
}

func decodeConstraint(d *decoder, tablesByKey map[string]*TableRecord) error {
	schema, name := d.str(), d.str()
	kind := d.u8()
	conName := d.str()
	columns := d.strs()
	t, ok := tablesByKey[snapKey(schema, name)]
	if !ok {
		return corrupt("constraint for unknown table %s.%s", schema, name)
	}
	switch kind {
	case 'P':
		t.PrimaryKey = columns
	case 'U':
		t.UniqueKeys = append(t.UniqueKeys, columns)
	case 'R':
		fk := ForeignKeyRecord{Name: conName, LocalColumns: columns}
		fk.TargetSchema = d.str()
		fk.TargetTable = d.str()
		fk.TargetColumns = d.strs()
		fk.OnDelete = d.str()
		fk.Deferrable = d.boolean()
		fk.Enabled = d.boolean()
		fk.External = d.boolean()
		t.ForeignKeys = append(t.ForeignKeys, fk)
	case 'C':
		t.CheckConstraints = append(t.CheckConstraints, CheckRecord{
			Name:      conName,
			Condition: d.str(),
		})
	default:
		return corrupt("unknown constraint kind %q", kind)
	}
	return d.err
}

func splitRecords(body []byte) ([][]byte, error) {
	d := &decoder{b: body}
	count := int(d.u32())
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		n := int(d.u32())
		if !d.need(n) {
			return nil, corrupt("truncated record %d", i)
		}
		out = append(out, d.b[d.off:d.off+n])
		d.off += n
	}
	if d.err != nil {
		return nil, d.err
	}
	return out, nil
}

func snapKey(schema, name string) string {
	return strings.ToUpper(schema) + "." + strings.ToUpper(name)
}

// --- cache integration ---

// snapshot captures the current state under the read lock.
func (c *Cache) snapshot() (Fingerprint, *Snapshot) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{
		Schema:     c.schema,
		Version:    c.version,
		Generation: c.generation,
		Deps:       c.deps,
	}
	keys := make([]string, 0, len(c.tables))
	for k := range c.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Tables = append(snap.Tables, c.tables[k])
	}

	objKeys := make([]string, 0, len(c.plsql))
	for k := range c.plsql {
		objKeys = append(objKeys, k)
	}
	sort.Strings(objKeys)
	for _, k := range objKeys {
		snap.PLSQL = append(snap.PLSQL, c.plsql[k])
	}

	typeKeys := make([]string, 0, len(c.types))
	for k := range c.types {
		typeKeys = append(typeKeys, k)
	}
	sort.Strings(typeKeys)
	for _, k := range typeKeys {
		snap.Types = append(snap.Types, c.types[k])
	}
	return c.fingerprint, snap
}

// persist writes the current state to disk synchronously.
func (c *Cache) persist() {
	if c.store == nil {
		return
	}
	fp, snap := c.snapshot()
	if fp.IsZero() {
		return
	}
	if err := c.store.Save(fp, snap); err != nil {
		c.logger.Warn("cache persist failed", "error", err)
	}
}

// persistAsync schedules a persist off the request path.
func (c *Cache) persistAsync() {
	if c.store == nil {
		return
	}
	go c.persist()
}

// install replaces the whole in-memory state with a loaded snapshot.
func (c *Cache) install(snap *Snapshot, fp Fingerprint, version string, generation time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetTablesLocked()
	for _, rec := range snap.Tables {
		normalizeColumnPositions(rec)
		c.mergeTableLocked(rec)
	}
	c.plsql = map[string]*PLSQLObject{}
	for _, o := range snap.PLSQL {
		c.plsql[plsqlKey(o.Name, o.Kind)] = o
	}
	c.types = map[string]*UserDefinedType{}
	for _, t := range snap.Types {
		c.types[strings.ToUpper(t.Name)] = t
	}
	if snap.Deps != nil {
		c.deps = snap.Deps
	}
	c.dependents = map[string][]ObjectRef{}
	c.sources = map[string]string{}
	c.fingerprint = fp
	c.version = version
	c.generation = generation
	c.lastRefresh.Store(time.Now().Unix())
}
