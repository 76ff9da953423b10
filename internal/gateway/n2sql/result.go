package n2sql

import "github.com/tidwall/gjson"

// Result is the raw backend response body. Shape detection works on the raw
// bytes rather than a decoded map so that record key order — which defines
// the column order when the backend sends no explicit column list — is
// preserved.
type Result struct {
	Raw []byte
}

// Table is the recognized tabular shape of a result. Cell values are
// stringified verbatim from the JSON source (null and missing become "").
type Table struct {
	Columns []string
	Rows    [][]string

	// Total is the row count of the full result. It honors an explicit
	// "rowcount" field over len(Rows), so it stays truthful even when the
	// backend itself truncated the row list.
	Total int
}

// RowTotal returns the full-result row count, or 0 when the payload has no
// recognized tabular shape.
func (r *Result) RowTotal() int {
	t, ok := Detect(r.Raw)
	if !ok {
		return 0
	}
	return t.Total
}

// SQL returns the backend-reported generated query text, or "" when absent.
// The backend has used several field names for it over time.
func (r *Result) SQL() string {
	root := gjson.ParseBytes(r.Raw)
	for _, field := range []string{"sql", "generated_sql", "sql_text"} {
		if v := root.Get(field); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// Detect matches raw against the known tabular shapes, in priority order:
//
//  1. {"columns": [...], "rows": [[...]|{...}, ...]}
//  2. {"rows": [{...}|[...], ...]} — columns default to the first record's keys
//  3. {"data": [{...}, ...]} — columns default to the first record's keys
//
// The first matching shape wins. ok is false for everything else, including
// non-object payloads; callers fall back to a raw rendering.
func Detect(raw []byte) (t *Table, ok bool) {
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, false
	}

	cols := root.Get("columns")
	rows := root.Get("rows")
	data := root.Get("data")

	switch {
	case cols.Exists() && rows.Exists():
		t = &Table{Columns: columnNames(cols)}
		arr := rows.Array()
		if len(arr) > 0 && arr[0].IsObject() {
			if len(t.Columns) == 0 {
				t.Columns = recordKeys(arr[0])
			}
			t.Rows = recordRows(arr, t.Columns)
		} else {
			t.Rows = arrayRows(arr)
		}

	case rows.IsArray() && len(rows.Array()) > 0:
		arr := rows.Array()
		switch {
		case arr[0].IsObject():
			t = &Table{Columns: recordKeys(arr[0])}
			t.Rows = recordRows(arr, t.Columns)
		case arr[0].IsArray():
			t = &Table{Rows: arrayRows(arr)}
		default:
			return nil, false
		}

	case data.IsArray() && len(data.Array()) > 0 && data.Array()[0].IsObject():
		arr := data.Array()
		t = &Table{Columns: recordKeys(arr[0])}
		t.Rows = recordRows(arr, t.Columns)

	default:
		return nil, false
	}

	t.Total = len(t.Rows)
	if rc := root.Get("rowcount"); rc.Type == gjson.Number {
		t.Total = int(rc.Int())
	}
	return t, true
}

// columnNames stringifies an explicit column list, skipping nulls.
func columnNames(cols gjson.Result) []string {
	if !cols.IsArray() {
		return nil
	}
	var names []string
	cols.ForEach(func(_, c gjson.Result) bool {
		if c.Type != gjson.Null {
			names = append(names, cellString(c))
		}
		return true
	})
	return names
}

// recordKeys returns a record's keys in document order.
func recordKeys(rec gjson.Result) []string {
	var keys []string
	rec.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.Str)
		return true
	})
	return keys
}

// recordRows projects each record onto the column list; missing keys render
// as "".
func recordRows(records []gjson.Result, columns []string) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		values := make(map[string]string, len(columns))
		rec.ForEach(func(k, v gjson.Result) bool {
			values[k.Str] = cellString(v)
			return true
		})
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = values[col]
		}
		rows = append(rows, row)
	}
	return rows
}

// arrayRows stringifies array-of-arrays rows. A non-array element becomes a
// single-cell row rather than being dropped.
func arrayRows(elements []gjson.Result) [][]string {
	rows := make([][]string, 0, len(elements))
	for _, el := range elements {
		if !el.IsArray() {
			rows = append(rows, []string{cellString(el)})
			continue
		}
		var row []string
		el.ForEach(func(_, v gjson.Result) bool {
			row = append(row, cellString(v))
			return true
		})
		rows = append(rows, row)
	}
	return rows
}

// cellString renders one JSON value for table output. Strings are unquoted,
// null is empty, and everything else (numbers, booleans, nested structures)
// keeps its source text.
func cellString(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	default:
		return v.Raw
	}
}
