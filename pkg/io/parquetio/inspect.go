package parquetio

import (
	"fmt"
	"os"

	parquet "github.com/segmentio/parquet-go"
)

// ColumnInfo describes one column: its logical kind and the Parquet type
// it is stored as.
type ColumnInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Physical string `json:"physical"`
	Nullable bool   `json:"nullable"`
}

// FileInfo summarizes a Parquet file.
type FileInfo struct {
	Path           string            `json:"path"`
	Rows           int64             `json:"rows"`
	RowGroups      int               `json:"row_groups"`
	RowGroupRows   []int64           `json:"row_group_rows"`
	Codec          string            `json:"codec,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty"`
	EmbeddedSchema bool              `json:"embedded_schema"`
	Columns        []ColumnInfo      `json:"columns"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Inspect reads only the footer of the file at path.
func Inspect(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	schema, embedded, err := fileSchema(pf)
	if err != nil {
		return nil, err
	}

	info := &FileInfo{
		Path:           path,
		Rows:           pf.NumRows(),
		EmbeddedSchema: embedded,
	}
	for _, rg := range pf.RowGroups() {
		info.RowGroups++
		info.RowGroupRows = append(info.RowGroupRows, rg.NumRows())
	}
	md := pf.Metadata()
	info.CreatedBy = md.CreatedBy
	if len(md.RowGroups) > 0 && len(md.RowGroups[0].Columns) > 0 {
		info.Codec = fmt.Sprint(md.RowGroups[0].Columns[0].MetaData.Codec)
	}
	if len(md.KeyValueMetadata) > 0 {
		info.Metadata = make(map[string]string, len(md.KeyValueMetadata))
		for _, kv := range md.KeyValueMetadata {
			info.Metadata[kv.Key] = kv.Value
		}
	}
	fields := pf.Schema().Fields()
	for i, cs := range schema.Columns {
		ci := ColumnInfo{Name: cs.Name, Kind: cs.Type.String(), Nullable: cs.Nullable}
		if i < len(fields) {
			ci.Physical = fields[i].Type().String()
		}
		info.Columns = append(info.Columns, ci)
	}
	return info, nil
}
