package relation

import "testing"

func TestAddColumnPositions(t *testing.T) {
	d := New()
	for _, n := range []string{"id", "name", "age"} {
		if _, err := d.AddColumn(Column{Name: n, Type: TypeVarchar}); err != nil {
			t.Fatalf("AddColumn(%s): %v", n, err)
		}
	}
	for i, c := range d.Columns() {
		if c.Position != i+1 {
			t.Errorf("column %s position = %d, want %d", c.Name, c.Position, i+1)
		}
	}
	if d.Column(2).Name != "name" {
		t.Errorf("Column(2) = %s, want name", d.Column(2).Name)
	}
	if d.Column(0) != nil || d.Column(4) != nil {
		t.Error("out of range positions should return nil")
	}
	if d.ColumnByName("NAME") != d.Column(2) {
		t.Error("name lookup should be case-insensitive")
	}
}

func TestAddColumnDuplicate(t *testing.T) {
	d := New()
	d.MustAddColumn("id", TypeInteger)
	if _, err := d.AddColumn(Column{Name: "ID"}); err == nil {
		t.Error("expected duplicate column error")
	}
	if _, err := d.AddColumn(Column{}); err == nil {
		t.Error("expected error for a column without name")
	}
}

func TestKeys(t *testing.T) {
	d := New()
	d.MustAddColumn("id", TypeInteger)
	d.MustAddColumn("code", TypeVarchar)
	if err := d.SetPrimaryKey("id"); err != nil {
		t.Fatal(err)
	}
	if err := d.AddUniqueKey("code"); err != nil {
		t.Fatal(err)
	}
	if err := d.AddUniqueKey("missing"); err == nil {
		t.Error("expected error for unknown unique key column")
	}
	keys := d.KeyColumnSets()
	if len(keys) != 2 || keys[0].Columns[0].Name != "id" || keys[1].Columns[0].Name != "code" {
		t.Errorf("unexpected key sets: %+v", keys)
	}
}

func TestCopyFromAndClone(t *testing.T) {
	src := New()
	src.MustAddColumn("id", TypeInteger)
	src.MustAddColumn("name", TypeVarchar)
	if err := src.SetPrimaryKey("id"); err != nil {
		t.Fatal(err)
	}

	dst := New()
	err := dst.CopyFrom(src, func(c Column) Column {
		c.TypeName = "converted"
		return c
	})
	if err != nil {
		t.Fatal(err)
	}
	if dst.Len() != 2 || dst.Column(2).TypeName != "converted" {
		t.Errorf("unexpected copy: %v", dst.ColumnNames())
	}
	if dst.PrimaryKey() == nil || dst.PrimaryKey().Columns[0] != dst.Column(1) {
		t.Error("primary key should point at the copied column")
	}

	clone := src.Clone()
	if clone.Column(1) == src.Column(1) {
		t.Error("clone should not share column pointers")
	}

	clone.Reset()
	if clone.Len() != 0 || clone.PrimaryKey() != nil {
		t.Error("Reset should drop columns and keys")
	}
	if src.Len() != 2 {
		t.Error("Reset on the clone changed the source")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		decl      string
		want      Type
		precision int
		scale     int
	}{
		{"VARCHAR(50)", TypeVarchar, 50, 0},
		{"nvarchar(max)", TypeVarchar, 0, 0},
		{"int4", TypeInteger, 0, 0},
		{"numeric(10, 2)", TypeNumeric, 10, 2},
		{"timestamp with time zone", TypeTimestamp, 0, 0},
		{"datetime2", TypeTimestamp, 0, 0},
		{"time", TypeTime, 0, 0},
		{"double precision", TypeDouble, 0, 0},
		{"bytea", TypeBinary, 0, 0},
		{"geography", TypeOther, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.decl, func(t *testing.T) {
			got, p, s := ParseType(tt.decl)
			if got != tt.want || p != tt.precision || s != tt.scale {
				t.Errorf("ParseType(%q) = %v,%d,%d want %v,%d,%d", tt.decl, got, p, s, tt.want, tt.precision, tt.scale)
			}
		})
	}
}
