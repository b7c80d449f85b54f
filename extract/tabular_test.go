package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func contents(units []core.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Content
	}
	return out
}

func TestCSV_Extract(t *testing.T) {
	data := "\xEF\xBB\xBFname,age,name,\n" +
		"alice,30,x,\n" +
		",,,\n" +
		"bob,,y,z,extra\n"

	units, err := NewCSV().Extract(context.Background(), []byte(data), "people.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{
		`{"name":"alice","age":"30","name.1":"x","Unnamed: 3":null,"Unnamed: 4":null}`,
		`{"name":null,"age":null,"name.1":null,"Unnamed: 3":null,"Unnamed: 4":null}`,
		`{"name":"bob","age":null,"name.1":"y","Unnamed: 3":"z","Unnamed: 4":"extra"}`,
	}, contents(units))

	for i, u := range units {
		assert.Equal(t, i+1, u.Ordinal)
		assert.Equal(t, i+1, u.Metadata.RowOrdinal)
		assert.Equal(t, "csv", u.Metadata.FileType)
		assert.Equal(t, "people.csv", u.Metadata.FileName)
		assert.Empty(t, u.Metadata.Sheet)
	}
	require.NoError(t, core.ValidateUnits(units))
}

func TestTrimTrailingRows(t *testing.T) {
	rows := [][]any{{"a"}, {nil, nil}, {"b"}, {}, {nil}}
	assert.Equal(t, [][]any{{"a"}, {nil, nil}, {"b"}}, trimTrailingRows(rows))
	assert.Empty(t, trimTrailingRows([][]any{{nil}}))
}

func TestCSV_Quoting(t *testing.T) {
	data := "id,comment\n" +
		"1,\"contains, a comma\"\n" +
		"2,she said \"hi\" <b>\n"

	units, err := NewCSV().Extract(context.Background(), []byte(data), "c.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{
		`{"id":"1","comment":"contains, a comma"}`,
		`{"id":"2","comment":"she said \"hi\" <b>"}`,
	}, contents(units))
}

func TestCSV_Empty(t *testing.T) {
	units, err := NewCSV().Extract(context.Background(), nil, "empty.csv")
	require.NoError(t, err)
	assert.Empty(t, units)

	units, err = NewCSV().Extract(context.Background(), []byte("only,header\n"), "header.csv")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestCSV_FiveRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,text\n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "%d,row %d\n", i, i)
	}
	units, err := NewCSV().Extract(context.Background(), []byte(b.String()), "five.csv")
	require.NoError(t, err)
	require.Len(t, units, 5)
	assert.Equal(t, 5, units[4].Metadata.RowOrdinal)
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name  string
		raw   []string
		width int
		want  []string
	}{
		{"plain", []string{"a", "b"}, 2, []string{"a", "b"}},
		{"duplicates", []string{"a", "a", "a"}, 3, []string{"a", "a.1", "a.2"}},
		{"blank and extra", []string{"", " b "}, 3, []string{"Unnamed: 0", "b", "Unnamed: 2"}},
		{"suffix collision", []string{"a", "a.1", "a"}, 3, []string{"a", "a.1", "a.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHeader(tt.raw, tt.width))
		})
	}
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"item", "qty", "ok"},
		{"apple", 3, true},
		{"pear", 2.5, false},
		{nil, nil, nil},
		{"plum", nil, true},
	}
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}

	_, err := f.NewSheet("Second")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Second", "A1", "code"))
	require.NoError(t, f.SetCellValue("Second", "A2", "007"))

	_, err = f.NewSheet("Blank")
	require.NoError(t, err)

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExcel_XLSX(t *testing.T) {
	units, err := NewExcel(nil).Extract(context.Background(), buildWorkbook(t), "stock.xlsx")
	require.NoError(t, err)

	assert.Equal(t, []string{
		`{"item":"apple","qty":3,"ok":true}`,
		`{"item":"pear","qty":2.5,"ok":false}`,
		`{"item":null,"qty":null,"ok":null}`,
		`{"item":"plum","qty":null,"ok":true}`,
		`{"code":"007"}`,
	}, contents(units))

	sheets := []string{"Sheet1", "Sheet1", "Sheet1", "Sheet1", "Second"}
	for i, u := range units {
		assert.Equal(t, i+1, u.Ordinal)
		assert.Equal(t, i+1, u.Metadata.RowOrdinal, "ordinals run across sheets")
		assert.Equal(t, sheets[i], u.Metadata.Sheet)
		assert.Equal(t, "excel", u.Metadata.FileType)
	}
	require.NoError(t, core.ValidateUnits(units))
}

func TestExcel_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"unknown encoding": []byte("name,qty\nx,1\n"),
		"broken zip":       []byte("PK\x03\x04garbage"),
		"broken ole":       append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewExcel(nil).Extract(context.Background(), data, "bad.xls")
			assert.ErrorIs(t, err, core.ErrExtraction)
		})
	}
}
