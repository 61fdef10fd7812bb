package etl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"cases.csv":         FormatCSV,
		"cases.parquet":     FormatParquet,
		"cases.PARQUET":     FormatParquet,
		"cases.json":        FormatJSON,
		"cases.jsonl":       FormatJSON,
		"cases.ndjson":      FormatJSON,
		"cases":             FormatCSV,
		"/tmp/a.b/cases.tsv": FormatCSV,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, DetectFileFormat(name))
		})
	}
}

func TestLoadCasesCSV(t *testing.T) {
	path := writeFile(t, "cases.csv", "text,expected\n"+
		"\"電話は090-1234-5678です\",PHONE\n"+
		"\"山田太郎さん、〒100-0001\",NAME|郵便番号\n"+
		",PHONE\n"+
		"\"テスト\",UNKNOWN\n"+
		"\"テスト\",\n"+
		"\"電話は090-1234-5678です\",PHONE\n")

	cases, result, err := NewPipeline(DefaultConfig(), zap.NewNop()).LoadCases(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, cases, 2)
	assert.Equal(t, []privacy.Category{privacy.CategoryPhone}, cases[0].Expected)
	assert.Equal(t, []privacy.Category{privacy.CategoryName, privacy.CategoryPostalCode}, cases[1].Expected)

	assert.EqualValues(t, 6, result.TotalRecords)
	assert.EqualValues(t, 2, result.Loaded)
	assert.EqualValues(t, 3, result.Skipped)
	assert.EqualValues(t, 1, result.Duplicates)
	assert.Len(t, result.Errors, 3)
	for _, e := range result.Errors {
		assert.NotContains(t, e, "テスト")
	}
}

func TestLoadCasesCSVColumnOrder(t *testing.T) {
	path := writeFile(t, "cases.csv", "expected,id,text\nEMAIL,1,連絡先 taro@example.jp\n")

	cases, _, err := LoadCases(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "連絡先 taro@example.jp", cases[0].Text)
}

func TestLoadCasesCSVMissingColumns(t *testing.T) {
	path := writeFile(t, "cases.csv", "text,label\nfoo,1\n")
	_, _, err := LoadCases(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadCasesJSONLines(t *testing.T) {
	path := writeFile(t, "cases.jsonl",
		`{"text": "電話は090-1234-5678です", "expected": "PHONE"}`+"\n"+
			`{"text": "山田太郎さん", "expected": ["NAME"]}`+"\n"+
			`{"text": 12, "expected": "NAME"}`+"\n"+
			`{"text": "口座", "expected": []}`+"\n")

	cases, result, err := LoadCases(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, []privacy.Category{privacy.CategoryName}, cases[1].Expected)
	assert.EqualValues(t, 4, result.TotalRecords)
	assert.EqualValues(t, 2, result.Skipped)
}

func TestLoadCasesParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[DataRecord](f)
	_, err = w.Write([]DataRecord{
		{Text: "電話は090-1234-5678です", Expected: "PHONE"},
		{Text: "メールは taro@example.jp", Expected: "メールアドレス"},
		{Text: "", Expected: "PHONE"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cases, result, err := NewPipeline(cfg, zap.NewNop()).LoadCases(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, []privacy.Category{privacy.CategoryEmail}, cases[1].Expected)
	assert.EqualValues(t, 1, result.Skipped)
}

func TestLoadCasesCancelled(t *testing.T) {
	path := writeFile(t, "cases.csv", "text,expected\na,PHONE\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := LoadCases(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadCasesMissingFile(t *testing.T) {
	_, _, err := LoadCases(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestWriteFailuresParquet(t *testing.T) {
	report := privacy.RegressionReport{
		Total:  2,
		Checks: 3,
		Passed: 1,
		Failed: 2,
		Failures: []privacy.RegressionFailure{
			{Text: "a", Expected: privacy.CategoryPhone},
			{Text: "b", Expected: privacy.CategoryName, Detected: []privacy.Category{privacy.CategoryEmail, privacy.CategoryPhone}},
		},
	}
	path := filepath.Join(t.TempDir(), "failures.parquet")
	require.NoError(t, WriteFailuresParquet(path, report))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()

	var rows []FailureRecord
	for {
		var row FailureRecord
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, "PHONE", rows[0].Expected)
	assert.Equal(t, "", rows[0].Detected)
	assert.Equal(t, "EMAIL|PHONE", rows[1].Detected)
	assert.NotZero(t, rows[1].RunAt)
}

func TestGetStats(t *testing.T) {
	path := writeFile(t, "cases.csv", "text,expected\na,PHONE\n,PHONE\n")
	p := NewPipeline(nil, nil)
	_, _, err := p.LoadCases(context.Background(), path)
	require.NoError(t, err)

	stats := p.GetStats()
	assert.EqualValues(t, 2, stats.RecordsRead)
	assert.EqualValues(t, 1, stats.RecordsValid)
	assert.EqualValues(t, 1, stats.RecordsInvalid)
}
