// Package dataset reads and writes the raw pipe-delimited export, the crawl
// checkpoint, and defines the refined table produced by the sanitizer.
package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

// Raw column names, in file order.
const (
	ColTitle       = "title"
	ColPlatform    = "platform"
	ColReleaseDate = "release_date"
	ColMetascore   = "metascore"
	ColUserscore   = "userscore"
	ColGenres      = "genres"
	ColCritics     = "critics"
)

// RawHeader is the header row of every raw file.
var RawHeader = []string{ColTitle, ColPlatform, ColReleaseDate, ColMetascore, ColUserscore, ColGenres, ColCritics}

// Delimiter separates raw columns.
const Delimiter = '|'

// RawRow is one untyped raw record. Genres and Critics hold the serialized literals.
type RawRow struct {
	Title       string
	Platform    string
	ReleaseDate string
	Metascore   string
	Userscore   string
	Genres      string
	Critics     string
}

// RawFile is the on-disk raw dataset. It implements crawler.ItemSink.
type RawFile struct {
	path string
}

// NewRawFile returns a handle for the raw file at path.
func NewRawFile(path string) *RawFile {
	return &RawFile{path: path}
}

// Path returns the file location.
func (f *RawFile) Path() string {
	return f.path
}

// Exists reports whether the raw file is present.
func (f *RawFile) Exists() (bool, error) {
	info, err := os.Stat(f.path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("raw path %s is a directory", f.path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat raw file: %w", err)
}

// WriteItems serializes items. Without appendMode the file is replaced
// atomically; with it rows are appended, writing the header if the file is new.
func (f *RawFile) WriteItems(ctx context.Context, items []crawler.Item, appendMode bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	records := make([][]string, 0, len(items))
	for _, item := range items {
		rec, err := EncodeItem(item)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if !appendMode {
		return f.replace(append([][]string{RawHeader}, records...))
	}

	exists, err := f.Exists()
	if err != nil {
		return err
	}
	rows := records
	if !exists {
		rows = append([][]string{RawHeader}, records...)
	} else if info, err := os.Stat(f.path); err == nil && info.Size() == 0 {
		rows = append([][]string{RawHeader}, records...)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open raw file for append: %w", err)
	}
	if err := writeRecords(file, rows); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close raw file: %w", err)
	}
	return nil
}

// CountRows returns the number of data rows (excluding the header).
func (f *RawFile) CountRows() (int, error) {
	records, err := f.readRecords()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return len(records) - 1, nil
}

// TruncateRows keeps the header and the first n data rows.
func (f *RawFile) TruncateRows(n int) error {
	if n < 0 {
		return fmt.Errorf("row count must be >= 0")
	}
	records, err := f.readRecords()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && n == 0 {
			return nil
		}
		return err
	}
	data := 0
	if len(records) > 0 {
		data = len(records) - 1
	}
	if data < n {
		return fmt.Errorf("raw file has %d rows, cannot keep %d", data, n)
	}
	if data == n {
		return nil
	}
	return f.replace(records[:n+1])
}

// ReadRows parses the raw file. Records with the wrong number of fields or
// broken quoting are skipped and counted in malformed.
func (f *RawFile) ReadRows() (rows []RawRow, malformed int, err error) {
	// #nosec G304 -- path comes from operator configuration.
	file, err := os.Open(f.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open raw file: %w", err)
	}
	defer file.Close()
	return ReadRaw(file)
}

// ReadRaw parses raw rows from r. Columns are located by header name.
func ReadRaw(r io.Reader) (rows []RawRow, malformed int, err error) {
	reader := newReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("raw file is empty")
		}
		return nil, 0, fmt.Errorf("read raw header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, 0, err
	}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				malformed++
				continue
			}
			return nil, malformed, fmt.Errorf("read raw row: %w", err)
		}
		if len(rec) != len(header) {
			malformed++
			continue
		}
		rows = append(rows, RawRow{
			Title:       rec[index[ColTitle]],
			Platform:    rec[index[ColPlatform]],
			ReleaseDate: rec[index[ColReleaseDate]],
			Metascore:   rec[index[ColMetascore]],
			Userscore:   rec[index[ColUserscore]],
			Genres:      rec[index[ColGenres]],
			Critics:     rec[index[ColCritics]],
		})
	}
	return rows, malformed, nil
}

// EncodeItem renders an item as a raw record.
func EncodeItem(item crawler.Item) ([]string, error) {
	genres, err := EncodeGenres(item.Genres)
	if err != nil {
		return nil, fmt.Errorf("encode genres for %q: %w", item.Title, err)
	}
	critics, err := EncodeCritics(item.Critics)
	if err != nil {
		return nil, fmt.Errorf("encode critics for %q: %w", item.Title, err)
	}
	return []string{
		item.Title,
		item.Platform,
		item.ReleaseDate,
		item.Metascore,
		item.Userscore,
		genres,
		critics,
	}, nil
}

// EncodeGenres serializes a genre list as a JSON array.
func EncodeGenres(genres []string) (string, error) {
	if genres == nil {
		genres = []string{}
	}
	data, err := json.Marshal(genres)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeCritics serializes a critic mapping as a JSON object with sorted keys.
func EncodeCritics(critics map[string]int) (string, error) {
	if critics == nil {
		critics = map[string]int{}
	}
	data, err := json.Marshal(critics)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeGenres parses a genre literal. JSON5 also accepts the single-quoted
// lists written by older exports.
func DecodeGenres(literal string) ([]string, error) {
	var genres []string
	if err := json5.Unmarshal([]byte(strings.TrimSpace(literal)), &genres); err != nil {
		return nil, fmt.Errorf("decode genres %q: %w", literal, err)
	}
	if genres == nil {
		genres = []string{}
	}
	return genres, nil
}

// DecodeCritics parses a critic literal such as {"IGN":90} or {'IGN': 90}.
func DecodeCritics(literal string) (map[string]int, error) {
	var critics map[string]int
	if err := json5.Unmarshal([]byte(strings.TrimSpace(literal)), &critics); err != nil {
		return nil, fmt.Errorf("decode critics %q: %w", literal, err)
	}
	if critics == nil {
		critics = map[string]int{}
	}
	return critics, nil
}

func (f *RawFile) readRecords() ([][]string, error) {
	// #nosec G304 -- path comes from operator configuration.
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	records, err := newReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read raw file: %w", err)
	}
	return records, nil
}

func (f *RawFile) replace(records [][]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".raw-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp raw file: %w", err)
	}
	tmpName := tmp.Name()
	if err := writeRecords(tmp, records); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp raw file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace raw file: %w", err)
	}
	return nil
}

func writeRecords(w io.Writer, records [][]string) error {
	writer := csv.NewWriter(w)
	writer.Comma = Delimiter
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("write raw rows: %w", err)
	}
	return nil
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range RawHeader {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("raw header missing column %q", col)
		}
	}
	return index, nil
}
