// Package columnar encodes the refined dataset as grouped Arrow records and
// writes them as gzip-compressed Parquet.
package columnar

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
)

// ContentType is reported to blob stores for encoded output.
const ContentType = "application/vnd.apache.parquet"

// Metadata keys stored on the schema.
const (
	MetaSentinel = "critic_sentinel"
	MetaRows     = "rows"
)

var platformType = &arrow.DictionaryType{
	IndexType: arrow.PrimitiveTypes.Uint16,
	ValueType: arrow.BinaryTypes.String,
}

// Schema builds the grouped schema for r. Groups without columns are omitted.
func Schema(r dataset.Refined) *arrow.Schema {
	fields := []arrow.Field{
		{Name: dataset.GroupGeneral, Type: arrow.StructOf(
			arrow.Field{Name: dataset.ColTitle, Type: arrow.BinaryTypes.String},
			arrow.Field{Name: dataset.ColPlatform, Type: platformType},
			arrow.Field{Name: dataset.ColReleaseDate, Type: arrow.FixedWidthTypes.Date32},
			arrow.Field{Name: dataset.ColMetascore, Type: arrow.PrimitiveTypes.Int8},
			arrow.Field{Name: dataset.ColUserscore, Type: arrow.PrimitiveTypes.Float64},
		)},
	}
	if len(r.GenreColumns) > 0 {
		genreFields := make([]arrow.Field, len(r.GenreColumns))
		for i, name := range r.GenreColumns {
			genreFields[i] = arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Boolean}
		}
		fields = append(fields, arrow.Field{Name: dataset.GroupGenres, Type: arrow.StructOf(genreFields...)})
	}
	if len(r.CriticColumns) > 0 {
		criticFields := make([]arrow.Field, len(r.CriticColumns))
		for i, name := range r.CriticColumns {
			criticFields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int8}
		}
		fields = append(fields, arrow.Field{Name: dataset.GroupCritics, Type: arrow.StructOf(criticFields...)})
	}
	md := arrow.NewMetadata(
		[]string{MetaSentinel, MetaRows},
		[]string{strconv.Itoa(int(r.Sentinel)), strconv.Itoa(len(r.Rows))},
	)
	return arrow.NewSchema(fields, &md)
}

// Record builds a single Arrow record holding every refined row. The caller
// must Release it.
func Record(mem memory.Allocator, r dataset.Refined) (arrow.Record, error) {
	schema := Schema(r)
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	general := builder.Field(0).(*array.StructBuilder)
	title := general.FieldBuilder(0).(*array.StringBuilder)
	platform := general.FieldBuilder(1).(*array.BinaryDictionaryBuilder)
	released := general.FieldBuilder(2).(*array.Date32Builder)
	metascore := general.FieldBuilder(3).(*array.Int8Builder)
	userscore := general.FieldBuilder(4).(*array.Float64Builder)

	if err := seedPlatforms(mem, platform, r); err != nil {
		return nil, err
	}

	var genres, critics *array.StructBuilder
	next := 1
	if len(r.GenreColumns) > 0 {
		genres = builder.Field(next).(*array.StructBuilder)
		next++
	}
	if len(r.CriticColumns) > 0 {
		critics = builder.Field(next).(*array.StructBuilder)
	}

	for i, row := range r.Rows {
		if len(row.Genres) != len(r.GenreColumns) || len(row.Critics) != len(r.CriticColumns) {
			return nil, fmt.Errorf("row %d does not match column layout", i)
		}
		general.Append(true)
		title.Append(row.General.Title)
		if err := platform.AppendString(row.General.Platform); err != nil {
			return nil, fmt.Errorf("append platform: %w", err)
		}
		released.Append(arrow.Date32FromTime(row.General.ReleaseDate))
		metascore.Append(row.General.Metascore)
		userscore.Append(row.General.Userscore)

		if genres != nil {
			genres.Append(true)
			for j, set := range row.Genres {
				genres.FieldBuilder(j).(*array.BooleanBuilder).Append(set)
			}
		}
		if critics != nil {
			critics.Append(true)
			for j, score := range row.Critics {
				critics.FieldBuilder(j).(*array.Int8Builder).Append(score)
			}
		}
	}
	return builder.NewRecord(), nil
}

// seedPlatforms inserts the sorted platform levels so dictionary indices
// follow level order rather than first appearance.
func seedPlatforms(mem memory.Allocator, platform *array.BinaryDictionaryBuilder, r dataset.Refined) error {
	seen := make(map[string]struct{}, len(r.Platforms))
	levels := make([]string, 0, len(r.Platforms))
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			levels = append(levels, p)
		}
	}
	for _, p := range r.Platforms {
		add(p)
	}
	for _, row := range r.Rows {
		add(row.General.Platform)
	}
	sort.Strings(levels)

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.AppendValues(levels, nil)
	dict := sb.NewStringArray()
	defer dict.Release()
	if err := platform.InsertStringDictValues(dict); err != nil {
		return fmt.Errorf("seed platform levels: %w", err)
	}
	return nil
}

// Encode writes r to w as gzip-compressed Parquet.
func Encode(w io.Writer, r dataset.Refined) error {
	mem := memory.NewGoAllocator()
	rec, err := Record(mem, r)
	if err != nil {
		return err
	}
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Gzip),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	writer, err := pqarrow.NewFileWriter(rec.Schema(), w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write parquet record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
