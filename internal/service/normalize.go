package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"readersync/internal/models"
)

const untitled = "Untitled"

const (
	WarningParseFailed = "parse_failed"
	WarningDefaulted   = "defaulted"
)

// FieldWarning records a field that was replaced by a default. ParseFailed
// warnings carry the raw value that could not be read.
type FieldWarning struct {
	Field string
	Kind  string
	Raw   string
}

type Normalized struct {
	Document models.Document
	Warnings []FieldWarning
}

type rawDocument struct {
	ID              *string         `json:"id"`
	URL             *string         `json:"url"`
	SourceURL       *string         `json:"source_url"`
	Title           *string         `json:"title"`
	Author          *string         `json:"author"`
	Source          *string         `json:"source"`
	Category        *string         `json:"category"`
	Location        *string         `json:"location"`
	Tags            json.RawMessage `json:"tags"`
	SiteName        *string         `json:"site_name"`
	WordCount       json.RawMessage `json:"word_count"`
	CreatedAt       *string         `json:"created_at"`
	UpdatedAt       *string         `json:"updated_at"`
	PublishedDate   json.RawMessage `json:"published_date"`
	Summary         *string         `json:"summary"`
	ImageURL        *string         `json:"image_url"`
	Content         *string         `json:"content"`
	Notes           *string         `json:"notes"`
	ParentID        *string         `json:"parent_id"`
	ReadingProgress json.RawMessage `json:"reading_progress"`
}

// Normalize maps one raw list record into a Document. Known API quirks are
// filled with defaults; anything that cannot be stored faithfully is a
// *RecordError.
func Normalize(raw json.RawMessage) (Normalized, error) {
	var in rawDocument
	if err := json.Unmarshal(raw, &in); err != nil {
		return Normalized{}, &RecordError{ID: peekID(raw), Err: fmt.Errorf("decode: %w", err)}
	}

	id := strings.TrimSpace(deref(in.ID))
	if id == "" {
		return Normalized{}, &RecordError{Field: "id", Err: errors.New("missing")}
	}
	fail := func(field string, err error) (Normalized, error) {
		return Normalized{}, &RecordError{ID: id, Field: field, Err: err}
	}

	out := Normalized{}
	doc := models.Document{
		ID:          id,
		Author:      in.Author,
		Content:     in.Content,
		Notes:       in.Notes,
		Summary:     in.Summary,
		SiteName:    in.SiteName,
		Source:      in.Source,
		ReadwiseURL: in.URL,
		SourceURL:   in.SourceURL,
		ImageURL:    in.ImageURL,
		ParentID:    in.ParentID,
	}

	doc.Title = strings.TrimSpace(deref(in.Title))
	if doc.Title == "" {
		doc.Title = untitled
	}

	if in.Category == nil {
		return fail("category", errors.New("missing"))
	}
	category, err := models.ParseCategory(*in.Category)
	if err != nil {
		return fail("category", err)
	}
	doc.Category = category

	doc.Location = models.DefaultLocation
	if in.Location != nil {
		location, err := models.ParseLocation(*in.Location)
		if err != nil {
			return fail("location", err)
		}
		doc.Location = location
	}

	if !isNull(in.Tags) {
		doc.Tags = datatypes.JSON(append([]byte(nil), bytes.TrimSpace(in.Tags)...))
	}

	wordCount, err := parseWordCount(in.WordCount)
	if err != nil {
		return fail("word_count", err)
	}
	doc.WordCount = wordCount

	if isNull(in.ReadingProgress) {
		out.Warnings = append(out.Warnings, FieldWarning{Field: "reading_progress", Kind: WarningDefaulted})
	} else {
		var progress float64
		if err := json.Unmarshal(in.ReadingProgress, &progress); err != nil {
			return fail("reading_progress", fmt.Errorf("not a number: %s", in.ReadingProgress))
		}
		doc.ReadingProgress = progress
	}

	if in.CreatedAt == nil {
		return fail("created_at", errors.New("missing"))
	}
	createdAt, err := time.Parse(time.RFC3339Nano, *in.CreatedAt)
	if err != nil {
		return fail("created_at", err)
	}
	doc.CreatedAt = createdAt.UTC()

	if in.UpdatedAt != nil {
		updatedAt, err := time.Parse(time.RFC3339Nano, *in.UpdatedAt)
		if err != nil {
			return fail("updated_at", err)
		}
		updatedAt = updatedAt.UTC()
		doc.UpdatedAt = &updatedAt
	}

	published, ok := parsePublishedDate(in.PublishedDate)
	if !ok {
		out.Warnings = append(out.Warnings, FieldWarning{
			Field: "published_date",
			Kind:  WarningParseFailed,
			Raw:   string(in.PublishedDate),
		})
	}
	doc.PublishedDate = published

	out.Document = doc
	return out, nil
}

// parsePublishedDate returns ok=false only when a non-null value failed every layout.
func parsePublishedDate(raw json.RawMessage) (*time.Time, bool) {
	if isNull(raw) {
		return nil, true
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, false
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t = t.UTC()
			return &t, true
		}
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return &t, true
		}
		return nil, false
	default:
		secs, err := strconv.ParseInt(string(trimmed), 10, 64)
		if err != nil {
			return nil, false
		}
		t := time.Unix(secs, 0).UTC()
		return &t, true
	}
}

func parseWordCount(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	if n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative: %s", raw)
	}
	return int(n), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func peekID(raw json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.ID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
