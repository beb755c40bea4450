// Package dataset reads review records from CSV or JSON lines files and
// builds a review graph from them.
//
// CSV rows are "reviewer,product,rating" with an optional header row. JSON
// lines use the rgmining layout: {"member_id": ..., "product_id": ...,
// "rating": ...}; identifiers may be strings or numbers.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rgmining/fraudeagle/internal/fraudeagle"
	"github.com/rgmining/fraudeagle/internal/safefile"
)

// ctxCheckEvery is how many records are read between context checks.
const ctxCheckEvery = 1024

// ErrMalformed wraps every parse failure; the message carries the line.
var ErrMalformed = errors.New("malformed record")

// Options controls parsing.
type Options struct {
	Format   string // csv or jsonl
	MaxBytes int64
	// MinScore and MaxScore define the rating scale of the input. Ratings are
	// mapped linearly onto [0, 1]. Both zero means the input is already in [0, 1].
	MinScore float64
	MaxScore float64
}

// Record is one review.
type Record struct {
	Reviewer string  `json:"reviewer"`
	Product  string  `json:"product"`
	Rating   float64 `json:"rating"` // normalized to [0, 1]
}

// Dataset is the ordered list of records read from one source.
type Dataset struct {
	Records []Record
}

// Load reads the file at path.
func Load(ctx context.Context, path string, opts Options) (*Dataset, error) {
	f, err := safefile.OpenMax(path, opts.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	ds, err := Read(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ds, nil
}

// Read parses records from r.
func Read(ctx context.Context, r io.Reader, opts Options) (*Dataset, error) {
	scale, err := newScale(opts.MinScore, opts.MaxScore)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(opts.Format) {
	case "", "csv":
		return readCSV(ctx, r, scale)
	case "jsonl":
		return readJSONL(ctx, r, scale)
	}
	return nil, fmt.Errorf("unknown dataset format %q", opts.Format)
}

type scale struct{ min, span float64 }

func newScale(lo, hi float64) (scale, error) {
	if lo == 0 && hi == 0 {
		return scale{0, 1}, nil
	}
	if !(hi > lo) {
		return scale{}, fmt.Errorf("rating scale [%v, %v] is empty", lo, hi)
	}
	return scale{lo, hi - lo}, nil
}

func (s scale) normalize(line int, raw float64) (float64, error) {
	v := (raw - s.min) / s.span
	if !(v >= 0 && v <= 1) {
		return 0, fmt.Errorf("line %d: rating %v outside [%v, %v]: %w", line, raw, s.min, s.min+s.span, ErrMalformed)
	}
	return v, nil
}

func readCSV(ctx context.Context, r io.Reader, sc scale) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	ds := &Dataset{}
	for n := 1; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) < 3 {
			return nil, fmt.Errorf("line %d: want reviewer,product,rating, got %d fields: %w", line, len(row), ErrMalformed)
		}
		raw, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			if n == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: rating %q: %w", line, row[2], ErrMalformed)
		}
		rating, err := sc.normalize(line, raw)
		if err != nil {
			return nil, err
		}
		rec, err := newRecord(line, row[0], row[1], rating)
		if err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

// jsonID accepts a JSON string or number.
type jsonID string

func (id *jsonID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = jsonID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = jsonID(n.String())
	return nil
}

type jsonReview struct {
	MemberID  jsonID   `json:"member_id"`
	ProductID jsonID   `json:"product_id"`
	Rating    *float64 `json:"rating"`
}

func readJSONL(ctx context.Context, r io.Reader, sc scale) (*Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	ds := &Dataset{}
	for line := 1; scanner.Scan(); line++ {
		if line%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var jr jsonReview
		if err := json.Unmarshal(text, &jr); err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrMalformed)
		}
		if jr.Rating == nil {
			return nil, fmt.Errorf("line %d: missing rating: %w", line, ErrMalformed)
		}
		rating, err := sc.normalize(line, *jr.Rating)
		if err != nil {
			return nil, err
		}
		rec, err := newRecord(line, string(jr.MemberID), string(jr.ProductID), rating)
		if err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	return ds, nil
}

func newRecord(line int, reviewer, product string, rating float64) (Record, error) {
	reviewer, product = strings.TrimSpace(reviewer), strings.TrimSpace(product)
	if reviewer == "" || product == "" {
		return Record{}, fmt.Errorf("line %d: empty reviewer or product: %w", line, ErrMalformed)
	}
	return Record{Reviewer: reviewer, Product: product, Rating: rating}, nil
}

// Build adds the dataset to g. Each distinct name becomes one node, created
// in first-seen order; a later record for the same pair replaces the earlier
// review.
func (d *Dataset) Build(g *fraudeagle.ReviewGraph) error {
	reviewers := make(map[string]*fraudeagle.Reviewer)
	products := make(map[string]*fraudeagle.Product)
	for _, rec := range d.Records {
		r, ok := reviewers[rec.Reviewer]
		if !ok {
			r = g.NewReviewer(rec.Reviewer)
			reviewers[rec.Reviewer] = r
		}
		p, ok := products[rec.Product]
		if !ok {
			p = g.NewProduct(rec.Product)
			products[rec.Product] = p
		}
		if _, err := g.AddReview(r, p, rec.Rating); err != nil {
			return fmt.Errorf("building graph: %w", err)
		}
	}
	return nil
}
