package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/metrics"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
)

// Import job statuses.
const (
	ImportProcessing = "processing"
	ImportCompleted  = "completed"
	ImportFailed     = "failed"
)

const (
	defaultImportBatchSize = 100
	maxFieldRunes          = 500
	maxNotesRunes          = 2000
	maxEntryKeyRunes       = 255
	importProgressTTL      = 24 * time.Hour
)

var errDuplicateEntry = errors.New("entry already exists")

// ImportOptions selects the duplicate policy. UpdateExisting wins over SkipDuplicates;
// with neither set a duplicate row is an error.
type ImportOptions struct {
	UpdateExisting bool
	SkipDuplicates bool
}

// RowError is a failure tied to one CSV line. The header is line 1.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ImportProgress is the job record, updated after each batch.
type ImportProgress struct {
	JobID      string     `json:"jobId"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Imported   int        `json:"imported"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Errors     []RowError `json:"errors"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type importRow struct {
	line  int
	entry EntryInput
}

type rowOutcome int

const (
	rowInserted rowOutcome = iota
	rowUpdated
	rowSkipped
)

// Importer loads vocabulary entries from CSV.
type Importer struct {
	db        *gorm.DB
	cache     utils.Cache
	lookup    *LookupIndex
	batchSize int
}

// NewImporter builds an importer; lookup is invalidated after writes and may be nil.
func NewImporter(db *gorm.DB, cache utils.Cache, lookup *LookupIndex, cfg config.AppConfig) *Importer {
	size := cfg.ImportBatchSize
	if size <= 0 {
		size = defaultImportBatchSize
	}
	return &Importer{db: db, cache: cache, lookup: lookup, batchSize: size}
}

// NewJobID returns a sortable import job id.
func NewJobID() string {
	return ulid.Make().String()
}

// Import streams r as CSV into the user's vocabulary. Row-level problems are
// collected in the progress; the returned error is reserved for failures of the
// whole job (unreadable header, I/O, cancellation), in which case the progress
// carries status "failed".
func (im *Importer) Import(ctx context.Context, userID uint, jobID string, r io.Reader, opts ImportOptions) (*ImportProgress, error) {
	if jobID == "" {
		jobID = NewJobID()
	}
	p := &ImportProgress{JobID: jobID, Status: ImportProcessing, Errors: []RowError{}, StartedAt: time.Now().UTC()}
	im.saveProgress(ctx, userID, p)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = invalid("file", "CSV file is empty")
		} else {
			err = invalid("file", "unreadable CSV header: %v", err)
		}
		return im.fail(ctx, userID, p, err)
	}
	cols, err := mapHeader(header)
	if err != nil {
		return im.fail(ctx, userID, p, err)
	}

	batch := make([]importRow, 0, im.batchSize)
	for {
		if err := ctx.Err(); err != nil {
			return im.fail(ctx, userID, p, err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return im.fail(ctx, userID, p, fmt.Errorf("read CSV: %w", err))
			}
			p.Processed++
			p.Errors = append(p.Errors, RowError{Row: pe.StartLine, Message: pe.Err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		p.Processed++

		row, rowErr := cols.parse(line, record)
		if rowErr != nil {
			p.Errors = append(p.Errors, *rowErr)
			continue
		}
		batch = append(batch, row)
		if len(batch) >= im.batchSize {
			im.flushBatch(ctx, userID, batch, opts, p)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		im.flushBatch(ctx, userID, batch, opts, p)
	}

	finished := time.Now().UTC()
	p.Total = p.Processed
	p.Status = ImportCompleted
	p.FinishedAt = &finished
	p.Message = fmt.Sprintf("imported %d, updated %d, skipped %d, failed %d", p.Imported, p.Updated, p.Skipped, len(p.Errors))
	im.saveProgress(ctx, userID, p)

	if im.lookup != nil && p.Imported+p.Updated > 0 {
		im.lookup.Invalidate(ctx, userID)
	}
	metrics.RecordImportRows(p.Imported, p.Updated, p.Skipped, len(p.Errors))
	metrics.RecordImportJob(ImportCompleted)
	utils.Logger.Info("vocabulary import finished",
		zap.Uint("user_id", userID), zap.String("job_id", jobID),
		zap.Int("processed", p.Processed), zap.Int("imported", p.Imported),
		zap.Int("updated", p.Updated), zap.Int("skipped", p.Skipped), zap.Int("errors", len(p.Errors)))
	return p, nil
}

// Progress returns a job's last saved progress.
func (im *Importer) Progress(ctx context.Context, userID uint, jobID string) (*ImportProgress, error) {
	var p ImportProgress
	if !utils.CacheGetJSON(ctx, im.cache, importProgressKey(userID, jobID), &p) {
		return nil, &NotFoundError{Resource: "import job", ID: jobID}
	}
	return &p, nil
}

// flushBatch writes one batch in a transaction. Each row runs under a savepoint so
// a failing row is rolled back alone; a transaction failure discards the batch.
func (im *Importer) flushBatch(ctx context.Context, userID uint, batch []importRow, opts ImportOptions, p *ImportProgress) {
	start := time.Now()
	var inserted, updated, skipped int
	var rowErrs []RowError

	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, row := range batch {
			sp := "import_row_" + strconv.Itoa(i)
			if err := tx.SavePoint(sp).Error; err != nil {
				return err
			}
			outcome, err := applyImportRow(tx, userID, row, opts)
			if err != nil {
				if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
					return rbErr
				}
				rowErrs = append(rowErrs, RowError{Row: row.line, Message: err.Error()})
				continue
			}
			switch outcome {
			case rowInserted:
				inserted++
			case rowUpdated:
				updated++
			case rowSkipped:
				skipped++
			}
		}
		return nil
	})
	metrics.ObserveDBLatency(ctx, "import_batch", start)

	if err != nil {
		utils.Logger.Warn("import batch rolled back", zap.Uint("user_id", userID), zap.String("job_id", p.JobID), zap.Error(err))
		for _, row := range batch {
			p.Errors = append(p.Errors, RowError{Row: row.line, Message: "batch rolled back: " + err.Error()})
		}
	} else {
		p.Imported += inserted
		p.Updated += updated
		p.Skipped += skipped
		p.Errors = append(p.Errors, rowErrs...)
	}
	p.Total = p.Processed
	im.saveProgress(ctx, userID, p)
}

func applyImportRow(tx *gorm.DB, userID uint, row importRow, opts ImportOptions) (rowOutcome, error) {
	var existing models.VocabEntry
	in := row.entry
	if err := tx.Where("user_id = ? AND entry_key = ?", userID, in.EntryKey).Limit(1).Find(&existing).Error; err != nil {
		return 0, err
	}
	if existing.ID != 0 {
		switch {
		case opts.UpdateExisting:
			err := tx.Model(&existing).Updates(map[string]interface{}{
				"front": in.Front,
				"back":  in.Back,
				"notes": in.Notes,
				"tags":  in.Tags,
			}).Error
			return rowUpdated, err
		case opts.SkipDuplicates:
			return rowSkipped, nil
		default:
			return 0, errDuplicateEntry
		}
	}
	entry := models.VocabEntry{
		UserID:   userID,
		EntryKey: in.EntryKey,
		Front:    in.Front,
		Back:     in.Back,
		Notes:    in.Notes,
		Tags:     in.Tags,
	}
	return rowInserted, tx.Create(&entry).Error
}

func (im *Importer) fail(ctx context.Context, userID uint, p *ImportProgress, err error) (*ImportProgress, error) {
	finished := time.Now().UTC()
	p.Status = ImportFailed
	p.Total = p.Processed
	p.Message = err.Error()
	p.FinishedAt = &finished
	// the progress record outlives a cancelled request
	im.saveProgress(context.WithoutCancel(ctx), userID, p)
	metrics.RecordImportJob(ImportFailed)
	utils.Logger.Warn("vocabulary import failed", zap.Uint("user_id", userID), zap.String("job_id", p.JobID), zap.Error(err))
	return p, err
}

func (im *Importer) saveProgress(ctx context.Context, userID uint, p *ImportProgress) {
	utils.CacheSetJSON(ctx, im.cache, importProgressKey(userID, p.JobID), p, importProgressTTL)
}

func importProgressKey(userID uint, jobID string) string {
	return "import:" + strconv.FormatUint(uint64(userID), 10) + ":" + jobID
}

type columnMap struct {
	front, back, entryKey, notes, tags int
}

func mapHeader(header []string) (columnMap, error) {
	cols := columnMap{front: -1, back: -1, entryKey: -1, notes: -1, tags: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
		switch name {
		case "front", "word", "term":
			cols.front = i
		case "back", "translation", "definition":
			cols.back = i
		case "entrykey", "key":
			cols.entryKey = i
		case "notes", "note":
			cols.notes = i
		case "tags", "tag":
			cols.tags = i
		}
	}
	if cols.front < 0 || cols.back < 0 {
		return cols, invalid("file", "CSV header must contain front and back columns")
	}
	return cols, nil
}

func (c columnMap) parse(line int, record []string) (importRow, *RowError) {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return record[i]
	}
	in, err := ValidateEntry(EntryInput{
		EntryKey: get(c.entryKey),
		Front:    get(c.front),
		Back:     get(c.back),
		Notes:    get(c.notes),
		Tags:     get(c.tags),
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return importRow{}, &RowError{Row: line, Field: verr.Field, Message: verr.Field + " " + verr.Message}
		}
		return importRow{}, &RowError{Row: line, Message: err.Error()}
	}
	return importRow{line: line, entry: in}, nil
}
