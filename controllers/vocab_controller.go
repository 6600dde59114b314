package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

// VocabController manages vocabulary entries, CSV import and the lookup index.
type VocabController struct {
	db       *gorm.DB
	importer *services.Importer
	lookup   *services.LookupIndex
	maxBytes int64
}

// NewVocabController creates a new VocabController instance.
func NewVocabController(db *gorm.DB, importer *services.Importer, lookup *services.LookupIndex, cfg config.AppConfig) *VocabController {
	maxMB := cfg.ImportMaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &VocabController{db: db, importer: importer, lookup: lookup, maxBytes: int64(maxMB) << 20}
}

// List returns the user's entries, newest first, optionally filtered by search or tag.
func (v *VocabController) List(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	search := strings.TrimSpace(ctx.Query("search"))
	tag := strings.ToLower(strings.TrimSpace(ctx.Query("tag")))

	query := v.db.WithContext(ctx.Request.Context()).Model(&models.VocabEntry{}).Where("user_id = ?", userID)
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("front LIKE ? OR back LIKE ? OR entry_key LIKE ?", like, like, like)
	}
	if tag != "" {
		// tags are stored comma separated
		if v.db.Dialector.Name() == "mysql" {
			query = query.Where("FIND_IN_SET(?, tags) > 0", tag)
		} else {
			query = query.Where("(',' || tags || ',') LIKE ?", "%,"+tag+",%")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count entries")
		return
	}
	var entries []models.VocabEntry
	if err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&entries).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list entries")
		return
	}
	utils.Success(ctx, gin.H{"items": entries, "pagination": paginationPayload(page, pageSize, total)})
}

// Get returns one entry owned by the user.
func (v *VocabController) Get(ctx *gin.Context) {
	entry, ok := v.loadOwned(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"entry": entry})
}

// Create adds an entry. A second entry with the same key is a conflict.
func (v *VocabController) Create(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req services.EntryInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	in, err := services.ValidateEntry(req)
	if err != nil {
		respondServiceError(ctx, err, 50023, "failed to create entry")
		return
	}

	var count int64
	v.db.WithContext(ctx.Request.Context()).Model(&models.VocabEntry{}).
		Where("user_id = ? AND entry_key = ?", userID, in.EntryKey).Count(&count)
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40902, "entry already exists")
		return
	}

	entry := models.VocabEntry{UserID: userID, EntryKey: in.EntryKey, Front: in.Front, Back: in.Back, Notes: in.Notes, Tags: in.Tags}
	if err := v.db.WithContext(ctx.Request.Context()).Create(&entry).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to create entry")
		return
	}
	v.lookup.Invalidate(ctx.Request.Context(), userID)
	utils.Respond(ctx, http.StatusCreated, 0, "success", gin.H{"entry": entry})
}

// Update replaces an entry's fields. Changing the key onto another entry's key is a conflict.
func (v *VocabController) Update(ctx *gin.Context) {
	entry, ok := v.loadOwned(ctx)
	if !ok {
		return
	}
	var req services.EntryInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	if req.EntryKey == "" {
		req.EntryKey = entry.EntryKey
	}
	in, err := services.ValidateEntry(req)
	if err != nil {
		respondServiceError(ctx, err, 50024, "failed to update entry")
		return
	}
	if in.EntryKey != entry.EntryKey {
		var count int64
		v.db.WithContext(ctx.Request.Context()).Model(&models.VocabEntry{}).
			Where("user_id = ? AND entry_key = ? AND id <> ?", entry.UserID, in.EntryKey, entry.ID).Count(&count)
		if count > 0 {
			utils.Error(ctx, http.StatusConflict, 40902, "entry already exists")
			return
		}
	}

	if err := v.db.WithContext(ctx.Request.Context()).Model(&entry).Updates(map[string]interface{}{
		"entry_key": in.EntryKey,
		"front":     in.Front,
		"back":      in.Back,
		"notes":     in.Notes,
		"tags":      in.Tags,
	}).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to update entry")
		return
	}
	entry.EntryKey, entry.Front, entry.Back, entry.Notes, entry.Tags = in.EntryKey, in.Front, in.Back, in.Notes, in.Tags
	v.lookup.Invalidate(ctx.Request.Context(), entry.UserID)
	utils.Success(ctx, gin.H{"entry": entry})
}

// Delete removes an entry.
func (v *VocabController) Delete(ctx *gin.Context) {
	entry, ok := v.loadOwned(ctx)
	if !ok {
		return
	}
	if err := v.db.WithContext(ctx.Request.Context()).Delete(&entry).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to delete entry")
		return
	}
	v.lookup.Invalidate(ctx.Request.Context(), entry.UserID)
	utils.Success(ctx, gin.H{"message": "entry deleted"})
}

// Import loads a multipart CSV upload (field "file"). Form fields updateExisting and
// skipDuplicates select the duplicate policy.
func (v *VocabController) Import(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, v.maxBytes)

	fh, err := ctx.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.Error(ctx, http.StatusRequestEntityTooLarge, 41301, "file too large")
			return
		}
		utils.Error(ctx, http.StatusBadRequest, 40030, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40031, "unreadable upload")
		return
	}
	defer f.Close()

	opts := services.ImportOptions{
		UpdateExisting: formBool(ctx.PostForm("updateExisting")),
		SkipDuplicates: formBool(ctx.PostForm("skipDuplicates")),
	}
	jobID := services.NewJobID()
	p, err := v.importer.Import(ctx.Request.Context(), userID, jobID, f, opts)
	if err != nil {
		if services.IsValidation(err) {
			utils.Fail(ctx, http.StatusBadRequest, 40020, err.Error(), importPayload(p))
			return
		}
		utils.Fail(ctx, http.StatusInternalServerError, 50026, "import failed", importPayload(p))
		return
	}
	utils.Success(ctx, importPayload(p))
}

// ImportStatus returns a job's progress.
func (v *VocabController) ImportStatus(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	p, err := v.importer.Progress(ctx.Request.Context(), userID, ctx.Param("jobId"))
	if err != nil {
		respondServiceError(ctx, err, 50027, "failed to load import progress")
		return
	}
	utils.Success(ctx, p)
}

// Lookup returns hits for ?words=a,b or, without words, the whole index envelope.
func (v *VocabController) Lookup(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	raw := strings.TrimSpace(ctx.Query("words"))
	if raw == "" {
		env, err := v.lookup.Get(ctx.Request.Context(), userID)
		if err != nil {
			respondServiceError(ctx, err, 50028, "failed to load lookup index")
			return
		}
		utils.Success(ctx, env)
		return
	}
	hits, err := v.lookup.Lookup(ctx.Request.Context(), userID, strings.Split(raw, ","))
	if err != nil {
		respondServiceError(ctx, err, 50028, "failed to load lookup index")
		return
	}
	utils.Success(ctx, gin.H{"matches": hits})
}

func (v *VocabController) loadOwned(ctx *gin.Context) (models.VocabEntry, bool) {
	var entry models.VocabEntry
	userID, ok := requireUser(ctx)
	if !ok {
		return entry, false
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return entry, false
	}
	if err := v.db.WithContext(ctx.Request.Context()).Where("id = ? AND user_id = ?", id, userID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "entry not found")
			return entry, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to load entry")
		return entry, false
	}
	return entry, true
}

func importPayload(p *services.ImportProgress) gin.H {
	if p == nil {
		return nil
	}
	return gin.H{
		"message": p.Message,
		"jobId":   p.JobID,
		"status":  p.Status,
		"results": gin.H{
			"total":    p.Total,
			"inserted": p.Imported,
			"updated":  p.Updated,
			"skipped":  p.Skipped,
			"errors":   p.Errors,
		},
	}
}

func formBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
