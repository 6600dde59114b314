package controllers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/services"
	"github.com/vocabnest/vocabnest/utils"
)

const (
	maxTitleRunes   = 255
	maxContentRunes = 100000
)

// TextController manages study texts.
type TextController struct {
	db     *gorm.DB
	lookup *services.LookupIndex
}

// NewTextController creates a new TextController instance.
func NewTextController(db *gorm.DB, lookup *services.LookupIndex) *TextController {
	return &TextController{db: db, lookup: lookup}
}

type textRequest struct {
	Title     string `json:"title" binding:"required"`
	Content   string `json:"content" binding:"required"`
	Language  string `json:"language"`
	SourceURL string `json:"source_url"`
}

// sanitize cleans the request in place and reports the first invalid field.
func (r *textRequest) sanitize() (string, bool) {
	r.Title = utils.SanitizePlain(r.Title)
	r.Content = strings.TrimSpace(utils.Sanitize(r.Content))
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	r.SourceURL = strings.TrimSpace(r.SourceURL)

	switch {
	case r.Title == "" || utf8.RuneCountInString(r.Title) > maxTitleRunes:
		return "title must be 1-255 characters", false
	case r.Content == "" || utf8.RuneCountInString(r.Content) > maxContentRunes:
		return "content must be 1-100000 characters", false
	case len(r.Language) > 16:
		return "language code too long", false
	}
	if r.SourceURL != "" {
		u, err := url.Parse(r.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || len(r.SourceURL) > 1024 {
			return "source_url must be an http(s) URL", false
		}
	}
	return "", true
}

// Create stores a new text with sanitized content.
func (t *TextController) Create(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req textRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}
	if msg, ok := req.sanitize(); !ok {
		utils.Error(ctx, http.StatusBadRequest, 40011, msg)
		return
	}

	text := models.StudyText{
		UserID:    userID,
		Title:     req.Title,
		Content:   req.Content,
		Language:  req.Language,
		SourceURL: req.SourceURL,
	}
	if err := t.db.WithContext(ctx.Request.Context()).Create(&text).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to create text")
		return
	}
	utils.Respond(ctx, http.StatusCreated, 0, "success", gin.H{"text": text})
}

// List returns the user's texts without their content.
func (t *TextController) List(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	search := strings.TrimSpace(ctx.Query("search"))
	language := strings.ToLower(strings.TrimSpace(ctx.Query("language")))

	query := t.db.WithContext(ctx.Request.Context()).Model(&models.StudyText{}).Where("user_id = ?", userID)
	if search != "" {
		query = query.Where("title LIKE ?", "%"+search+"%")
	}
	if language != "" {
		query = query.Where("language = ?", language)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to count texts")
		return
	}
	var texts []models.StudyText
	if err := query.Select("id", "user_id", "title", "language", "source_url", "created_at", "updated_at").
		Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&texts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to list texts")
		return
	}
	utils.Success(ctx, gin.H{"items": texts, "pagination": paginationPayload(page, pageSize, total)})
}

// Get returns one text.
func (t *TextController) Get(ctx *gin.Context) {
	text, ok := t.loadOwned(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"text": text})
}

// Update replaces a text's fields.
func (t *TextController) Update(ctx *gin.Context) {
	text, ok := t.loadOwned(ctx)
	if !ok {
		return
	}
	var req textRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}
	if msg, ok := req.sanitize(); !ok {
		utils.Error(ctx, http.StatusBadRequest, 40011, msg)
		return
	}
	text.Title = req.Title
	text.Content = req.Content
	text.Language = req.Language
	text.SourceURL = req.SourceURL
	if err := t.db.WithContext(ctx.Request.Context()).Save(&text).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to update text")
		return
	}
	utils.Success(ctx, gin.H{"text": text})
}

// Delete removes a text.
func (t *TextController) Delete(ctx *gin.Context) {
	text, ok := t.loadOwned(ctx)
	if !ok {
		return
	}
	if err := t.db.WithContext(ctx.Request.Context()).Delete(&text).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to delete text")
		return
	}
	utils.Success(ctx, gin.H{"message": "text deleted"})
}

// Lookup matches the text's words against the user's vocabulary.
func (t *TextController) Lookup(ctx *gin.Context) {
	text, ok := t.loadOwned(ctx)
	if !ok {
		return
	}
	res, err := t.lookup.MatchText(ctx.Request.Context(), text.UserID, text.Title+"\n"+text.Content)
	if err != nil {
		respondServiceError(ctx, err, 50015, "failed to match text")
		return
	}
	utils.Success(ctx, gin.H{"text_id": text.ID, "lookup": res})
}

func (t *TextController) loadOwned(ctx *gin.Context) (models.StudyText, bool) {
	var text models.StudyText
	userID, ok := requireUser(ctx)
	if !ok {
		return text, false
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return text, false
	}
	if err := t.db.WithContext(ctx.Request.Context()).Where("id = ? AND user_id = ?", id, userID).First(&text).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40403, "text not found")
			return text, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50016, "failed to load text")
		return text, false
	}
	return text, true
}
