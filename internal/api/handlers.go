package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediaforge/internal/crypt"
	"mediaforge/internal/dupscan"
	fileutil "mediaforge/internal/file"
	"mediaforge/internal/history"
	"mediaforge/internal/job"
	"mediaforge/internal/media"
)

// HistoryLister is the read side of the history collaborator.
type HistoryLister interface {
	Recent(limit int) ([]history.Download, error)
}

type API struct {
	manager *job.Manager
	tools   media.Tools
	history HistoryLister
	access  AccessChecker
}

func NewAPI(manager *job.Manager, tools media.Tools, hist HistoryLister, access AccessChecker) *API {
	return &API{manager: manager, tools: tools, history: hist, access: access}
}

// RegisterRoutes registers all routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/download", RequireTool(a.access, "downloader"), a.SubmitDownload)
		v1.POST("/convert", RequireTool(a.access, "converter"), a.SubmitConvert)
		v1.POST("/subtitles", RequireTool(a.access, "subtitles"), a.SubmitSubtitles)
		v1.POST("/gif", RequireTool(a.access, "gif"), a.SubmitGIF)
		v1.POST("/audio/enhance", RequireTool(a.access, "audio"), a.SubmitAudioEnhance)
		v1.POST("/duplicates", RequireTool(a.access, "duplicates"), a.SubmitDuplicateScan)
		v1.POST("/encrypt", RequireTool(a.access, "encryption"), a.SubmitEncrypt)
		v1.POST("/decrypt", RequireTool(a.access, "encryption"), a.SubmitDecrypt)

		v1.GET("/status/:id", a.Status)
		v1.POST("/cancel/:id", a.Cancel)
		v1.GET("/download/:id", a.DownloadArtifact)
		v1.GET("/jobs", a.ListJobs)
		v1.GET("/history", a.History)
	}
}

type submitResponse struct {
	JobID string    `json:"job_id"`
	State job.State `json:"state"`
}

func (a *API) submitted(c *gin.Context, id string) {
	c.JSON(http.StatusAccepted, submitResponse{JobID: id, State: job.StateQueued})
}

func (a *API) submitError(c *gin.Context, err error) {
	log.Warn().Err(err).Msg("job submission failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
}

type downloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// SubmitDownload starts a yt-dlp download job.
func (a *API) SubmitDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !validMediaURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be a valid http(s) address"})
		return
	}
	switch req.Format {
	case "", "video", "audio", "mp3":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be video, audio or mp3"})
		return
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:          job.KindDownload,
		UserID:        userID(c),
		Billable:      true,
		HistoryDetail: req.URL,
		Op: media.DownloadOp{
			Tools:   a.tools,
			URL:     req.URL,
			Format:  req.Format,
			Quality: req.Quality,
		},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// SubmitConvert starts a batch conversion job over uploaded files.
func (a *API) SubmitConvert(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}
	direction := c.PostForm("direction")
	if direction == "" {
		direction = media.DirectionMP4ToMP3
	}
	if direction != media.DirectionMP4ToMP3 && direction != media.DirectionMP3ToMP4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be mp4_to_mp3 or mp3_to_mp4"})
		return
	}
	for _, u := range uploads {
		if !media.AcceptsInput(direction, u.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported input file: %s", u.Filename)})
			return
		}
	}

	stage, inputs, err := a.stageUploads(uploads)
	if err != nil {
		a.submitError(c, err)
		return
	}

	var image string
	if img, err := c.FormFile("image"); err == nil {
		image = filepath.Join(stage, "bg-"+filepath.Base(img.Filename))
		if err := a.saveUpload(img, image); err != nil {
			a.submitError(c, err)
			return
		}
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:        job.KindConvert,
		UserID:      userID(c),
		Billable:    true,
		TotalFiles:  len(inputs),
		CleanupDirs: []string{stage},
		Op: media.ConvertOp{
			Tools:     a.tools,
			Inputs:    inputs,
			Direction: direction,
			Bitrate:   c.PostForm("bitrate"),
			Image:     image,
		},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

type subtitlesRequest struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

// SubmitSubtitles starts a subtitle extraction job with the local
// speech-to-text fallback.
func (a *API) SubmitSubtitles(c *gin.Context) {
	var req subtitlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !validMediaURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be a valid http(s) address"})
		return
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:          job.KindSubtitles,
		UserID:        userID(c),
		Billable:      true,
		HistoryDetail: req.URL,
		Op: media.SubtitlesOp{
			Tools: a.tools,
			URL:   req.URL,
			Lang:  req.Lang,
		},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// SubmitGIF starts a video-to-gif job.
func (a *API) SubmitGIF(c *gin.Context) {
	upload, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing video file"})
		return
	}
	if !media.AcceptsInput(media.DirectionMP4ToMP3, upload.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported input file: %s", upload.Filename)})
		return
	}

	start := formFloat(c, "start", 0)
	duration := formFloat(c, "duration", 5)
	if start < 0 || duration <= 0 || duration > 60 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be >= 0 and duration in (0, 60]"})
		return
	}

	stage, inputs, err := a.stageUploads([]*multipart.FileHeader{upload})
	if err != nil {
		a.submitError(c, err)
		return
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:        job.KindGIF,
		UserID:      userID(c),
		Billable:    true,
		CleanupDirs: []string{stage},
		Op: media.GIFOp{
			Tools:    a.tools,
			Input:    inputs[0],
			Start:    start,
			Duration: duration,
			Width:    formInt(c, "width", 0),
			FPS:      formInt(c, "fps", 0),
		},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// SubmitAudioEnhance starts an audio cleanup job.
func (a *API) SubmitAudioEnhance(c *gin.Context) {
	upload, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio file"})
		return
	}
	if !media.AcceptsInput(media.DirectionMP3ToMP4, upload.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported input file: %s", upload.Filename)})
		return
	}
	preset := c.PostForm("preset")
	if preset != "" && !media.KnownPreset(preset) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preset"})
		return
	}

	stage, inputs, err := a.stageUploads([]*multipart.FileHeader{upload})
	if err != nil {
		a.submitError(c, err)
		return
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:        job.KindAudioEnhance,
		UserID:      userID(c),
		Billable:    true,
		CleanupDirs: []string{stage},
		Op: media.AudioEnhanceOp{
			Tools:  a.tools,
			Input:  inputs[0],
			Preset: preset,
		},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// SubmitDuplicateScan starts a duplicate-file scan over uploads.
func (a *API) SubmitDuplicateScan(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	uploads := form.File["files"]
	if len(uploads) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least 2 files required"})
		return
	}

	stage, inputs, err := a.stageUploads(uploads)
	if err != nil {
		a.submitError(c, err)
		return
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:        job.KindDuplicateScan,
		UserID:      userID(c),
		TotalFiles:  len(inputs),
		CleanupDirs: []string{stage},
		Op:          dupscan.Op{Inputs: inputs},
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// SubmitEncrypt starts a file encryption job.
func (a *API) SubmitEncrypt(c *gin.Context) {
	a.submitCrypt(c, job.KindEncrypt)
}

// SubmitDecrypt starts a file decryption job.
func (a *API) SubmitDecrypt(c *gin.Context) {
	a.submitCrypt(c, job.KindDecrypt)
}

func (a *API) submitCrypt(c *gin.Context, kind job.Kind) {
	upload, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	passphrase := c.PostForm("passphrase")
	if passphrase == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passphrase required"})
		return
	}

	stage, inputs, err := a.stageUploads([]*multipart.FileHeader{upload})
	if err != nil {
		a.submitError(c, err)
		return
	}

	var op job.Operation
	if kind == job.KindEncrypt {
		op = crypt.EncryptOp{Input: inputs[0], Passphrase: passphrase}
	} else {
		op = crypt.DecryptOp{Input: inputs[0], Passphrase: passphrase}
	}

	id, err := a.manager.Submit(job.Spec{
		Kind:        kind,
		UserID:      userID(c),
		CleanupDirs: []string{stage},
		Op:          op,
	})
	if err != nil {
		a.submitError(c, err)
		return
	}
	a.submitted(c, id)
}

// Status returns the full job snapshot.
func (a *API) Status(c *gin.Context) {
	snap, err := a.manager.Registry().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Cancel requests cooperative cancellation of a running job.
func (a *API) Cancel(c *gin.Context) {
	id := c.Param("id")
	switch err := a.manager.Cancel(id); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"job_id": id, "state": job.StateCancelling})
	case errors.Is(err, job.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, job.ErrJobNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "job is not running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// DownloadArtifact serves the completed job's artifact as an attachment.
func (a *API) DownloadArtifact(c *gin.Context) {
	id := c.Param("id")
	artifact, err := a.manager.Artifact(id)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	case errors.Is(err, job.ErrJobNotReady):
		c.JSON(http.StatusBadRequest, gin.H{"error": "job is not completed"})
		return
	case errors.Is(err, job.ErrArtifactMissing):
		log.Warn().Str("job_id", id).Msg("artifact missing on download")
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact no longer available"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	contentType, filename := artifactDisposition(artifact.Path, artifact.Filename)
	// Content-Type is forced before FileAttachment so ServeFile keeps
	// it; FileAttachment handles quote escaping in the filename.
	c.Header("Content-Type", contentType)
	c.FileAttachment(artifact.Path, filename)
}

// ListJobs returns a snapshot of the whole registry.
func (a *API) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": a.manager.Registry().List()})
}

// History returns recent download history rows.
func (a *API) History(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusOK, gin.H{"downloads": []history.Download{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := a.history.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("history listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloads": rows})
}

// stageUploads lands multipart files into a fresh staging dir and
// returns the dir plus the saved paths.
func (a *API) stageUploads(uploads []*multipart.FileHeader) (string, []string, error) {
	stage, err := a.manager.StageDir()
	if err != nil {
		return "", nil, err
	}
	paths := make([]string, 0, len(uploads))
	for i, u := range uploads {
		name := filepath.Base(u.Filename)
		if name == "" || name == "." {
			name = fmt.Sprintf("upload-%d", i+1)
		}
		dst := filepath.Join(stage, name)
		if err := a.saveUpload(u, dst); err != nil {
			return "", nil, err
		}
		paths = append(paths, dst)
	}
	return stage, paths, nil
}

func (a *API) saveUpload(u *multipart.FileHeader, dst string) error {
	src, err := u.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()
	if err := fileutil.CopyAtomic(dst, src); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

func validMediaURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func formFloat(c *gin.Context, key string, fallback float64) float64 {
	v := c.PostForm(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func formInt(c *gin.Context, key string, fallback int) int {
	v := c.PostForm(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
