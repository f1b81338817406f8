package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"bulk-mailer/database"
	"bulk-mailer/logger"
	"bulk-mailer/mailer"
	"bulk-mailer/services"
	"bulk-mailer/utils"
)

const (
	// multipartMemory is how much of a multipart body is held in memory before spilling to disk.
	multipartMemory = 8 << 20
	// formOverhead covers the text fields that travel alongside the two files.
	formOverhead = 1 << 20

	logPreviewLength = 200
	maxStatsDays     = 366
)

const (
	msgSpreadsheetType = "Only Excel files (.xlsx, .xls) are allowed for email lists"
	msgAttachmentType  = "This file type is not allowed as an email attachment"
	msgInvalidPayload  = "Invalid request payload"
	msgLimitExceeded   = "Daily mail limit exceeded."
)

// uploadRule describes one accepted file field of the send form.
type uploadRule struct {
	field  string
	exts   []string
	reject string
}

var (
	spreadsheetUpload = uploadRule{field: "file", exts: utils.SpreadsheetExts, reject: msgSpreadsheetType}
	attachmentUpload  = uploadRule{field: "attachment", exts: utils.AttachmentExts, reject: msgAttachmentType}
)

// rejection is an upload problem reported to the client as a 400.
type rejection struct {
	message string
}

func (r *rejection) Error() string { return r.message }

// SendBulkEmailHandler accepts the send form, stores the uploads and runs the dispatch.
// The batch runs to completion even if the client goes away.
func SendBulkEmailHandler(d *services.Dispatcher, uploadDir string, maxUpload int64, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := log.With(slog.String("request_id", RequestIDFromContext(r.Context())))

		r.Body = http.MaxBytesReader(w, r.Body, 2*maxUpload+formOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				errorResponse(w, log, fileTooLarge(maxUpload), http.StatusBadRequest)
				return
			}
			log.Warn("Error parsing send form", logger.Err(err))
			errorResponse(w, log, msgInvalidPayload, http.StatusBadRequest)
			return
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}

		spreadsheet, err := storeUpload(r, spreadsheetUpload, uploadDir, maxUpload)
		if err != nil {
			uploadFailed(w, log, err)
			return
		}
		attachment, err := storeUpload(r, attachmentUpload, uploadDir, maxUpload)
		if err != nil {
			if relErr := spreadsheet.Release(); relErr != nil {
				log.Error("Error deleting uploaded file", logger.Err(relErr))
			}
			uploadFailed(w, log, err)
			return
		}

		req := services.Request{
			Subject:     r.FormValue("subject"),
			Body:        r.FormValue("body"),
			Emails:      r.FormValue("emails"),
			Spreadsheet: spreadsheet,
			Attachment:  attachment,
		}

		resp, err := d.Dispatch(context.WithoutCancel(r.Context()), req)
		if err != nil {
			var (
				inputErr  *services.InputError
				formatErr *services.FormatError
			)
			switch {
			case errors.As(err, &inputErr):
				errorResponse(w, log, inputErr.Message, http.StatusBadRequest)
			case errors.As(err, &formatErr):
				errorResponse(w, log, formatErr.Message, http.StatusBadRequest)
			case errors.Is(err, services.ErrDailyLimitExceeded):
				log.Warn("Daily mail limit exceeded", logger.Err(err))
				errorResponse(w, log, msgLimitExceeded, http.StatusForbidden)
			default:
				log.Error("Server error", logger.Err(err))
				serverError(w, log, err)
			}
			return
		}

		successResponse(w, log, resp)
	}
}

// storeUpload copies the named file field to dir. A missing field yields nil, nil.
func storeUpload(r *http.Request, rule uploadRule, dir string, maxUpload int64) (*utils.TempFile, error) {
	fh := formFile(r, rule.field)
	if fh == nil {
		return nil, nil
	}
	if !utils.HasAllowedExt(fh.Filename, rule.exts) {
		return nil, &rejection{message: rule.reject}
	}
	if fh.Size > maxUpload {
		return nil, &rejection{message: fileTooLarge(maxUpload)}
	}
	return utils.SaveUpload(fh, dir, rule.field)
}

func formFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	if files := r.MultipartForm.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func uploadFailed(w http.ResponseWriter, log *slog.Logger, err error) {
	var rej *rejection
	if errors.As(err, &rej) {
		errorResponse(w, log, rej.message, http.StatusBadRequest)
		return
	}
	log.Error("Error storing upload", logger.Err(err))
	serverError(w, log, err)
}

func fileTooLarge(maxUpload int64) string {
	if maxUpload < 1<<20 {
		return fmt.Sprintf("File too large. Maximum size is %d bytes.", maxUpload)
	}
	return fmt.Sprintf("File too large. Maximum size is %dMB.", maxUpload>>20)
}

// Pagination describes one page of an address listing.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

// AddressPage is the body of GET /api/emails.
type AddressPage struct {
	Emails     []database.AddressRecord `json:"emails"`
	Pagination Pagination               `json:"pagination"`
}

// ListAddressesHandler pages through the address directory, newest first.
func ListAddressesHandler(addresses database.AddressDirectory, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := positiveInt(q.Get("page"), 1)
		limit := positiveInt(q.Get("limit"), database.DefaultPageSize)

		filter := database.AddressFilter{Page: page, PageSize: limit}
		// Unknown source values list everything.
		if source, ok := database.ParseSource(q.Get("source")); ok {
			filter.Source = source
		}

		records, total, err := addresses.List(r.Context(), filter)
		if err != nil {
			log.ErrorContext(r.Context(), "Error fetching email addresses", logger.Err(err))
			serverError(w, log, err)
			return
		}
		if records == nil {
			records = []database.AddressRecord{}
		}

		successResponse(w, log, AddressPage{
			Emails: records,
			Pagination: Pagination{
				Total: total,
				Page:  page,
				Pages: int(math.Ceil(float64(total) / float64(limit))),
			},
		})
	}
}

// LogEntry is a delivery record as shown in the log listing.
type LogEntry struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	Subject        string          `json:"subject"`
	BodyPreview    string          `json:"bodyPreview"`
	Status         database.Status `json:"status"`
	Error          *string         `json:"error"`
	HasAttachment  bool            `json:"hasAttachment"`
	AttachmentName *string         `json:"attachmentName"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// LogPage is the body of GET /api/logs.
type LogPage struct {
	Date string     `json:"date"`
	Logs []LogEntry `json:"logs"`
}

// GetLogsHandler lists one day's delivery attempts, newest first.
// Without a date it shows a short tail of today.
func GetLogsHandler(deliveries database.DeliveryLog, loc *time.Location, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		day := time.Now().In(loc)
		limit := positiveInt(q.Get("limit"), 5)
		if s := q.Get("date"); s != "" {
			parsed, err := time.ParseInLocation("2006-01-02", s, loc)
			if err != nil {
				errorResponse(w, log, "Invalid date format. Use YYYY-MM-DD.", http.StatusBadRequest)
				return
			}
			day = parsed
			limit = positiveInt(q.Get("limit"), 50)
		}

		start, end := utils.DayWindow(day, loc)
		records, err := deliveries.List(r.Context(), database.DeliveryFilter{Since: start, Until: end, Limit: limit})
		if err != nil {
			log.ErrorContext(r.Context(), "Error querying email logs", logger.Err(err))
			serverError(w, log, err)
			return
		}

		entries := make([]LogEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, LogEntry{
				ID:             rec.ID,
				Email:          rec.Email,
				Subject:        rec.Subject,
				BodyPreview:    mailer.Preview(rec.Body, logPreviewLength),
				Status:         rec.Status,
				Error:          rec.ErrorMessage,
				HasAttachment:  rec.HasAttachment,
				AttachmentName: rec.AttachmentName,
				CreatedAt:      rec.CreatedAt,
			})
		}
		successResponse(w, log, LogPage{Date: start.Format("2006-01-02"), Logs: entries})
	}
}

// LimitStatus is the body of GET /api/limit.
type LimitStatus struct {
	CurrentCount int `json:"current_count"`
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
}

// GetDailyLimitHandler reports today's usage against the daily limit.
func GetDailyLimitHandler(deliveries database.DeliveryLog, dailyLimit int, loc *time.Location, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentCount, err := utils.GetDailyMailCount(r.Context(), deliveries, loc, time.Now())
		if err != nil {
			log.ErrorContext(r.Context(), "Error getting daily mail count", logger.Err(err))
			serverError(w, log, err)
			return
		}
		successResponse(w, log, LimitStatus{
			CurrentCount: currentCount,
			Limit:        dailyLimit,
			Remaining:    max(dailyLimit-currentCount, 0),
		})
	}
}

// GetEmailStatsHandler reports today's sent/failed distribution.
func GetEmailStatsHandler(deliveries database.DeliveryLog, loc *time.Location, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCounts, err := utils.GetEmailStatusDistribution(r.Context(), deliveries, loc, time.Now())
		if err != nil {
			log.ErrorContext(r.Context(), "Error fetching email stats", logger.Err(err))
			serverError(w, log, err)
			return
		}
		successResponse(w, log, statusCounts)
	}
}

// GetDailySendsHandler reports attempts per day for the last ?days= days (7 by default).
func GetDailySendsHandler(deliveries database.DeliveryLog, loc *time.Location, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := min(positiveInt(r.URL.Query().Get("days"), 7), maxStatsDays)
		dailySends, err := utils.GetDailySendsOverPeriod(r.Context(), deliveries, loc, time.Now(), days)
		if err != nil {
			log.ErrorContext(r.Context(), "Error fetching daily sends", logger.Err(err))
			serverError(w, log, err)
			return
		}
		successResponse(w, log, dailySends)
	}
}

// Pinger is the part of a store the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers 200 while the store is reachable and 503 otherwise.
func HealthHandler(store Pinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			log.WarnContext(r.Context(), "Health check failed", logger.Err(err))
			respondWithJSON(w, log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		successResponse(w, log, map[string]string{"status": "ok"})
	}
}

// positiveInt parses s, falling back to def for anything missing or below 1.
func positiveInt(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}
