package services

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bulk-mailer/database"
	"bulk-mailer/logger"
	"bulk-mailer/mailer"
	"bulk-mailer/utils"
)

// Request is one bulk send as submitted by the client. The Dispatcher owns and
// releases both temp files, whatever the outcome.
type Request struct {
	Subject     string
	Body        string
	Emails      string          // comma-separated manual input
	Spreadsheet *utils.TempFile // takes precedence over Emails
	Attachment  *utils.TempFile
}

// Result is the outcome for one candidate address.
type Result struct {
	Email  string          `json:"email"`
	Status database.Status `json:"status"`
	Error  string          `json:"error,omitempty"`
}

type Summary struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type Response struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Dispatcher runs the extract, validate, upsert, send and log pipeline.
type Dispatcher struct {
	addresses   database.AddressDirectory
	deliveries  database.DeliveryLog
	transport   mailer.Transport
	from        string
	concurrency int
	dailyLimit  int
	location    *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Dispatcher)

// WithConcurrency bounds how many sends run at once. Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.concurrency = n
		}
	}
}

// WithDailyLimit caps attempts per calendar day in loc. A limit <= 0 disables the check.
func WithDailyLimit(limit int, loc *time.Location) Option {
	return func(d *Dispatcher) {
		d.dailyLimit = limit
		if loc != nil {
			d.location = loc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher wires the pipeline. from is the sender address on every message.
func NewDispatcher(addresses database.AddressDirectory, deliveries database.DeliveryLog, transport mailer.Transport, from string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		addresses:   addresses,
		deliveries:  deliveries,
		transport:   transport,
		from:        from,
		concurrency: 1,
		location:    time.UTC,
		logger:      logger.Discard(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends one email per candidate and reports per-recipient outcomes.
// Only InputError, FormatError, ErrDailyLimitExceeded and unexpected failures are
// returned as errors; every per-recipient failure is part of the Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	defer d.release(ctx, req.Attachment, "attachment")
	defer d.release(ctx, req.Spreadsheet, "spreadsheet")

	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, &InputError{Message: msgMissingFields}
	}

	candidates, source, err := d.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := d.checkDailyLimit(ctx, len(candidates)); err != nil {
		return nil, err
	}

	attachment, err := loadAttachment(req.Attachment)
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "Sending emails",
		slog.Int("recipients", len(candidates)),
		slog.String("source", string(source)),
		slog.Bool("attachment", attachment != nil),
	)

	d.populateDirectory(ctx, candidates, source)

	tmpl := mailer.Message{
		From:    d.from,
		Subject: req.Subject,
		HTML:    req.Body,
		Text:    mailer.PlainText(req.Body),
	}
	if attachment != nil {
		tmpl.Attachments = []mailer.Attachment{*attachment}
	}

	results := make([]Result, len(candidates))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, email := range candidates {
		g.Go(func() error {
			results[i] = d.deliver(ctx, email, tmpl)
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{Results: results, Summary: summarize(results)}
	d.logger.InfoContext(ctx, "Bulk send finished",
		slog.Int("total", resp.Summary.Total),
		slog.Int("sent", resp.Summary.Sent),
		slog.Int("failed", resp.Summary.Failed),
	)
	return resp, nil
}

// resolve turns the request into candidate addresses. The spreadsheet is deleted as
// soon as it has been parsed.
func (d *Dispatcher) resolve(ctx context.Context, req Request) ([]string, database.Source, error) {
	var (
		emails []string
		source database.Source
	)

	switch {
	case req.Spreadsheet != nil:
		extracted, err := ExtractSpreadsheet(req.Spreadsheet.Path)
		d.release(ctx, req.Spreadsheet, "spreadsheet")
		if err != nil {
			d.logger.WarnContext(ctx, "Error processing Excel file", logger.Err(err))
			return nil, "", err
		}
		d.logger.InfoContext(ctx, "Extracted emails from Excel file", slog.Int("count", len(extracted)))
		emails, source = extracted, database.SourceSpreadsheet
	case req.Emails != "":
		emails, source = SplitManual(req.Emails), database.SourceManual
	default:
		return nil, "", &InputError{Message: msgNoEmailsProvided}
	}

	if len(emails) == 0 {
		return nil, "", &InputError{Message: msgNoValidEmails}
	}
	return emails, source, nil
}

func (d *Dispatcher) checkDailyLimit(ctx context.Context, batch int) error {
	if d.dailyLimit <= 0 {
		return nil
	}
	count, err := utils.GetDailyMailCount(ctx, d.deliveries, d.location, d.now())
	if err != nil {
		return err
	}
	if count+batch > d.dailyLimit {
		return fmt.Errorf("%w: %d sent today, %d requested, limit %d",
			ErrDailyLimitExceeded, count, batch, d.dailyLimit)
	}
	return nil
}

// populateDirectory records every valid candidate before the first send.
// Persistence errors are logged and never stop the batch.
func (d *Dispatcher) populateDirectory(ctx context.Context, candidates []string, source database.Source) {
	for _, email := range candidates {
		if !IsValidEmail(email) {
			continue
		}
		if err := d.addresses.Upsert(ctx, email, source); err != nil {
			d.logger.ErrorContext(ctx, "Error saving email to database",
				slog.String("email", email), logger.Err(err))
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, email string, tmpl mailer.Message) Result {
	if !IsValidEmail(email) {
		res := Result{Email: email, Status: database.StatusFailed, Error: msgInvalidFormat}
		d.appendLog(ctx, res, tmpl)
		return res
	}

	msg := tmpl
	msg.To = email
	if err := d.transport.Send(ctx, &msg); err != nil {
		d.logger.WarnContext(ctx, "Error sending email", slog.String("email", email), logger.Err(err))
		res := Result{Email: email, Status: database.StatusFailed, Error: err.Error()}
		d.appendLog(ctx, res, tmpl)
		return res
	}

	if err := d.addresses.TouchLastUsed(ctx, email); err != nil {
		d.logger.ErrorContext(ctx, "Error updating last used time",
			slog.String("email", email), logger.Err(err))
	}

	res := Result{Email: email, Status: database.StatusSent}
	d.appendLog(ctx, res, tmpl)
	return res
}

func (d *Dispatcher) appendLog(ctx context.Context, res Result, tmpl mailer.Message) {
	rec := database.DeliveryRecord{
		Email:     res.Email,
		Subject:   tmpl.Subject,
		Body:      tmpl.HTML,
		Status:    res.Status,
		CreatedAt: d.now(),
	}
	if res.Error != "" {
		msg := res.Error
		rec.ErrorMessage = &msg
	}
	if len(tmpl.Attachments) > 0 {
		name := tmpl.Attachments[0].Filename
		rec.HasAttachment = true
		rec.AttachmentName = &name
	}

	if err := d.deliveries.Append(ctx, rec); err != nil {
		d.logger.ErrorContext(ctx, "CRITICAL: Failed to log email attempt to DB",
			slog.String("email", res.Email), logger.Err(err))
	}
}

func (d *Dispatcher) release(ctx context.Context, f *utils.TempFile, kind string) {
	if err := f.Release(); err != nil {
		d.logger.ErrorContext(ctx, "Error deleting uploaded file",
			slog.String("kind", kind), logger.Err(err))
	}
}

func loadAttachment(f *utils.TempFile) (*mailer.Attachment, error) {
	if f == nil {
		return nil, nil
	}
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", f.Name, err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &mailer.Attachment{Filename: f.Name, ContentType: contentType, Content: content}, nil
}

func summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case database.StatusSent:
			s.Sent++
		case database.StatusFailed:
			s.Failed++
		}
	}
	return s
}
