package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bulk-mailer/config"
	"bulk-mailer/database"
	"bulk-mailer/logger"
	"bulk-mailer/mailer"
	"bulk-mailer/services"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []*mailer.Message
	fail map[string]error
}

func (t *recordingTransport) Send(_ context.Context, msg *mailer.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[msg.To]; err != nil {
		return err
	}
	t.sent = append(t.sent, msg)
	return nil
}

type downStore struct {
	*database.MemoryStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type brokenCounts struct {
	database.DeliveryLog
}

func (brokenCounts) CountByStatus(context.Context, time.Time, time.Time) (map[database.Status]int, error) {
	return nil, errors.New("timeout")
}

type testServer struct {
	router    http.Handler
	store     *database.MemoryStore
	transport *recordingTransport
	uploadDir string
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		Timezone:            "UTC",
		StaticDir:           filepath.Join(t.TempDir(), "missing"),
		UploadDir:           filepath.Join(t.TempDir(), "uploads"),
		MaxUploadBytes:      1 << 20,
		DailyMailLimit:      100,
		DispatchConcurrency: 1,
	}
	for _, m := range mutate {
		m(cfg)
	}

	store := database.NewMemoryStore(database.SourceOverwrite)
	transport := &recordingTransport{}
	d := services.NewDispatcher(store.Addresses(), store.Deliveries(), transport, "noreply@example.com",
		services.WithDailyLimit(cfg.DailyMailLimit, cfg.Location()),
	)

	return &testServer{
		router:    NewRouter(cfg, store, d, logger.Discard()),
		store:     store,
		transport: transport,
		uploadDir: cfg.UploadDir,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) assertUploadsCleaned(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.uploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type upload struct {
	field, name string
	content     []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...upload) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/emails/send", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(fields url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/emails/send", strings.NewReader(fields.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSendBulkEmail_ManualForm(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(formRequest(url.Values{
		"subject": {"Launch"},
		"body":    {"<p>We are live</p>"},
		"emails":  {"a@x.io, not-an-email, b@x.io"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[services.Response](t, rec)
	assert.Equal(t, services.Summary{Total: 3, Sent: 2, Failed: 1}, resp.Summary)
	assert.Equal(t, "Invalid email format", resp.Results[1].Error)
	assert.Len(t, s.transport.sent, 2)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSendBulkEmail_SpreadsheetAndAttachment(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := multipartRequest(t,
		map[string]string{"subject": "Report", "body": "<p>See attached</p>", "emails": "ignored@x.io"},
		upload{field: "file", name: "list.xlsx", content: workbook(t, []any{"Email"}, []any{"one@x.io"}, []any{"two@x.io"})},
		upload{field: "attachment", name: "report.pdf", content: []byte("%PDF-1.7")},
	)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[services.Response](t, rec)
	assert.Equal(t, services.Summary{Total: 2, Sent: 2}, resp.Summary)
	require.Len(t, s.transport.sent, 2)
	assert.Equal(t, "one@x.io", s.transport.sent[0].To)
	require.Len(t, s.transport.sent[0].Attachments, 1)
	assert.Equal(t, "report.pdf", s.transport.sent[0].Attachments[0].Filename)

	records, _, err := s.store.Addresses().List(context.Background(), database.AddressFilter{})
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, database.SourceSpreadsheet, r.Source)
	}
	s.assertUploadsCleaned(t)
}

func TestSendBulkEmail_LegacySpreadsheet(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	content, err := os.ReadFile(filepath.Join("testdata", "recipients.xls"))
	require.NoError(t, err)
	req := multipartRequest(t,
		map[string]string{"subject": "Hello", "body": "<p>Hi</p>"},
		upload{field: "file", name: "Recipients.XLS", content: content},
	)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[services.Response](t, rec)
	assert.Equal(t, services.Summary{Total: 3, Sent: 1, Failed: 2}, resp.Summary)
	require.Len(t, s.transport.sent, 1)
	assert.Equal(t, "ann@example.com", s.transport.sent[0].To)
	s.assertUploadsCleaned(t)
}

func TestSendBulkEmail_ClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		want   string
	}{
		{
			name: "missing body",
			req: func(*testing.T) *http.Request {
				return formRequest(url.Values{"subject": {"s"}, "emails": {"a@x.io"}})
			},
			status: http.StatusBadRequest,
			want:   "Fields 'subject' and 'body' are required.",
		},
		{
			name: "no recipients",
			req: func(*testing.T) *http.Request {
				return formRequest(url.Values{"subject": {"s"}, "body": {"b"}})
			},
			status: http.StatusBadRequest,
			want:   "No emails provided. Please enter emails or upload an Excel file.",
		},
		{
			name: "wrong spreadsheet type",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, map[string]string{"subject": "s", "body": "b"},
					upload{field: "file", name: "list.csv", content: []byte("Email\na@x.io\n")})
			},
			status: http.StatusBadRequest,
			want:   msgSpreadsheetType,
		},
		{
			name: "wrong attachment type",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, map[string]string{"subject": "s", "body": "b", "emails": "a@x.io"},
					upload{field: "attachment", name: "run.exe", content: []byte("MZ")})
			},
			status: http.StatusBadRequest,
			want:   msgAttachmentType,
		},
		{
			name: "missing email column",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, map[string]string{"subject": "s", "body": "b"},
					upload{field: "file", name: "list.xlsx", content: workbook(t, []any{"Name"}, []any{"Ann"})})
			},
			status: http.StatusBadRequest,
			want:   `Invalid Excel format. The first row must contain an "Email" column.`,
		},
		{
			name: "unreadable workbook",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, map[string]string{"subject": "s", "body": "b"},
					upload{field: "file", name: "list.xlsx", content: []byte("not a zip")})
			},
			status: http.StatusBadRequest,
			want:   "Could not process the Excel file. Please check the format.",
		},
		{
			name: "unreadable legacy workbook",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, map[string]string{"subject": "s", "body": "b"},
					upload{field: "file", name: "list.xls", content: []byte("not a compound file")})
			},
			status: http.StatusBadRequest,
			want:   "Could not process the Excel file. Please check the format.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)

			rec := s.do(tt.req(t))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode[ErrorBody](t, rec).Error)
			assert.Empty(t, s.transport.sent)
			s.assertUploadsCleaned(t)
		})
	}
}

func TestSendBulkEmail_RejectedAttachmentReleasesSpreadsheet(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(multipartRequest(t, map[string]string{"subject": "s", "body": "b"},
		upload{field: "file", name: "list.xlsx", content: workbook(t, []any{"Email"}, []any{"a@x.io"})},
		upload{field: "attachment", name: "script.sh", content: []byte("#!/bin/sh")},
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	s.assertUploadsCleaned(t)
}

func TestSendBulkEmail_FileTooLarge(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) { c.MaxUploadBytes = 64 })

	rec := s.do(multipartRequest(t, map[string]string{"subject": "s", "body": "b", "emails": "a@x.io"},
		upload{field: "attachment", name: "notes.txt", content: bytes.Repeat([]byte("x"), 128)},
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorBody](t, rec).Error, "File too large")
	assert.Empty(t, s.transport.sent)
}

func TestSendBulkEmail_DailyLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) { c.DailyMailLimit = 2 })

	rec := s.do(formRequest(url.Values{"subject": {"s"}, "body": {"b"}, "emails": {"a@x.io,b@x.io,c@x.io"}}))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Daily mail limit exceeded.", decode[ErrorBody](t, rec).Error)
	assert.Empty(t, s.transport.sent)
}

func TestSendBulkEmail_ServerError(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore(database.SourceOverwrite)
	d := services.NewDispatcher(store.Addresses(), brokenCounts{store.Deliveries()}, &recordingTransport{}, "noreply@example.com",
		services.WithDailyLimit(10, time.UTC))
	handler := SendBulkEmailHandler(d, t.TempDir(), 1<<20, logger.Discard())

	rec := httptest.NewRecorder()
	handler(rec, formRequest(url.Values{"subject": {"s"}, "body": {"b"}, "emails": {"a@x.io"}}))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ServerErrorBody](t, rec)
	assert.Equal(t, "Server Error", body.Error)
	assert.Contains(t, body.Message, "timeout")
}

func TestListAddresses(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	s.store.WithClock(func() time.Time { tick = tick.Add(time.Minute); return tick })
	for _, e := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, s.store.Addresses().Upsert(ctx, e, database.SourceManual))
	}
	require.NoError(t, s.store.Addresses().Upsert(ctx, "d@x.io", database.SourceSpreadsheet))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/emails?page=2&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[AddressPage](t, rec)
	assert.Equal(t, Pagination{Total: 4, Page: 2, Pages: 2}, page.Pagination)
	require.Len(t, page.Emails, 2)
	assert.Equal(t, "b@x.io", page.Emails[0].Email)
	assert.Equal(t, "a@x.io", page.Emails[1].Email)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/emails?source=excel", nil))
	page = decode[AddressPage](t, rec)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, "d@x.io", page.Emails[0].Email)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/emails?source=carrier-pigeon&page=0&limit=-3", nil))
	page = decode[AddressPage](t, rec)
	assert.Equal(t, Pagination{Total: 4, Page: 1, Pages: 1}, page.Pagination)
}

func TestListAddresses_HugePage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	require.NoError(t, s.store.Addresses().Upsert(context.Background(), "a@x.io", database.SourceManual))

	for _, target := range []string{
		"/api/emails?page=4611686018427387905",
		"/api/emails?page=9223372036854775807&limit=9223372036854775807",
		"/api/emails?page=2&limit=9223372036854775807",
	} {
		rec := s.do(httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
		page := decode[AddressPage](t, rec)
		assert.Empty(t, page.Emails, target)
		assert.Equal(t, 1, page.Pagination.Total, target)
	}
}

func TestListAddresses_EmptyIsArray(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/emails", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"emails":[],"pagination":{"total":0,"page":1,"pages":0}}`, rec.Body.String())
}

func TestGetLogs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := range 7 {
		require.NoError(t, s.store.Deliveries().Append(ctx, database.DeliveryRecord{
			Email:     "a@x.io",
			Subject:   "s",
			Body:      "<p>" + strings.Repeat("y", 300) + "</p>",
			Status:    database.StatusSent,
			CreatedAt: now.Add(time.Duration(i-10) * time.Millisecond),
		}))
	}
	old := time.Date(2025, 12, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.store.Deliveries().Append(ctx, database.DeliveryRecord{
		Email: "b@x.io", Subject: "xmas", Body: "ho", Status: database.StatusFailed, CreatedAt: old,
	}))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	today := decode[LogPage](t, rec)
	require.Len(t, today.Logs, 5)
	assert.Len(t, today.Logs[0].BodyPreview, 203)
	assert.True(t, strings.HasSuffix(today.Logs[0].BodyPreview, "..."))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/logs?date=2025-12-24", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	xmas := decode[LogPage](t, rec)
	assert.Equal(t, "2025-12-24", xmas.Date)
	require.Len(t, xmas.Logs, 1)
	assert.Equal(t, "b@x.io", xmas.Logs[0].Email)
	assert.Equal(t, "ho", xmas.Logs[0].BodyPreview)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/logs?date=24-12-2025", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLimitAndStats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) { c.DailyMailLimit = 10 })
	ctx := context.Background()

	now := time.Now().UTC()
	statuses := []database.Status{database.StatusSent, database.StatusSent, database.StatusFailed}
	for _, st := range statuses {
		require.NoError(t, s.store.Deliveries().Append(ctx, database.DeliveryRecord{
			Email: "a@x.io", Status: st, CreatedAt: now,
		}))
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/limit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LimitStatus{CurrentCount: 3, Limit: 10, Remaining: 7}, decode[LimitStatus](t, rec))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"sent": 2, "failed": 1}, decode[map[string]int](t, rec))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/stats/daily?days=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	daily := decode[map[string]int](t, rec)
	assert.Len(t, daily, 3)
	assert.Equal(t, 3, daily[now.Format("2006-01-02")])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	HealthHandler(database.NewMemoryStore(database.SourceOverwrite), logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(downStore{database.NewMemoryStore(database.SourceOverwrite)}, logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := s.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
