package gateway

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"

	"github.com/hexflow/datagate/creds"
	"github.com/hexflow/datagate/datacache"
	"github.com/hexflow/datagate/queryfilter"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (srv *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok", Version: versioninfo.Short()})
}

func (srv *Server) handleDataRequest(c echo.Context) error {
	ctx := c.Request().Context()
	tenant := c.Param("tenant")
	endpoint := c.Param("endpoint")
	key := c.Param("key")

	rec, err := srv.creds.Lookup(ctx, tenant, endpoint, key)
	if err != nil {
		if errors.Is(err, creds.ErrCredentialNotFound) {
			return srv.deny(c, tenant, endpoint)
		}
		srv.logger.Error("credential lookup failed", "tenant", tenant, "endpoint", endpoint, "err", err)
		return c.JSON(http.StatusInternalServerError, GenericError{Error: "InternalError", Message: "internal error"})
	}
	if rec.Status != creds.StatusActive {
		return srv.deny(c, tenant, endpoint)
	}
	if rec.AllowedMethod != "" && !strings.EqualFold(rec.AllowedMethod, c.Request().Method) {
		return srv.deny(c, tenant, endpoint)
	}

	records, err := srv.cache.Get(ctx, rec.DatasetID, routeTokens(c.Request().URL.Path))
	if err != nil {
		srv.logger.Error("dataset load failed",
			"tenant", tenant, "endpoint", endpoint, "datasetID", rec.DatasetID, "err", err)
		if errors.Is(err, datacache.ErrCacheCorrupt) {
			return c.JSON(http.StatusInternalServerError, GenericError{Error: "InternalError", Message: "internal error"})
		}
		return c.JSON(http.StatusBadGateway, GenericError{Error: "UpstreamUnavailable", Message: "dataset temporarily unavailable"})
	}

	preds := queryfilter.ParsePredicates(c.QueryParams())
	matched := queryfilter.Apply(records, preds)

	// fire-and-forget: the response never waits on (or fails with) logging
	entry := accessLogEntry{
		Time:      time.Now().UTC(),
		Tenant:    tenant,
		Endpoint:  endpoint,
		DatasetID: rec.DatasetID,
		Method:    c.Request().Method,
		Path:      c.Request().URL.Path,
		Query:     c.Request().URL.RawQuery,
		Matched:   len(matched),
		Status:    http.StatusOK,
	}
	go srv.uploadLog(entry)

	if wantsCSV(c.Request().Header.Get(echo.HeaderAccept)) {
		return writeCSV(c, matched)
	}
	return c.JSON(http.StatusOK, matched)
}

// deny returns the single generic denial body; missing keys, disabled keys,
// and method mismatches are indistinguishable to the caller.
func (srv *Server) deny(c echo.Context, tenant, endpoint string) error {
	credDenials.WithLabelValues(tenant, endpoint).Inc()
	return c.JSON(http.StatusForbidden, GenericError{Error: "Forbidden", Message: "request not authorized"})
}

func routeTokens(path string) []string {
	parts := strings.Split(path, "/")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

type accessLogEntry struct {
	Time      time.Time `json:"time"`
	Tenant    string    `json:"tenant"`
	Endpoint  string    `json:"endpoint"`
	DatasetID string    `json:"dataset_id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Query     string    `json:"query"`
	Matched   int       `json:"matched"`
	Status    int       `json:"status"`
}

func (srv *Server) uploadLog(entry accessLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := json.Marshal(entry)
	if err != nil {
		srv.logger.Warn("encoding access log entry failed", "err", err)
		return
	}
	tsKey := entry.Time.Format(time.RFC3339Nano)
	if err := srv.store.PutLog(ctx, entry.DatasetID, tsKey, b); err != nil {
		logUploadFailures.Inc()
		srv.logger.Warn("access log upload failed", "datasetID", entry.DatasetID, "err", err)
	}
}

func wantsCSV(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mediaType, "text/csv") {
			return true
		}
	}
	return false
}

// writeCSV renders the matching records with a header row built from the
// sorted union of field names. Cells use the same canonical scalar form the
// filter uses for equality.
func writeCSV(c echo.Context, records []queryfilter.Record) error {
	fieldSet := map[string]struct{}{}
	for _, rec := range records {
		for f := range rec {
			fieldSet[f] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write(fields); err != nil {
		return err
	}
	row := make([]string, len(fields))
	for _, rec := range records {
		for i, f := range fields {
			row[i] = queryfilter.CanonicalString(rec[f])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
