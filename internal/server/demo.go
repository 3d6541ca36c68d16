package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dagbolade/rasp-agent/internal/agent"
	"github.com/dagbolade/rasp-agent/internal/block"
	"github.com/dagbolade/rasp-agent/internal/hook"
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/proxy"
	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
)

// DemoHandler is a deliberately naive application used to exercise the
// interception points end to end.
type DemoHandler struct {
	fs      afero.Fs
	fetcher *proxy.Forwarder
}

func NewDemoHandler(fs afero.Fs) *DemoHandler {
	return &DemoHandler{
		fs:      fs,
		fetcher: proxy.NewForwarder(10*time.Second, intercept),
	}
}

// ReadFile serves ?name= from disk.
func (h *DemoHandler) ReadFile(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	err := intercept(c.Request().Context(), &hook.Operation{
		Point:    hook.PointFileOpen,
		Operands: map[string]any{"function": "file_get_contents"},
		Resource: &hook.Resource{Path: name, Intents: pathpolicy.Read},
	})
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(h.fs, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, data)
}

// Echo reflects ?msg= into an HTML page.
func (h *DemoHandler) Echo(c echo.Context) error {
	page := "<p>" + c.QueryParam("msg") + "</p>"

	err := intercept(c.Request().Context(), &hook.Operation{
		Point:    hook.PointEcho,
		Operands: map[string]any{"output": page, "type": "echo"},
	})
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, page)
}

// Query concatenates id into a SQL statement.
func (h *DemoHandler) Query(c echo.Context) error {
	query := "SELECT name, price FROM products WHERE id = " + c.FormValue("id")

	err := intercept(c.Request().Context(), &hook.Operation{
		Point:    hook.PointSQL,
		Operands: map[string]any{"server": "sqlite", "query": query},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"query": query})
}

// Fetch retrieves ?url= on behalf of the client.
func (h *DemoHandler) Fetch(c echo.Context) error {
	target := c.QueryParam("url")
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	body, err := h.fetcher.Forward(c.Request().Context(), target)
	if err != nil {
		if block.IsAbort(err) {
			return err
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, body)
}

func intercept(ctx context.Context, op *hook.Operation) error {
	w, ok := agent.WorkerFrom(ctx)
	if !ok {
		return nil
	}
	return w.Dispatch(ctx, op)
}
