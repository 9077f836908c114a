package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// ClientCookie identifies a browser across requests. Sessions and signup
	// drafts are keyed by it.
	ClientCookie   = "join_client"
	clientHeader   = "X-Client-ID"
	ctxClientID    = "join.client"
	ctxClientNew   = "join.client.new"
	clientIDMaxLen = 64
	clientMaxAge   = 365 * 24 * time.Hour
)

// ClientID makes sure every request carries a client id, issuing a cookie
// when the client sent none.
func ClientID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(clientHeader)
			if id == "" {
				if ck, err := c.Cookie(ClientCookie); err == nil {
					id = ck.Value
				}
			}
			if !validClientID(id) {
				id = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(clientMaxAge / time.Second),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				c.Set(ctxClientNew, true)
			}
			c.Set(ctxClientID, id)
			return next(c)
		}
	}
}

func validClientID(id string) bool {
	if id == "" || len(id) > clientIDMaxLen {
		return false
	}
	for _, r := range id {
		if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func clientIDOf(c echo.Context) string {
	id, _ := c.Get(ctxClientID).(string)
	return id
}

// issuedClientID reports whether the client id was minted for this request.
func issuedClientID(c echo.Context) bool {
	issued, _ := c.Get(ctxClientNew).(bool)
	return issued
}

// GzipRequestMiddleware decompresses gzip encoded request bodies. Bodies
// that are not valid gzip are rejected with 400. The decompressed body is
// limited to maxBodySize since body limits only see the compressed size.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			gr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = http.MaxBytesReader(c.Response(), &gzipReadCloser{Reader: gr, body: req.Body}, maxBodySize)
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
