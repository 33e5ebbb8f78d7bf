package portal

import (
	"context"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/formutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionInvalid
	SessionValid
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionInvalid:
		return "invalid"
	}
	return "unknown"
}

// ValidateSession probes the authenticated-only home page with a single
// GET. Network failures yield SessionUnknown, which callers must not
// treat as SessionInvalid. Cookie state is never written here.
func (c *Client) ValidateSession(ctx context.Context) (SessionState, error) {
	ctx, span := tracer.Start(ctx, "client:ValidateSession")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(c.Endpoints.HomePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe request failed")
		return SessionUnknown, err
	}

	// an expired session bounces to the login page
	if IsRedirect(res.StatusCode()) {
		return SessionInvalid, nil
	}

	doc, err := formutil.Document(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe page unparseable")
		return SessionUnknown, err
	}

	if HasSessionOwner(doc, c.Endpoints.SessionOwnerSelector) {
		return SessionValid, nil
	}
	return SessionInvalid, nil
}

// HasSessionOwner reports whether the page still names the logged-in
// portal user. Its absence on any authenticated page means the session
// died.
func HasSessionOwner(doc *goquery.Document, selector string) bool {
	return htmlutil.SelectionText(doc.Find(selector)) != ""
}
