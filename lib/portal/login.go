package portal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/formutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

type LoginState int

const (
	StateInit LoginState = iota
	StateCredentialsSubmitted
	StateRedirecting
	StateTokenExtraction
	StateAuthenticated
	StateAwaitingChallenge
	StateFailed
)

func (s LoginState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateRedirecting:
		return "redirecting"
	case StateTokenExtraction:
		return "token_extraction"
	case StateAuthenticated:
		return "authenticated"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Credentials struct {
	Username string
	Password string
}

// InvalidCredentialsError carries the portal's own error label text so the
// operator sees the upstream wording.
type InvalidCredentialsError struct {
	Message string
}

func (e *InvalidCredentialsError) Error() string {
	return "invalid credentials: " + e.Message
}

// OneTimeCodeRequiredError is returned when the portal interposes a
// verification-code page between the credential POST and the relay. The
// login completes via SubmitOneTimeCode on the same client.
type OneTimeCodeRequiredError struct {
	Prompt string
}

func (e *OneTimeCodeRequiredError) Error() string {
	if e.Prompt == "" {
		return "one-time code required"
	}
	return "one-time code required: " + e.Prompt
}

var ErrUnknownLogin = fmt.Errorf("login failed for an unknown reason")

// ErrSessionExpired is raised when the portal drops an authenticated
// session and a single re-login attempt could not bring it back.
var ErrSessionExpired = fmt.Errorf("portal session expired")

type LoginResult struct {
	// the opaque token the relay iframe hands to the realtime channel
	Token string
	// the session cookies accumulated across the login flow
	CookieBlob []byte
}

// Login drives the multi-step portal login: fetch the login form, POST
// credentials merged into its hidden defaults, then follow (by hand) the
// single allowed redirect hop to the relay page and pull the token out of
// its iframe. A 200 response to the POST means the login was rejected.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	state := StateInit
	setState := func(next LoginState) {
		slog.DebugContext(ctx, "login state", "from", state.String(), "to", next.String())
		state = next
	}
	fail := func(err error, status string) (LoginResult, error) {
		setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return LoginResult{}, err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(c.Endpoints.LoginPath)
	if err != nil {
		return fail(err, "failed to fetch login page")
	}

	fields, err := formutil.Fields(res.Body(), "")
	if err != nil {
		return fail(err, "failed to parse login page")
	}
	if len(fields) == 0 {
		return fail(
			fmt.Errorf("login page has no form: %w", ErrUnknownLogin),
			"login page has no form",
		)
	}
	fields[c.Endpoints.UsernameField] = creds.Username
	fields[c.Endpoints.PasswordField] = creds.Password

	setState(StateCredentialsSubmitted)
	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(c.Endpoints.LoginPath)
	if err != nil {
		return fail(err, "failed to submit credentials")
	}

	if !IsRedirect(res.StatusCode()) {
		// the accepted credentials may land on a verification-code page
		// instead of the relay redirect
		if otpFields, ok := oneTimeCodeForm(res.Body(), c.Endpoints.OtpCodeField); ok {
			c.otpForm = otpFields
			setState(StateAwaitingChallenge)
			otpErr := &OneTimeCodeRequiredError{
				Prompt: loginErrorMessage(res.Body(), c.Endpoints.OtpPromptSelector),
			}
			span.RecordError(otpErr)
			span.SetStatus(codes.Error, "one-time code demanded")
			return LoginResult{}, otpErr
		}
		// otherwise a 200 means the portal re-rendered the login page
		// with an error label instead of letting us through
		message := loginErrorMessage(res.Body(), c.Endpoints.ErrorLabelSelector)
		if message != "" {
			return fail(&InvalidCredentialsError{Message: message}, "credentials rejected")
		}
		return fail(ErrUnknownLogin, "login rejected without an error label")
	}

	result, err := c.followRelay(ctx, res, setState)
	if err != nil {
		return fail(err, "failed to complete the relay hop")
	}
	return result, nil
}

// SubmitOneTimeCode completes a login that stopped on the portal's
// verification-code page. It must follow a Login call that returned
// OneTimeCodeRequiredError on the same client: the code page's hidden
// fields are replayed with the code merged in.
func (c *Client) SubmitOneTimeCode(ctx context.Context, code string) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "client:SubmitOneTimeCode")
	defer span.End()

	state := StateAwaitingChallenge
	setState := func(next LoginState) {
		slog.DebugContext(ctx, "login state", "from", state.String(), "to", next.String())
		state = next
	}
	fail := func(err error, status string) (LoginResult, error) {
		setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return LoginResult{}, err
	}

	if c.otpForm == nil {
		return fail(
			fmt.Errorf("no one-time code was demanded: %w", ErrUnknownLogin),
			"no verification-code page pending",
		)
	}
	fields := make(map[string]string, len(c.otpForm))
	for name, value := range c.otpForm {
		fields[name] = value
	}
	fields[c.Endpoints.OtpCodeField] = code
	c.otpForm = nil

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(c.Endpoints.LoginPath)
	if err != nil {
		return fail(err, "failed to submit the code")
	}

	if !IsRedirect(res.StatusCode()) {
		message := loginErrorMessage(res.Body(), c.Endpoints.ErrorLabelSelector)
		if message != "" {
			return fail(&InvalidCredentialsError{Message: message}, "code rejected")
		}
		return fail(ErrUnknownLogin, "code rejected without an error label")
	}

	result, err := c.followRelay(ctx, res, setState)
	if err != nil {
		return fail(err, "failed to complete the relay hop")
	}
	return result, nil
}

// followRelay walks the single allowed redirect hop after an accepted
// credential or verification-code POST: to the relay page, whose iframe
// carries the realtime channel token.
func (c *Client) followRelay(ctx context.Context, res *resty.Response, setState func(LoginState)) (LoginResult, error) {
	location := res.Header().Get("Location")
	target, err := c.BaseUrl.Parse(location)
	if err != nil {
		return LoginResult{}, fmt.Errorf("unparseable redirect location %q: %w", location, ErrUnknownLogin)
	}
	if target.Path != c.Endpoints.RelayPath {
		return LoginResult{}, fmt.Errorf("login redirected to %q instead of the relay: %w", location, ErrUnknownLogin)
	}

	setState(StateRedirecting)
	res, err = c.Http.R().
		SetContext(ctx).
		Get(target.String())
	if err != nil {
		return LoginResult{}, err
	}

	setState(StateTokenExtraction)
	token, err := extractRelayToken(res.Body())
	if err != nil {
		return LoginResult{}, err
	}

	blob, err := c.ExportCookies()
	if err != nil {
		return LoginResult{}, err
	}

	setState(StateAuthenticated)
	return LoginResult{Token: token, CookieBlob: blob}, nil
}

// oneTimeCodeForm reports whether the page's form asks for a verification
// code, returning its fields so the code POST can echo the hidden defaults.
func oneTimeCodeForm(body []byte, codeField string) (map[string]string, bool) {
	fields, err := formutil.Fields(body, "")
	if err != nil {
		return nil, false
	}
	_, ok := fields[codeField]
	return fields, ok
}

func loginErrorMessage(body []byte, selector string) string {
	doc, err := formutil.Document(body)
	if err != nil {
		return ""
	}
	return htmlutil.SelectionText(doc.Find(selector))
}

func extractRelayToken(body []byte) (string, error) {
	doc, err := formutil.Document(body)
	if err != nil {
		return "", err
	}

	var token string
	doc.Find("iframe").EachWithBreak(func(_ int, frame *goquery.Selection) bool {
		src := frame.AttrOr("src", "")
		link, err := url.Parse(src)
		if err != nil {
			return true
		}
		if t := link.Query().Get("token"); t != "" {
			token = t
			return false
		}
		return true
	})
	if token == "" {
		return "", fmt.Errorf("relay page has no iframe with a token: %w", ErrUnknownLogin)
	}
	return token, nil
}
