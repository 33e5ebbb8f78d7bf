package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("lib/portal")

// Endpoints describes where the portal keeps its pages. Everything here is
// deployment configuration: the portal operator moves pages and renames
// fields between school years, so none of it is hardcoded.
type Endpoints struct {
	BaseUrl   string `json:"base_url"`
	LoginPath string `json:"login_path"`
	// the intermediate page whose iframe carries the realtime channel token
	RelayPath string `json:"relay_path"`
	// an authenticated-only page used to probe session validity
	HomePath string `json:"home_path"`
	// the candidate listing page driven by the grid scrape
	GridPath string `json:"grid_path"`

	UsernameField string `json:"username_field"`
	PasswordField string `json:"password_field"`
	// the input the portal's verification-code page asks to fill
	OtpCodeField string `json:"otp_code_field"`

	ErrorLabelSelector   string `json:"error_label_selector"`
	OtpPromptSelector    string `json:"otp_prompt_selector"`
	SessionOwnerSelector string `json:"session_owner_selector"`
}

func (e Endpoints) withDefaults() Endpoints {
	if e.LoginPath == "" {
		e.LoginPath = "/default.aspx"
	}
	if e.RelayPath == "" {
		e.RelayPath = "/relay.aspx"
	}
	if e.HomePath == "" {
		e.HomePath = "/anasayfa.aspx"
	}
	if e.GridPath == "" {
		e.GridPath = "/adaylistesi.aspx"
	}
	if e.UsernameField == "" {
		e.UsernameField = "txtKullanici"
	}
	if e.PasswordField == "" {
		e.PasswordField = "txtSifre"
	}
	if e.OtpCodeField == "" {
		e.OtpCodeField = "txtGuvenlikKodu"
	}
	if e.ErrorLabelSelector == "" {
		e.ErrorLabelSelector = "#lblHata"
	}
	if e.OtpPromptSelector == "" {
		e.OtpPromptSelector = "#lblDogrulama"
	}
	if e.SessionOwnerSelector == "" {
		e.SessionOwnerSelector = "#lblKullanici"
	}
	return e
}

type Client struct {
	Endpoints Endpoints
	BaseUrl   *url.URL
	Http      *resty.Client

	jar *cookiejar.Jar
	// hidden fields of a pending verification-code form, replayed by
	// SubmitOneTimeCode
	otpForm map[string]string
}

type ClientOptions struct {
	Endpoints Endpoints
	// restores a previously exported session when non-empty
	CookieBlob []byte
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	endpoints := opts.Endpoints.withDefaults()

	baseUrl, err := url.Parse(endpoints.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(endpoints.BaseUrl)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if len(opts.CookieBlob) > 0 {
		err = importCookies(jar, baseUrl, opts.CookieBlob)
		if err != nil {
			return nil, err
		}
	}
	client.SetCookieJar(jar)

	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)

	// the login flow inspects Location headers by hand, redirects are
	// never followed automatically
	client.GetClient().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	// 2 requests max per second against the portal, max burst >= 2 just
	// means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "portal/http")

	return &Client{
		Endpoints: endpoints,
		BaseUrl:   baseUrl,
		Http:      client,
		jar:       jar,
	}, nil
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExportCookies serializes the portal cookies of this client's jar into an
// opaque blob suitable for the cookie store.
func (c *Client) ExportCookies() ([]byte, error) {
	cookies := c.jar.Cookies(c.BaseUrl)
	stored := make([]storedCookie, len(cookies))
	for i, cookie := range cookies {
		stored[i] = storedCookie{Name: cookie.Name, Value: cookie.Value}
	}
	return json.Marshal(stored)
}

func importCookies(jar *cookiejar.Jar, baseUrl *url.URL, blob []byte) error {
	var stored []storedCookie
	err := json.Unmarshal(blob, &stored)
	if err != nil {
		return fmt.Errorf("restore cookie blob: %w", err)
	}

	cookies := make([]*http.Cookie, len(stored))
	for i, cookie := range stored {
		cookies[i] = &http.Cookie{
			Name:  cookie.Name,
			Value: cookie.Value,
			Path:  "/",
		}
	}
	jar.SetCookies(baseUrl, cookies)
	return nil
}

func IsRedirect(status int) bool {
	return status == http.StatusMovedPermanently ||
		status == http.StatusFound ||
		status == http.StatusSeeOther ||
		status == http.StatusTemporaryRedirect
}
