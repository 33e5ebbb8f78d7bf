// Package portaltest runs a fake MTSK portal for tests: a cookie-based
// login flow, the relay page with its token iframe, an authenticated
// home page, and (via NewGrid) the candidate listing page.
package portaltest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
)

const Viewstate = "dDwtNTM0MDU5"

type Server struct {
	Mux  *http.ServeMux
	HTTP *httptest.Server

	Username string
	Password string
	Token    string
	// shown in the error label when credentials are rejected
	ErrorLabel string

	// when set, accepted credentials land on a verification-code page
	// instead of the relay redirect
	RequireCode bool
	Code        string
	CodePrompt  string

	mu         sync.Mutex
	sessions   map[string]bool
	nextId     int
	loginCount int
	homeCount  int
}

func New(t testing.TB) *Server {
	s := &Server{
		Mux:        http.NewServeMux(),
		Username:   "kurs_user",
		Password:   "kurs_pass",
		Token:      "ABC123",
		ErrorLabel: "Kullanıcı adı veya şifre hatalı!",
		Code:       "123456",
		CodePrompt: "Telefonunuza gönderilen doğrulama kodunu giriniz.",
		sessions:   map[string]bool{},
	}

	s.Mux.HandleFunc("/default.aspx", s.handleLogin)
	s.Mux.HandleFunc("/relay.aspx", s.handleRelay)
	s.Mux.HandleFunc("/anasayfa.aspx", s.handleHome)

	s.HTTP = httptest.NewServer(s.Mux)
	t.Cleanup(s.HTTP.Close)
	return s
}

func (s *Server) Endpoints() portal.Endpoints {
	return portal.Endpoints{BaseUrl: s.HTTP.URL}
}

// LoginCount reports how many credential POSTs the server has seen.
func (s *Server) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCount
}

// HomeCount reports how many session probes hit the home page.
func (s *Server) HomeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeCount
}

// Authed reports whether the request carries a live session cookie.
func (s *Server) Authed(r *http.Request) bool {
	cookie, err := r.Cookie("ASP.NET_SessionId")
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[cookie.Value]
}

// RevokeSessions kills every live session, simulating the portal
// dropping a session mid-scrape.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		s.sessions[id] = false
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprintf(w, `<html><body>
			<form id="form1" action="/default.aspx" method="post">
				<input type="hidden" name="__VIEWSTATE" value="%s" />
				<input type="text" name="txtKullanici" />
				<input type="password" name="txtSifre" />
			</form>
		</body></html>`, Viewstate)
		return
	}

	// the hidden defaults must be echoed back, like the real portal the
	// fake refuses form posts that dropped them
	if r.FormValue("__VIEWSTATE") != Viewstate {
		http.Error(w, "viewstate mismatch", http.StatusInternalServerError)
		return
	}

	if _, ok := r.PostForm["txtGuvenlikKodu"]; ok {
		if r.PostFormValue("txtGuvenlikKodu") != s.Code {
			fmt.Fprintf(w, `<html><body>
				<form id="form1" action="/default.aspx" method="post">
					<input type="hidden" name="__VIEWSTATE" value="%s" />
					<input type="text" name="txtGuvenlikKodu" />
				</form>
				<span id="lblHata">Doğrulama kodu hatalı!</span>
			</body></html>`, Viewstate)
			return
		}
		s.grantSession(w)
		return
	}

	s.mu.Lock()
	s.loginCount++
	s.mu.Unlock()

	if r.FormValue("txtKullanici") != s.Username || r.FormValue("txtSifre") != s.Password {
		fmt.Fprintf(w, `<html><body>
			<form id="form1" action="/default.aspx" method="post">
				<input type="hidden" name="__VIEWSTATE" value="%s" />
			</form>
			<span id="lblHata">%s</span>
		</body></html>`, Viewstate, s.ErrorLabel)
		return
	}

	if s.RequireCode {
		fmt.Fprintf(w, `<html><body>
			<form id="form1" action="/default.aspx" method="post">
				<input type="hidden" name="__VIEWSTATE" value="%s" />
				<input type="text" name="txtGuvenlikKodu" />
			</form>
			<span id="lblDogrulama">%s</span>
		</body></html>`, Viewstate, s.CodePrompt)
		return
	}
	s.grantSession(w)
}

func (s *Server) grantSession(w http.ResponseWriter) {
	s.mu.Lock()
	s.nextId++
	session := fmt.Sprintf("session-%d", s.nextId)
	s.sessions[session] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: session, Path: "/"})
	w.Header().Set("Location", "/relay.aspx")
	w.WriteHeader(http.StatusFound)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if !s.Authed(r) {
		w.Header().Set("Location", "/default.aspx")
		w.WriteHeader(http.StatusFound)
		return
	}
	fmt.Fprintf(w, `<html><body>
		<iframe src="/mesaj/online.aspx?kurum=1234&token=%s"></iframe>
	</body></html>`, s.Token)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.homeCount++
	s.mu.Unlock()

	if !s.Authed(r) {
		w.Header().Set("Location", "/default.aspx")
		w.WriteHeader(http.StatusFound)
		return
	}
	fmt.Fprint(w, `<html><body>
		<span id="lblKullanici">ÖZEL SÜRÜCÜ KURSU 1234</span>
	</body></html>`)
}
