package portaltest

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Grid registers the candidate listing page on the fake portal. Row
// fixtures are keyed by "period/status"; a missing key renders no results
// table for that pair.
type Grid struct {
	server *Server
	Rows   map[string][][3]string

	// revoke all sessions right before handling the Nth POST (1-based)
	KillAt int
	// revoke all sessions before every POST
	KillEvery bool
	// pairs that answer with a 200 and an empty body
	Broken map[string]bool

	mu sync.Mutex
	// successful filter submissions in arrival order, as "period/status"
	posts    []string
	postSeen int
}

func NewGrid(server *Server) *Grid {
	g := &Grid{
		server: server,
		Rows:   DefaultRows(),
		Broken: map[string]bool{},
	}
	server.Mux.HandleFunc("/adaylistesi.aspx", g.handle)
	return g
}

// DefaultRows is two real periods of candidates across three statuses,
// nine rows total, with the "20261/3" pair deliberately empty.
func DefaultRows() map[string][][3]string {
	return map[string][][3]string{
		"20261/1": {
			{"/foto/101.jpg", "Ayşe Yılmaz", "11111111111"},
			{"/foto/102.jpg", "Mehmet Demir", "22222222222"},
		},
		"20261/2": {
			{"/foto/103.jpg", "Fatma Kaya", "33333333333"},
		},
		"20262/1": {
			{"/foto/201.jpg", "Ali Çelik", "44444444444"},
			{"/foto/202.jpg", "Zeynep Şahin", "55555555555"},
			{"/foto/203.jpg", "Hasan Aydın", "66666666666"},
		},
		"20262/2": {
			{"/foto/204.jpg", "Elif Arslan", "77777777777"},
		},
		"20262/3": {
			{"/foto/205.jpg", "Murat Koç", "88888888888"},
			{"/foto/206.jpg", "Emine Öztürk", "99999999999"},
		},
	}
}

// PostLog returns the filter submissions the grid has served so far.
func (g *Grid) PostLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.posts...)
}

func (g *Grid) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		g.mu.Lock()
		g.postSeen++
		kill := g.KillEvery || g.postSeen == g.KillAt
		g.mu.Unlock()
		if kill {
			g.server.RevokeSessions()
		}
	}
	if !g.server.Authed(r) {
		w.Header().Set("Location", "/default.aspx")
		w.WriteHeader(http.StatusFound)
		return
	}

	if r.Method == http.MethodGet {
		g.render(w, "", "")
		return
	}

	if r.FormValue("__VIEWSTATE") != Viewstate {
		http.Error(w, "viewstate mismatch", http.StatusInternalServerError)
		return
	}

	pair := r.FormValue("ddlDonem") + "/" + r.FormValue("ddlDurum")
	g.mu.Lock()
	g.posts = append(g.posts, pair)
	broken := g.Broken[pair]
	g.mu.Unlock()

	if broken {
		return
	}
	g.render(w, r.FormValue("ddlDonem"), r.FormValue("ddlDurum"))
}

func (g *Grid) render(w io.Writer, period, status string) {
	fmt.Fprintf(w, `<html><body>
		<form id="form1" action="/adaylistesi.aspx" method="post">
			<input type="hidden" name="__VIEWSTATE" value="%s" />
			<select id="ddlDonem" name="ddlDonem">
				<option value="0">Seçiniz</option>
				<option value="20261">2026 / 1. Dönem</option>
				<option value="20262">2026 / 2. Dönem</option>
			</select>
			<select id="ddlDurum" name="ddlDurum">
				<option value="1">Sınava Girecek</option>
				<option value="2">Sınavı Kazandı</option>
				<option value="3">Belge Aldı</option>
			</select>
		</form>
		<span id="lblKullanici">ÖZEL SÜRÜCÜ KURSU 1234</span>`, Viewstate)

	rows := g.Rows[period+"/"+status]
	if period != "" && len(rows) > 0 {
		fmt.Fprint(w, `<table id="dgAdaylar">
			<tr><th>Fotoğraf</th><th>Öğrenci Adı</th><th>T.C. Kimlik No</th></tr>`)
		for _, row := range rows {
			fmt.Fprintf(
				w,
				`<tr><td><img src=%q /></td><td>%s</td><td>%s</td></tr>`,
				row[0], row[1], row[2],
			)
		}
		fmt.Fprint(w, `</table>`)
	}
	fmt.Fprint(w, `</body></html>`)
}
