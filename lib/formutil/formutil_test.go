package formutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const fixturePage = `
<html><body>
<form id="empty-form" action="/noop"></form>
<form id="login" action="/login" method="post">
	<input type="hidden" name="__VIEWSTATE" value="dDwtMTYxNjY4" />
	<input type="hidden" name="__EVENTVALIDATION" value="ev123" />
	<input type="text" name="txtKullanici" />
	<input type="password" name="txtSifre" value="" />
	<input type="submit" value="no name, skipped" />
</form>
<select name="ddlDonem" id="ddlDonem">
	<option value="0">Seçiniz</option>
	<option value="2026-1">2026 / 1. Dönem</option>
	<option value="2026-2">2026 / 2. Dönem</option>
</select>
<select name="ddlDurum" id="ddlDurum">
	<option value="SINAVA_GIRECEK">Sınava Girecek</option>
</select>
</body></html>`

func TestFieldsFirstNonEmptyForm(t *testing.T) {
	fields, err := Fields([]byte(fixturePage), "")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"__VIEWSTATE":       "dDwtMTYxNjY4",
		"__EVENTVALIDATION": "ev123",
		"txtKullanici":      "",
		"txtSifre":          "",
	}, fields)
}

func TestFieldsNoFormFound(t *testing.T) {
	fields, err := Fields([]byte("<html><body><p>hello</p></body></html>"), "")
	require.NoError(t, err)
	require.Empty(t, fields)
}

func TestFieldsEmptyBody(t *testing.T) {
	_, err := Fields(nil, "")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	_, err = Fields([]byte("   \n"), "")
	require.ErrorAs(t, err, &parseErr)
}

func TestOptions(t *testing.T) {
	options, err := Options([]byte(fixturePage), "select#ddlDonem")
	require.NoError(t, err)
	require.Equal(t, []Option{
		{Value: "0", Label: "Seçiniz"},
		{Value: "2026-1", Label: "2026 / 1. Dönem"},
		{Value: "2026-2", Label: "2026 / 2. Dönem"},
	}, options)
}

func TestOptionsMissingElement(t *testing.T) {
	options, err := Options([]byte(fixturePage), "select#ddlYok")
	require.NoError(t, err)
	require.Nil(t, options)
}
