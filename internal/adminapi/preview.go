package adminapi

import (
	"html/template"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/filegate/filegate/internal/authz"
)

const maxPreviewBytes = 512 * 1024

// GET /api/preview?listenerId=&userId=&vp=&theme=
// Returns syntax-highlighted HTML for a text file, resolved through the
// Authorizer exactly like an OpenRead would be for SFTP/FTP, so the GUI's
// preview pane can never see a file the user isn't authorized to read.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vp := q.Get("vp")
	if vp == "" {
		writeError(w, http.StatusBadRequest, "vp is required")
		return
	}
	listenerIDStr := q.Get("listenerId")
	if listenerIDStr == "" {
		writeError(w, http.StatusBadRequest, "listenerId is required")
		return
	}
	listenerID, ok := parseUintQuery(listenerIDStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listenerId")
		return
	}
	userIDStr := q.Get("userId")
	userID, ok := parseUintQuery(userIDStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	principal := authz.Principal{UserID: userID}

	localPath, err := s.Authorizer.Decide(principal, listenerID, authz.OpenRead, vp)
	if err != nil {
		if aerr, ok := authz.AsError(err); ok {
			writeError(w, aerr.Kind.ToFTPStatus(), aerr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f, err := openForPreview(localPath)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxPreviewBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	highlighted, err := highlightCode(string(content), vp, q.Get("theme"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"html": highlighted})
}

// highlightCode applies syntax highlighting to code, adapted from
// umputun/weblist/server/file_ops.go#highlightCode: the GUI embeds the
// returned HTML in its own preview pane instead of a server-rendered page.
func highlightCode(code, filename, theme string) (string, error) {
	lexer := lexers.Get(filename)
	if lexer == nil {
		lexer = lexers.Analyse(code)
		if lexer == nil {
			return plainPreview(code), nil
		}
	}

	var style *chroma.Style
	if theme == "dark" {
		style = styles.Get("monokai")
	} else {
		style = styles.Get("github")
	}

	formatter := html.New(html.WithClasses(true))

	var buf strings.Builder
	buf.WriteString(`<div class="highlight-wrapper">`)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plainPreview(code), err
	}
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return plainPreview(code), err
	}
	buf.WriteString("</div>")
	return buf.String(), nil
}

func plainPreview(code string) string {
	return `<div class="highlight-wrapper"><pre class="chroma">` + template.HTMLEscapeString(code) + `</pre></div>`
}

func openForPreview(localPath string) (*os.File, error) {
	return os.Open(localPath)
}

func parseUintQuery(v string) (uint64, bool) {
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}
