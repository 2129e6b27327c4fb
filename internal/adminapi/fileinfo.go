package adminapi

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// fileInfoView is the JSON shape the GUI's directory browser renders,
// adapted from umputun/weblist/server/fileinfo.go#FileInfo: the same
// size/content-type classification, now served as JSON instead of
// driving an html/template directory listing.
type fileInfoView struct {
	Name         string    `json:"name"`
	IsDir        bool      `json:"isDir"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"sizeHuman"`
	LastModified time.Time `json:"lastModified"`
	Path         string    `json:"path"`
	MIMEType     string    `json:"mimeType"`
	IsViewable   bool      `json:"isViewable"`
}

func newFileInfoView(virtualPath string, info os.FileInfo) fileInfoView {
	v := fileInfoView{
		Name:         info.Name(),
		IsDir:        info.IsDir(),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Path:         virtualPath,
	}
	v.SizeHuman = sizeToString(v)
	ct := determineContentType(v.Name)
	v.MIMEType = ct.mimeType
	v.IsViewable = !v.IsDir && ct.isText
	return v
}

func sizeToString(v fileInfoView) string {
	if v.IsDir {
		return "-"
	}
	if v.Size < 0 {
		return "0B"
	}
	return humanize.Bytes(uint64(v.Size))
}

type contentTypeInfo struct {
	mimeType string
	isText   bool
}

var commonTextExtensions = func() map[string]bool {
	exts := []string{
		"txt", "text", "log", "csv", "json", "xml", "css", "scss", "less",
		"js", "jsx", "ts", "tsx", "go", "py", "java", "c", "cpp", "h", "hpp", "rb",
		"php", "swift", "pl", "sh", "bash", "zsh", "yaml", "yml", "toml", "ini", "conf",
		"md", "markdown", "rst", "sql", "rs", "diff", "patch", "properties", "cfg",
	}
	res := make(map[string]bool, len(exts))
	for _, ext := range exts {
		res[strings.ToLower("."+ext)] = true
	}
	return res
}()

func isTextLikeMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") ||
		strings.HasPrefix(mimeType, "application/json") ||
		strings.HasPrefix(mimeType, "application/xml") ||
		strings.Contains(mimeType, "html")
}

func determineContentType(name string) contentTypeInfo {
	ext := strings.ToLower(filepath.Ext(name))
	var mimeType string
	switch {
	case commonTextExtensions[ext]:
		mimeType = "text/plain"
	default:
		mimeType = mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}
	return contentTypeInfo{
		mimeType: mimeType,
		isText:   isTextLikeMIME(mimeType) || commonTextExtensions[ext],
	}
}
