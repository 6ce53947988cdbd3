package api

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/rlanders/imagewell/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// assetPaths holds cache-busted asset URLs for the index page.
type assetPaths struct {
	CSS string
	JS  string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Imagewell</title>
<link rel="stylesheet" href="{{.CSS}}">
</head>
<body>
<header class="topbar">
  <form id="search-form" autocomplete="off">
    <input id="search-input" type="search" placeholder="Search images" aria-label="Search images">
    <button type="submit">Search</button>
  </form>
  <p id="search-status" role="status"></p>
</header>
<main>
  <div id="grid" class="grid"></div>
  <div id="sentinel" aria-hidden="true"></div>
</main>
<div id="lightbox" class="lightbox hidden">
  <button id="lightbox-close" aria-label="Close">&times;</button>
  <img id="lightbox-img" alt="">
  <p id="lightbox-title"></p>
</div>
<script src="{{.JS}}"></script>
</body>
</html>
`))

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, assetPaths{
		CSS: r.basePath + r.staticAssets.Path("/css/styles.css"),
		JS:  r.basePath + r.staticAssets.Path("/js/app.js"),
	})
	if err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
