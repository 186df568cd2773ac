// web/embed.go
package web

import "embed"

// Assets 页面模板和静态资源
//
//go:embed templates static
var Assets embed.FS
