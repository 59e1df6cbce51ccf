// Package proxyconf renders per-domain reverse-proxy configuration.
// Rendering is pure; installing and reloading live in the shell.
package proxyconf

import (
	"fmt"
	"path/filepath"
	"strings"
)

// vhostTemplate is the fixed nginx server block for one deployment.
// The upstream is always the loopback interface: containers publish
// their port on 127.0.0.1 and only the proxy is publicly reachable.
const vhostTemplate = `server {
    listen 80;
    server_name {{DOMAIN}};

    location / {
        proxy_pass http://127.0.0.1:{{PORT}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Host $host;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`

// Render substitutes the domain and host port into the vhost template.
func Render(domain string, hostPort int) string {
	text := strings.ReplaceAll(vhostTemplate, "{{DOMAIN}}", domain)
	return strings.ReplaceAll(text, "{{PORT}}", fmt.Sprintf("%d", hostPort))
}

// SitePath derives the config file path for a domain deterministically,
// so a redeploy overwrites the previous vhost instead of stacking a
// duplicate.
func SitePath(sitesDir, domain string) string {
	return filepath.Join(sitesDir, domain+".conf")
}
