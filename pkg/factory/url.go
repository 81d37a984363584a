package factory

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"digital.vasic.vfs/pkg/client"
)

// ParseURL maps an address of the form scheme://[user[:pass]@]host[:port]/path
// onto a storage configuration and the path inside that storage. Addresses
// without a scheme are local paths. Query parameters become settings.
func ParseURL(raw string) (*client.StorageConfig, string, error) {
	if !strings.Contains(raw, "://") {
		return parseLocal(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse address %s: %w", raw, err)
	}

	settings := make(map[string]interface{})
	for key, values := range u.Query() {
		if len(values) > 0 {
			settings[key] = values[len(values)-1]
		}
	}
	if u.User != nil {
		settings["username"] = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			settings["password"] = pass
		}
	}
	if host := u.Hostname(); host != "" {
		settings["host"] = host
	}
	if port := u.Port(); port != "" {
		settings["port"] = port
	}

	filePath := u.Path
	if filePath == "" {
		filePath = "/"
	}

	config := &client.StorageConfig{
		Name:     u.Host,
		Enabled:  true,
		Settings: settings,
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "file":
		return parseLocal(u.Path)

	case "smb":
		share, rest := splitFirst(strings.TrimPrefix(filePath, "/"))
		if share == "" {
			return nil, "", fmt.Errorf("smb address %s has no share", raw)
		}
		config.Protocol = "smb"
		settings["share"] = share
		filePath = "/" + rest

	case "ftp", "sftp":
		config.Protocol = scheme
		if _, ok := settings["path"]; !ok {
			settings["path"] = "/"
		}

	case "http", "https", "webdav", "webdavs":
		config.Protocol = "webdav"
		httpScheme := "http"
		if scheme == "https" || scheme == "webdavs" {
			httpScheme = "https"
		}
		settings["url"] = (&url.URL{Scheme: httpScheme, Host: u.Host}).String()
		delete(settings, "host")
		delete(settings, "port")

	case "nfs":
		export, ok := settings["export"].(string)
		if !ok {
			// nfs://host/export/dir addresses the root of the export "/export"
			var rest string
			export, rest = splitFirst(strings.TrimPrefix(filePath, "/"))
			export = "/" + export
			filePath = "/" + rest
		}
		config.Protocol = "nfs"
		settings["path"] = export

	case "memory", "mem":
		config.Protocol = "memory"
		config.Name = u.Host
		settings["name"] = u.Host
		delete(settings, "host")

	default:
		return nil, "", fmt.Errorf("unsupported protocol: %s", u.Scheme)
	}

	return config, filePath, nil
}

func parseLocal(p string) (*client.StorageConfig, string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve local path %s: %w", p, err)
	}
	config := &client.StorageConfig{
		Name:     "local",
		Protocol: "local",
		Enabled:  true,
		Settings: map[string]interface{}{
			"base_path": string(filepath.Separator),
		},
	}
	return config, filepath.ToSlash(abs), nil
}

func splitFirst(p string) (string, string) {
	first, rest, _ := strings.Cut(p, "/")
	return first, rest
}
